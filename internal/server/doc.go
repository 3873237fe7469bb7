// Package server hosts the Fiber HTTP service and the glue the CLI needs to
// start it: the request-ID middleware, the shared origin HTTP client and the
// storage bootstrap that picks a cache backend from config. Requests under
// /-/ are left to diagnostics routes; everything else goes to the injected
// ProxyHandler.
package server
