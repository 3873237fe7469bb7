// Package worker implements the offline caching policy as three lifecycle
// handlers driven by the host process:
//
//   - Install pre-populates the cache named by the current version with the
//     site manifest, all or nothing.
//   - Activate deletes every cache whose name does not start with the current
//     version.
//   - Fetch answers GET requests cache-first while refreshing the cache from
//     the origin in the background, and falls back to a static 503 page when
//     neither cache nor origin can answer.
//
// The version string is injected through Options; nothing in this package
// keeps process-wide state.
package worker
