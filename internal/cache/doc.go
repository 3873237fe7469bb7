// Package cache defines the named response store consumed by the worker
// lifecycle handlers. A Storage holds any number of named caches; each Cache
// maps a normalized request Key to a stored Response (status, headers, body).
// The filesystem backend in this package lays caches out as
// StoragePath/<escaped cache name>/<sha1(key)>.entry and writes through temp
// file + rename; the sqlite sub-package offers the same contract on a single
// database file. Caches are created lazily by Open and destroyed wholesale by
// Delete, never entry by entry.
package cache
