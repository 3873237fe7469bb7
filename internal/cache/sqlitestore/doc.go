// Package sqlitestore provides the named response cache backed by SQLite.
//
// Every cache is a row in the caches table; entries reference their cache and
// are removed together with it. The store only holds derived state that can be
// rebuilt from the origin by reinstalling.
package sqlitestore
