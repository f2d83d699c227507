// Package store defines interfaces for persisting task progress. Implementations
// live in other packages; this package must not import database drivers or
// concrete clients.
package store
