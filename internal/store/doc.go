// Package store defines the record-store contract and the error taxonomy
// shared by every storage backend. Implementations live in other packages;
// this package must not import database drivers or concrete clients.
package store
