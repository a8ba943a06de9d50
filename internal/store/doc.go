// Package store declares the persistence contracts shared by the activity
// log and the exported-note archive. Implementations live under
// internal/storage.
package store
