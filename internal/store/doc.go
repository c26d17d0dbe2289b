// Package store defines the resumable record store used by the scraper.
// Implementations live in subpackages; this package must not import
// database drivers.
package store
