// Package thread persists and manages threads: TTL-bound sessions that bind
// a caller to one cloned repository across several edit requests.
//
// On disk every thread owns one directory under the store root:
//
//	<root>/<threadId>/meta.json   metadata record (Meta)
//	<root>/<threadId>/repo/       working checkout
//
// Store handles persistence and expiry scans, Manager resolves a request to
// a new or resumed thread, Locker serializes requests per thread, and
// Sweeper runs expiry scans in the background.
package thread
