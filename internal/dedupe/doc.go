// Package dedupe provides a bounded, TTL-expiring set of recently-seen
// message ids used to suppress duplicate delivery across the push and
// catch-up paths.
package dedupe
