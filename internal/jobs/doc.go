// Package jobs runs admitted import jobs asynchronously on a bounded worker
// pool and tracks their status in the shared store.
package jobs
