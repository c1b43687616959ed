// Package ratelimit implements the distributed admission controller for bulk
// import jobs: tier classification, the atomic check-and-reserve protocol on
// the shared Redis store, the per-user cooldown, and the crash-recovery path
// (expiry listener plus periodic sweeper) that reclaims leaked reservations.
package ratelimit
