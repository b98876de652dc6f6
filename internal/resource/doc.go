// Package resource bounds the work of offline store jobs.
//
// A Controller couples two limits:
//
//   - Workers: a weighted semaphore capping how many partitions are copied
//     at once.
//   - IO: a token bucket (bytes per second) throttling the bytes those
//     workers read and write, so a partition build can share a disk with
//     running pipeline jobs.
//
// All methods are safe for concurrent use and a nil *Controller imposes no
// limits.
package resource
