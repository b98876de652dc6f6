// Package fs provides the file-system seam used by the store.
//
// Production code uses [Default] ([LocalFS]). Tests wrap it in a [FaultyFS]
// to inject write, sync, read and rename failures into specific files, which
// is how the store's crash and short-read behavior is exercised.
//
// The package also owns the advisory writer lock ([Lock]) taken by every
// writable store open. Operations take no context: local file calls are not
// interruptible at the syscall level.
package fs
