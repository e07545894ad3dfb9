/*
Package vfile implements Quarry's physical page files.

A File is a page-structured on-disk file: page 0 carries a versioned
header recording the page size, and every page ends with a checksum
trailer maintained by this layer, so reads verify integrity and Verify
sweeps the whole file. All multi-byte integers are little-endian.

Files follow a mount state machine: page I/O requires a mounted file, and
Mount/Unmount are idempotent. Move renames the file on disk while
preserving open state. Sync uses fdatasync where the platform provides
it.
*/
package vfile
