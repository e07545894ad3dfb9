/*
Package cfile implements composite logical files.

A Composite presents several sub-files as one: index drivers whose
segments live in multiple containers (a full-text index's dictionary,
posting lists and state file) expose a single lifecycle surface. Every
operation — create, mount, open, backup brackets, recover, and the rest
— applies to all sub-files in order, and a failure at step k undoes
steps 0..k-1 in reverse so the operation is atomic. If the undo itself
fails, the composite is marked unavailable and the caller sees the
original error, never the rollback error.

Lifecycle methods are idempotent with respect to state transitions:
mounting a mounted composite is a no-op, as is unmounting an unmounted
one. Recover removes an empty on-disk directory when nothing accessible
remains.
*/
package cfile
