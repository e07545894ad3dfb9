// Package arridx implements the array index driver: one entry per array
// element across three trees sharing a single header page — element
// values with row ids, rows containing a null element, and rows whose
// whole array is null.
package arridx
