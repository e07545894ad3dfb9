/*
Package btree implements the B-tree index driver.

A File is a page-structured tree: a header page owning up to three
TreeHeaders (root, leftmost and rightmost leaf, entry and step counts)
plus a global tuple count, and node/leaf pages holding packed entries.
Entries are little-endian u32 arrays with an optional NULL-bitmap header
word and length-prefixed variable fields.

Compare is the value-typed comparator over those entries: a tuple of
field types with unique and has-header flags. NULL sorts before any
non-NULL value, and the integrity check treats any NULL among its
participating fields as "no violation". Non-unique indexes carry the row
id as the final field and compare real keys separately from full
entries; unique indexes enforce distinctness on the key fields and
report duplicates as user-level errors.

TreeHeader images are dumped by raw field copy with no dispatch bits and
a size that is a multiple of 4 bytes, keeping on-disk images portable
across word sizes.
*/
package btree
