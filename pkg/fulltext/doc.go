/*
Package fulltext implements the inverted-index driver.

The driver is one logical file over three sub-files composed with
pkg/cfile: a term dictionary (B-tree mapping term to list id), the
page-backed posting lists, and a two-slot state file recording which
index side is current and whether a merge is in progress. Inserts land
in an in-memory buffer; a background merger folds buffered postings into
the list file, bracketed by the state file's proceeding mark so an
interrupted merge is visible at recovery.

ListIterator walks one posting list in ascending document order.
WhiteListIterator intersects a list with a set of permitted document
ids: Next yields exactly the list's documents that are members, in
order, and LowerBound advances list and set in turns until they agree —
each pass strictly advances one side, so termination is guaranteed, with
the set's trailing UndefinedDocID sentinel covering exhaustion. Find
deliberately skips the set; its only caller probes word boundaries after
a hit, when set filtering has already happened.
*/
package fulltext
