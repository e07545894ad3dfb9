/*
Package schema holds Quarry's catalog: object identity and persistent
object metadata.

Every persistent schema object has an ObjectID minted from a persisted
sequence. IDs are never reused within a database; MaxObjectID reserves a
band below the invalid sentinel for system objects, and catalog replay
reconciles the allocator to the highest id present before allocation
resumes.

Object metadata (databases, tables, columns, indexes) persists in a
BoltDB-backed Store; the page data those objects describe lives in the
index drivers' own files.

TupleID and Identity wrap sequences for row ids and IDENTITY columns.
The two treat explicit assignments differently, deliberately: a TupleID
always reconciles to an externally chosen row id, while an Identity
touches its sequence only when the column's get-max flag is set.
*/
package schema
