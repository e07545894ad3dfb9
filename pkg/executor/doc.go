/*
Package executor implements the iterator-tree interpreter.

A Program is a table of serializable nodes referenced by integer id —
iterators, per-row actions (predicates, projections, cancellation
polls), and row collections — with one iterator root per statement.
Initialize resolves every reference; the same program can then run
repeatedly with different placeholder parameters (prepared statements).

Every node declares a stable class id. Ids live in 100-wide bands, one
per submodule (Action 0, Collection 100, Interface 200, Iterator 300,
Operator 400, Predicate 500, Control 600, Function 700, Parallel 800);
bands are never reordered and additions append. Serialization walks
nodes in id order writing class id plus per-class payload, and
deserialization rebuilds instances through the registry, so
serialize/deserialize/serialize is byte-stable.

Two executors run programs: V1 drives each root as a relation tree
(initialize, next, terminate), V2 walks the flat iterator list with
start-up/next/finish phases, publishing rows to shared buffers between
calls. Parallel regions run on a worker pool sized by configuration; the
first error raised on any worker is re-raised after the join, with
user-level errors logged at Info and everything else at Error.

Cancellation is cooperative: CheckCancel polls the transaction's cancel
flag between rows and unwinds with Break. There are no forced
interrupts.
*/
package executor
