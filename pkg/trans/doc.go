/*
Package trans implements transactions over the lock manager.

A Transaction combines an id, a category (read-only or read-write), an
isolation level, a snapshot version captured at begin, a lock client,
and a cancel flag polled by executor actions. Scheduling is strict
two-phase: locks accumulate during the transaction and are released at
commit or abort. Commit also persists registered participants (sequences)
and, for updaters, advances the manager's commit version; readers in
non-update transactions keep reading at their snapshot.

Read-uncommitted transactions bypass versioning entirely (IsNoVersion);
index drivers then consult the manager's page tracker before trusting a
page image another transaction may be mutating.

Sequence values handed out before an abort are not reclaimed; gaps are
allowed on rollback.
*/
package trans
