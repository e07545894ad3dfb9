/*
Package sequence implements persisted monotonic counters.

A Sequence lives in a single page of its own file: current value,
bounds, step, cycle and get-max flags under a versioned header. Next
advances by the step and persists; at the maximum a cycling sequence
wraps to its minimum while a non-cycling one raises IntegerOverflow and
leaves the stored value untouched. NextValue reconciles the counter to
at least a given value, the path used for replay and get-max columns.

Sequences substantiate lazily: the file is not created until the first
allocation, so a column that is defined but never populated costs no
I/O. Verify checks the stored value covers every assigned id, and the
Correct treatment raises a low value in place.
*/
package sequence
