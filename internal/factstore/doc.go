// Package factstore provides canonical identity for facts: templates, the fact
// hash table used for duplicate detection and existence checks, the named-fact
// index, and certainty factor recombination.
//
// # Identity
//
// Two facts are the same fact iff they share a template, the same goal flag,
// and slot-wise identical values (multifield slots compared element-wise). A
// leading certainty-factor slot never participates in identity: asserting a
// duplicate recombines certainty instead of creating a second fact.
//
// # Table sizing
//
// The fact table grows (size*2+1) whenever the live count exceeds the bucket
// count and shrinks only when it becomes empty, back to its initial size. It
// never shrinks otherwise, so alternating assert/retract traffic near a size
// boundary cannot oscillate.
//
// The named index resizes independently: grow when entries exceed twice the
// bucket count, halve when entries drop below half of it, collapse when empty.
//
// The store is not safe for concurrent use; the engine mutates it only from
// its single operation loop.
package factstore
