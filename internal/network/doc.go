// Package network holds the compiled matching network: per-template pattern
// trees, the join arena, the tagged-union tests that guard both, and the
// expression service those tests call.
//
// The network is a static graph. The engine mutates only runtime state that
// lives beside it (beta memories, alpha memories) and the transient flags on
// nodes (Initialize, Marked).
//
// ARENAS:
//
// Pattern nodes live in one arena per template (PatternTree) and are
// addressed by PatternID. Join nodes live in the Network's arena and are
// addressed by JoinID. Freed slots are reused, so an ID is only meaningful
// while the node is live.
//
// BUILDING:
//
// Builder turns a RuleDef into pattern chains and a join chain, sharing any
// prefix already present. Nodes it creates carry Initialize=true until the
// engine has primed them.
package network
