// Package dag provides a small arena-indexed directed graph used by the
// resource graph builder.
//
// Nodes are identified by strings but stored in a flat arena; all adjacency
// is expressed through integer indices, so traversal and cycle detection are
// allocation-free and the data structure itself cannot form ownership cycles
// regardless of what the logical graph looks like.
//
// The graph is not safe for concurrent mutation. The engine builds one graph
// per reconciliation pass, owned exclusively by that pass.
package dag
