package graph

import (
	"sort"
	"sync"
)

// Store holds the live set of nodes and edges. It is the only owner of their lifetime.
// Preconditions are checked by the caller; the store only performs lookups and writes.
type Store struct {
	mu      sync.RWMutex
	nodes   map[int]Node
	edges   []Edge
	nextSeq uint64
}

// NewStore creates an empty graph store.
func NewStore() *Store {
	return &Store{
		nodes: make(map[int]Node),
		edges: make([]Edge, 0),
	}
}

// Node looks up a node by id.
func (s *Store) Node(id int) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// UpsertNode inserts the node, replacing any node with the same id.
// It reports whether an existing node was overwritten.
func (s *Store) UpsertNode(n Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.nodes[n.ID]
	s.nodes[n.ID] = n
	return existed
}

// RemoveNode deletes the node with the given id. Edges are left untouched.
func (s *Store) RemoveNode(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return false
	}
	delete(s.nodes, id)
	return true
}

// AddEdge appends an edge and returns it with its sequence assigned.
func (s *Store) AddEdge(e Edge) Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	e.Seq = s.nextSeq
	s.edges = append(s.edges, e)
	return e
}

// Edges returns the edges matching filter in insertion order.
// A nil filter returns every edge.
func (s *Store) Edges(filter func(Edge) bool) []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Edge
	for _, e := range s.edges {
		if filter == nil || filter(e) {
			out = append(out, e)
		}
	}
	return out
}

// RemoveEdge deletes the edge with the given sequence number.
func (s *Store) RemoveEdge(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.edges {
		if e.Seq == seq {
			s.edges = append(s.edges[:i], s.edges[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of nodes and edges.
func (s *Store) Len() (nodes, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), len(s.edges)
}

// Snapshot returns a copy of the graph with nodes ordered by id.
func (s *Store) Snapshot() *Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := &Graph{
		Nodes: make([]Node, 0, len(s.nodes)),
		Edges: make([]Edge, len(s.edges)),
	}
	for _, n := range s.nodes {
		g.Nodes = append(g.Nodes, n)
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	copy(g.Edges, s.edges)
	return g
}
