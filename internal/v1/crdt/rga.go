// Package crdt implements the document CRDT that RoomActor treats as an
// opaque, mergeable byte string. The algorithm is a Replicated Growable
// Array (RGA): a linked sequence of tombstoned character nodes ordered so
// that concurrent inserts at the same position converge on the same total
// order regardless of arrival sequence.
package crdt

import (
	"sync"
)

// RGANodeID uniquely identifies an RGA node globally: a per-originator
// sequence number paired with the originating node's identity.
type RGANodeID struct {
	Seq    uint64
	NodeID string
}

// zeroID is the sentinel "no predecessor" identity, used to insert at the
// very start of the sequence.
var zeroID = RGANodeID{}

// RGANode is one character in the RGA linked array.
type RGANode struct {
	ID          RGANodeID
	InsertAfter RGANodeID
	Char        rune
	Deleted     bool
}

// precedes reports whether a sorts before b among siblings that share the
// same InsertAfter: higher Seq first, ties broken by NodeID ascending.
func precedes(a, b RGANodeID) bool {
	if a.Seq != b.Seq {
		return a.Seq > b.Seq
	}
	return a.NodeID < b.NodeID
}

// RGA is a Replicated Growable Array for collaborative text editing. Nodes
// are kept in a single slice in document order; index tracks each node's
// current slice position for O(1) lookups by ID.
type RGA struct {
	mu    sync.RWMutex
	nodes []RGANode
	index map[RGANodeID]int
	seqNo uint64
}

// NewRGA creates an empty RGA.
func NewRGA() *RGA {
	return &RGA{index: make(map[RGANodeID]int)}
}

// reindexFrom rebuilds index entries for nodes at or after pos, after a
// slice mutation shifted their positions.
func (r *RGA) reindexFrom(pos int) {
	for i := pos; i < len(r.nodes); i++ {
		r.index[r.nodes[i].ID] = i
	}
}

// insertAt inserts node into the sequence immediately after the node
// identified by node.InsertAfter, skipping past every following node that
// has priority over it under the total order (higher-priority siblings and
// everything inserted after them). Returns false if
// InsertAfter names a node this RGA has never seen (caller should buffer
// and retry once the dependency arrives, or reject the update).
func (r *RGA) insertAt(node RGANode) bool {
	pos := 0
	if node.InsertAfter != zeroID {
		idx, ok := r.index[node.InsertAfter]
		if !ok {
			return false
		}
		pos = idx + 1
	}

	for pos < len(r.nodes) && precedes(r.nodes[pos].ID, node.ID) {
		pos++
	}

	r.nodes = append(r.nodes, RGANode{})
	copy(r.nodes[pos+1:], r.nodes[pos:])
	r.nodes[pos] = node
	r.reindexFrom(pos)
	return true
}

// Insert inserts char locally after the node with afterID (zero value to
// insert at the beginning), assigning it the next local sequence number
// under nodeID. Returns the node so the caller can encode it into an
// update blob for peers.
func (r *RGA) Insert(afterID RGANodeID, char rune, nodeID string) RGANode {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seqNo++
	node := RGANode{
		ID:          RGANodeID{Seq: r.seqNo, NodeID: nodeID},
		InsertAfter: afterID,
		Char:        char,
	}
	r.insertAt(node)
	return node
}

// Delete marks the node with id as deleted (tombstone). A no-op if id is
// unknown or already deleted.
func (r *RGA) Delete(id RGANodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.index[id]; ok {
		r.nodes[idx].Deleted = true
	}
}

// Text returns the current document text, skipping tombstones.
func (r *RGA) Text() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runes := make([]rune, 0, len(r.nodes))
	for _, n := range r.nodes {
		if !n.Deleted {
			runes = append(runes, n.Char)
		}
	}
	return string(runes)
}

// Apply applies a remote operation: an insert if the node is new, or a
// tombstone if it already exists (or arrives with Deleted set). Applying
// the same operation twice is a no-op, so duplicate delivery is safe.
func (r *RGA) Apply(op RGANode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.index[op.ID]; ok {
		if op.Deleted {
			r.nodes[idx].Deleted = true
		}
		return true
	}

	if op.ID.Seq > r.seqNo {
		r.seqNo = op.ID.Seq
	}
	return r.insertAt(op)
}

// Snapshot returns a copy of all nodes (including tombstones) in document
// order, suitable for serialization by Document.EncodeState.
func (r *RGA) Snapshot() []RGANode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RGANode, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// LoadSnapshot replaces the RGA's state with nodes, which must already be
// in a valid document order (as produced by Snapshot). The local sequence
// counter is set to the maximum observed Seq so future local inserts don't
// collide with replayed history.
func (r *RGA) LoadSnapshot(nodes []RGANode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes = make([]RGANode, len(nodes))
	copy(r.nodes, nodes)
	r.index = make(map[RGANodeID]int, len(nodes))
	var maxSeq uint64
	for i, n := range r.nodes {
		r.index[n.ID] = i
		if n.ID.Seq > maxSeq {
			maxSeq = n.ID.Seq
		}
	}
	r.seqNo = maxSeq
}
