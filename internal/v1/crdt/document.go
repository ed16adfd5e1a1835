package crdt

import (
	"encoding/json"
	"fmt"
)

// Document is the per-room CRDT handle. It holds one well-known text field,
// named "code" per the fallback-text convention, backed by an RGA. Update
// blobs are a JSON-encoded batch of RGANode operations; state blobs are a
// JSON-encoded full node snapshot. Both are treated as opaque by callers
// outside this package.
type Document struct {
	code *RGA
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{code: NewRGA()}
}

// update is the wire representation of one RGA operation inside a blob.
type update struct {
	ID          RGANodeID `json:"id"`
	InsertAfter RGANodeID `json:"after"`
	Char        rune      `json:"char"`
	Deleted     bool      `json:"deleted"`
}

func toUpdate(n RGANode) update {
	return update{ID: n.ID, InsertAfter: n.InsertAfter, Char: n.Char, Deleted: n.Deleted}
}

func (u update) toNode() RGANode {
	return RGANode{ID: u.ID, InsertAfter: u.InsertAfter, Char: u.Char, Deleted: u.Deleted}
}

// InsertText inserts text locally after afterID (zero value for the start
// of the document), attributing each new node to nodeID. It returns an
// update blob encoding every node produced, ready to broadcast and to feed
// into another Document's Merge.
func (d *Document) InsertText(afterID RGANodeID, text string, nodeID string) ([]byte, RGANodeID, error) {
	prev := afterID
	ops := make([]update, 0, len(text))
	for _, ch := range text {
		node := d.code.Insert(prev, ch, nodeID)
		ops = append(ops, toUpdate(node))
		prev = node.ID
	}
	blob, err := json.Marshal(ops)
	if err != nil {
		return nil, zeroID, fmt.Errorf("encode insert update: %w", err)
	}
	return blob, prev, nil
}

// DeleteRange tombstones the nodes with the given IDs and returns an update
// blob encoding the deletions.
func (d *Document) DeleteRange(ids []RGANodeID) ([]byte, error) {
	ops := make([]update, 0, len(ids))
	for _, id := range ids {
		d.code.Delete(id)
		ops = append(ops, update{ID: id, Deleted: true})
	}
	blob, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("encode delete update: %w", err)
	}
	return blob, nil
}

// Merge applies a remote update blob. A malformed blob is reported as an
// error; the caller (RoomActor) treats this as a protocol error for the
// originating session and does not apply any partial state from it.
func (d *Document) Merge(blob []byte) error {
	var ops []update
	if err := json.Unmarshal(blob, &ops); err != nil {
		return fmt.Errorf("decode crdt update: %w", err)
	}
	for _, op := range ops {
		d.code.Apply(op.toNode())
	}
	return nil
}

// EncodeState returns the full document state as an opaque byte string.
// Reloading it with LoadState yields a document whose state equals the
// original, byte-for-byte round trip through the Document Store.
func (d *Document) EncodeState() ([]byte, error) {
	snapshot := d.code.Snapshot()
	ops := make([]update, len(snapshot))
	for i, n := range snapshot {
		ops[i] = toUpdate(n)
	}
	blob, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("encode document state: %w", err)
	}
	return blob, nil
}

// LoadState replaces the document's content with a previously encoded
// state blob.
func LoadState(blob []byte) (*Document, error) {
	var ops []update
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &ops); err != nil {
			return nil, fmt.Errorf("decode document state: %w", err)
		}
	}
	nodes := make([]RGANode, len(ops))
	for i, op := range ops {
		nodes[i] = op.toNode()
	}
	doc := NewDocument()
	doc.code.LoadSnapshot(nodes)
	return doc, nil
}

// TextProjection reads the well-known "code" text field for fallback
// consumers that want plain text rather than the CRDT state.
func (d *Document) TextProjection() string {
	return d.code.Text()
}
