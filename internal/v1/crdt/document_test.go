package crdt

import "testing"

func TestDocumentInsertAndProjection(t *testing.T) {
	doc := NewDocument()

	blob, _, err := doc.InsertText(zeroID, "hello", "client-a")
	if err != nil {
		t.Fatalf("InsertText: %v", err)
	}
	if len(blob) == 0 {
		t.Fatal("expected a non-empty update blob")
	}
	if got := doc.TextProjection(); got != "hello" {
		t.Fatalf("TextProjection() = %q, want %q", got, "hello")
	}
}

func TestDocumentTwoClientsConverge(t *testing.T) {
	// Mirrors the "two clients converge" scenario: A inserts "hello", B
	// joins afterward via state load, extends to "hello world", and A
	// merges B's update.
	a := NewDocument()
	_, lastID, err := a.InsertText(zeroID, "hello", "client-a")
	if err != nil {
		t.Fatalf("InsertText: %v", err)
	}

	state, err := a.EncodeState()
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}

	b, err := LoadState(state)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got := b.TextProjection(); got != "hello" {
		t.Fatalf("b.TextProjection() = %q, want %q", got, "hello")
	}

	update, _, err := b.InsertText(lastID, " world", "client-b")
	if err != nil {
		t.Fatalf("InsertText: %v", err)
	}

	if err := a.Merge(update); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if got := a.TextProjection(); got != "hello world" {
		t.Fatalf("a.TextProjection() = %q, want %q", got, "hello world")
	}
}

func TestDocumentRoundTripSaveLoad(t *testing.T) {
	doc := NewDocument()
	if _, _, err := doc.InsertText(zeroID, "round trip", "client-a"); err != nil {
		t.Fatalf("InsertText: %v", err)
	}

	blobA, err := doc.EncodeState()
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}

	reloaded, err := LoadState(blobA)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	blobB, err := reloaded.EncodeState()
	if err != nil {
		t.Fatalf("EncodeState (reloaded): %v", err)
	}

	if string(blobA) != string(blobB) {
		t.Fatalf("round trip mismatch:\n a=%s\n b=%s", blobA, blobB)
	}
	if reloaded.TextProjection() != doc.TextProjection() {
		t.Fatalf("reloaded projection = %q, want %q", reloaded.TextProjection(), doc.TextProjection())
	}
}

func TestDocumentMergeRejectsMalformedBlob(t *testing.T) {
	doc := NewDocument()
	if err := doc.Merge([]byte("not json")); err == nil {
		t.Fatal("expected Merge to reject a malformed update blob")
	}
}

func TestDocumentDeleteRange(t *testing.T) {
	doc := NewDocument()
	_, _, err := doc.InsertText(zeroID, "abc", "client-a")
	if err != nil {
		t.Fatalf("InsertText: %v", err)
	}

	snapshot := doc.code.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(snapshot))
	}

	if _, err := doc.DeleteRange([]RGANodeID{snapshot[1].ID}); err != nil {
		t.Fatalf("DeleteRange: %v", err)
	}

	if got := doc.TextProjection(); got != "ac" {
		t.Fatalf("TextProjection() = %q, want %q", got, "ac")
	}
}
