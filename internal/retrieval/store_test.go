package retrieval

import (
	"math"
	"testing"
	"time"

	"github.com/kalambet/obi/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening in-memory storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewSQLiteStore(s.DB())
}

func record(id, source string, embedding []float32) Record {
	return Record{
		ID:        id,
		Source:    source,
		TextChunk: "chunk for " + id,
		Embedding: embedding,
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestInsertAndCount(t *testing.T) {
	vs := newTestStore(t)

	if err := vs.Insert([]Record{
		record("a", "guide.md", []float32{1, 0, 0}),
		record("b", "guide.md", []float32{0, 1, 0}),
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	count, err := vs.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("Count = %d, want 2", count)
	}
}

func TestSearchOrdersByScore(t *testing.T) {
	vs := newTestStore(t)

	// Query along the x axis: "exact" should score 1.0, "close" below it,
	// "orthogonal" at 0.
	if err := vs.Insert([]Record{
		record("orthogonal", "a.md", []float32{0, 1, 0}),
		record("close", "a.md", []float32{1, 1, 0}),
		record("exact", "a.md", []float32{2, 0, 0}),
	}); err != nil {
		t.Fatal(err)
	}

	results, err := vs.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "exact" {
		t.Errorf("top result = %q, want exact", results[0].ID)
	}
	if results[1].ID != "close" {
		t.Errorf("second result = %q, want close", results[1].ID)
	}
	if math.Abs(float64(results[0].Score)-1.0) > 1e-5 {
		t.Errorf("exact match score = %g, want ~1.0", results[0].Score)
	}
	if results[0].TextChunk != "chunk for exact" {
		t.Errorf("TextChunk = %q", results[0].TextChunk)
	}
}

func TestSearchEmptyStore(t *testing.T) {
	vs := newTestStore(t)

	results, err := vs.Search([]float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("results = %v, want nil on empty store", results)
	}
}

func TestSearchZeroQueryVector(t *testing.T) {
	vs := newTestStore(t)
	if err := vs.Insert([]Record{record("a", "a.md", []float32{1, 0, 0})}); err != nil {
		t.Fatal(err)
	}

	results, err := vs.Search([]float32{0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("results = %v, want nil for zero-norm query", results)
	}
}

func TestDeleteBySource(t *testing.T) {
	vs := newTestStore(t)

	if err := vs.Insert([]Record{
		record("a", "old.md", []float32{1, 0}),
		record("b", "old.md", []float32{0, 1}),
		record("c", "keep.md", []float32{1, 1}),
	}); err != nil {
		t.Fatal(err)
	}

	n, err := vs.DeleteBySource("old.md")
	if err != nil {
		t.Fatalf("DeleteBySource: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d records, want 2", n)
	}

	count, err := vs.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Count = %d, want 1", count)
	}
}

func TestEncodeDecodeFloat32s(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3.14159, math.MaxFloat32}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("value %d = %g, want %g", i, out[i], in[i])
		}
	}

	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
