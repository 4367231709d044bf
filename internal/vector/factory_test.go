package vector

import (
	"context"
	"testing"
)

func TestNewVectorIndex_Memory(t *testing.T) {
	idx, err := NewVectorIndex("memory", 3)
	if err != nil {
		t.Fatalf("NewVectorIndex(memory): %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	if err := idx.Insert(ctx, 1, []float32{1, 0, 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("Size=%d, want 1", idx.Size())
	}
	if idx.Type() != string(IndexTypeMemory) {
		t.Errorf("Type=%s", idx.Type())
	}
}

func TestNewVectorIndex_Empty(t *testing.T) {
	// Empty string should default to memory
	idx, err := NewVectorIndex("", 3)
	if err != nil {
		t.Fatalf("NewVectorIndex(''): %v", err)
	}
	defer idx.Close()

	if idx.Size() != 0 {
		t.Errorf("Size=%d, want 0", idx.Size())
	}
	if idx.Dimensions() != 3 {
		t.Errorf("Dimensions=%d, want 3", idx.Dimensions())
	}
}

func TestNewVectorIndex_Unknown(t *testing.T) {
	_, err := NewVectorIndex("unknown", 3)
	if err == nil {
		t.Error("expected error for unknown index type")
	}
}

func TestNewVectorIndex_FAISSMatchesAvailability(t *testing.T) {
	idx, err := NewVectorIndex("faiss", 3)
	if IsFAISSAvailable() {
		if err != nil {
			t.Fatalf("FAISS available but NewVectorIndex failed: %v", err)
		}
		_ = idx.Close()
		return
	}
	if err == nil {
		t.Error("expected error when FAISS is not compiled in")
	}
}
