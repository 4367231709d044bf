package vector

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestMemoryIndex_InsertSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	vecs := map[int64][]float32{
		1: {1, 0, 0},
		2: {0.9, 0.1, 0},
		3: {0, 1, 0},
	}
	for id, v := range vecs {
		if err := idx.Insert(ctx, id, v); err != nil {
			t.Fatal(err)
		}
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != 1 || results[0].Distance != 0 {
		t.Errorf("top result should be 1 at distance 0, got %+v", results[0])
	}
	if results[1].ID != 2 {
		t.Errorf("second result should be 2, got %d", results[1].ID)
	}
}

func TestMemoryIndex_TieBreakByID(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Insert(ctx, 42, []float32{0, 1})
	_ = idx.Insert(ctx, 7, []float32{0, 1})
	_ = idx.Insert(ctx, 19, []float32{0, 1})

	results, err := idx.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != 7 || results[1].ID != 19 {
		t.Errorf("ties should order by ascending id, got %+v", results)
	}
}

func TestMemoryIndex_InsertReplaces(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Insert(ctx, 5, []float32{1, 0})
	_ = idx.Insert(ctx, 5, []float32{0, 1})
	if idx.Size() != 1 {
		t.Fatalf("expected size 1 after replace, got %d", idx.Size())
	}
	got, ok := idx.Get(5)
	if !ok || !Equal(got, []float32{0, 1}) {
		t.Errorf("Get(5)=%v,%v want [0 1]", got, ok)
	}
}

func TestMemoryIndex_InsertCopies(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	v := []float32{1, 0}
	_ = idx.Insert(context.Background(), 1, v)
	v[0] = 9
	got, _ := idx.Get(1)
	if got[0] != 1 {
		t.Errorf("index should hold its own copy, got %v", got)
	}
}

func TestMemoryIndex_Delete(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Insert(ctx, 1, []float32{1, 0})
	_ = idx.Insert(ctx, 2, []float32{0, 1})
	if err := idx.Delete(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 1 {
		t.Errorf("expected size 1, got %d", idx.Size())
	}
	if err := idx.Delete(ctx, 99); err != nil {
		t.Errorf("deleting an absent id should be a no-op, got %v", err)
	}
	if _, ok := idx.Get(1); ok {
		t.Error("deleted id still present")
	}
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	ctx := context.Background()
	if err := idx.Insert(ctx, 1, []float32{1, 0}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Insert: expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := idx.Search(ctx, []float32{1}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Search: expected ErrDimensionMismatch, got %v", err)
	}
	if idx.Size() != 0 {
		t.Errorf("failed insert must not change size")
	}
}

func TestMemoryIndex_InvalidDimensions(t *testing.T) {
	if _, err := NewMemoryIndex(0); err == nil {
		t.Error("expected error for zero dimensions")
	}
}

func TestMemoryIndex_EmptySearch(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	results, err := idx.Search(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestMemoryIndex_IDsAndReset(t *testing.T) {
	idx, _ := NewMemoryIndex(1)
	ctx := context.Background()
	for _, id := range []int64{30, 10, 20} {
		_ = idx.Insert(ctx, id, []float32{float32(id)})
	}
	ids := idx.IDs()
	if len(ids) != 3 || ids[0] != 10 || ids[1] != 20 || ids[2] != 30 {
		t.Errorf("IDs()=%v, want [10 20 30]", ids)
	}
	idx.Reset()
	if idx.Size() != 0 {
		t.Errorf("Reset left %d entries", idx.Size())
	}
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.bin")
	ctx := context.Background()

	idx, _ := NewMemoryIndex(3)
	want := map[int64][]float32{
		1:             {0.1, 0.2, 0.3},
		math.MaxInt64: {float32(math.Pi), -0, 1e-30},
	}
	for id, v := range want {
		_ = idx.Insert(ctx, id, v)
	}
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewMemoryIndex(3)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != len(want) {
		t.Fatalf("loaded size=%d want %d", loaded.Size(), len(want))
	}
	for id, v := range want {
		got, ok := loaded.Get(id)
		if !ok || !Equal(got, v) {
			t.Errorf("id %d: got %v want %v", id, got, v)
		}
	}
}

func TestMemoryIndex_LoadMissingFile(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	_ = idx.Insert(context.Background(), 1, []float32{1, 0})
	if err := idx.Load(filepath.Join(t.TempDir(), "absent.bin")); err != nil {
		t.Fatalf("missing snapshot should not error: %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("missing snapshot should leave index untouched")
	}
}

func TestMemoryIndex_LoadWrongDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")
	src, _ := NewMemoryIndex(2)
	_ = src.Insert(context.Background(), 1, []float32{1, 0})
	if err := src.Save(path); err != nil {
		t.Fatal(err)
	}
	dst, _ := NewMemoryIndex(3)
	if err := dst.Load(path); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestEncodeDecodeVector(t *testing.T) {
	v := []float32{1.5, -2.25, float32(math.Inf(1))}
	got, err := DecodeVector(EncodeVector(v))
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(got, v) {
		t.Errorf("got %v want %v", got, v)
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestEqual(t *testing.T) {
	if Equal([]float32{1, 2}, []float32{1}) {
		t.Error("different lengths must not be equal")
	}
	nan := float32(math.NaN())
	if !Equal([]float32{nan}, []float32{nan}) {
		t.Error("identical NaN bits should compare equal")
	}
	if Equal([]float32{0}, []float32{float32(math.Copysign(0, -1))}) {
		t.Error("+0 and -0 differ bitwise")
	}
}
