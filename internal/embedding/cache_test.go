package embedding

import (
	"context"
	"errors"
	"testing"
)

type countingEmbedder struct {
	*MockEmbedder
	calls int
	fail  bool
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("boom")
	}
	return c.MockEmbedder.Embed(ctx, text)
}

func TestCachedEmbedder_Hits(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(4)}
	c, err := NewCachedEmbedder(inner, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	a1, _ := c.Embed(ctx, "a")
	a2, _ := c.Embed(ctx, "a")
	if inner.calls != 1 {
		t.Errorf("expected 1 inner call, got %d", inner.calls)
	}
	if len(a1) != 4 || a1[0] != a2[0] {
		t.Errorf("cached value differs: %v vs %v", a1, a2)
	}
	a2[0] = 42
	a3, _ := c.Embed(ctx, "a")
	if a3[0] == 42 {
		t.Error("caller mutation leaked into cache")
	}
}

func TestCachedEmbedder_Evicts(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(2)}
	c, _ := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	_, _ = c.Embed(ctx, "a")
	_, _ = c.Embed(ctx, "b")
	_, _ = c.Embed(ctx, "c") // evicts a
	if c.Len() != 2 {
		t.Errorf("Len=%d, want 2", c.Len())
	}
	_, _ = c.Embed(ctx, "a")
	if inner.calls != 4 {
		t.Errorf("expected a to be recomputed, calls=%d", inner.calls)
	}
}

func TestCachedEmbedder_ErrorsNotCached(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(2), fail: true}
	c, _ := NewCachedEmbedder(inner, 2)
	if _, err := c.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	if c.Len() != 0 {
		t.Error("failed embeddings must not be cached")
	}
}

func TestNewCachedEmbedder_InvalidSize(t *testing.T) {
	if _, err := NewCachedEmbedder(NewMockEmbedder(2), 0); err == nil {
		t.Error("expected error for zero size")
	}
}
