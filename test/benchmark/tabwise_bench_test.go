package benchmark

import (
	"context"
	"testing"

	"github.com/hyperjump/tabwise/internal/embedding"
	"github.com/hyperjump/tabwise/internal/identity"
	"github.com/hyperjump/tabwise/internal/search"
	"github.com/hyperjump/tabwise/internal/similarity"
	"github.com/hyperjump/tabwise/internal/vector"
)

func BenchmarkFuse(b *testing.B) {
	kw := make(map[int64]float64)
	sem := make(map[int64]float64)
	for i := 0; i < 100; i++ {
		kw[int64(i)] = float64(i) / 100
		sem[int64(i)] = float64(100-i) / 100
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = search.Fuse(kw, sem, search.DefaultKeywordWeight, search.DefaultSemanticWeight)
	}
}

func BenchmarkMemoryIndexSearch(b *testing.B) {
	idx, _ := vector.NewMemoryIndex(384)
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		v := make([]float32, 384)
		v[0] = float32(i) / 1000
		_ = idx.Insert(ctx, int64(i+1), v)
	}
	query := make([]float32, 384)
	query[0] = 1.0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, query, similarity.SearchK)
	}
}

func BenchmarkClassify(b *testing.B) {
	e := embedding.NewMockEmbedder(384)
	ctx := context.Background()
	pool := make([]similarity.Candidate, 50)
	for i := range pool {
		v, _ := e.Embed(ctx, string(rune('a'+i%26))+" project")
		pool[i] = similarity.Candidate{Key: int64(i + 1), ProjectID: int64(i + 1), Vector: v}
	}
	query, _ := e.Embed(ctx, "incoming tab title https://example.com")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = similarity.Classify(ctx, query, pool, similarity.RoutingThreshold)
	}
}

func BenchmarkDeriveID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = identity.DeriveID("https://go.dev/ref/mem#tmp_1")
	}
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := embedding.NewMockEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "benchmark query text for embedding")
	}
}
