//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/MetaIndexes_c.h>
#include <faiss/c_api/impl/AuxIndexStructures_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unsafe"
)

// FAISSIndex wraps a FAISS IndexIDMap2 over IndexFlatL2, which is what lets callers
// supply their own ids. Search is exact. A Go-side copy of every vector is kept for Get,
// IDs, snapshots and rebuilding the FAISS index after Load.
type FAISSIndex struct {
	flat       *C.FaissIndexFlatL2
	index      *C.FaissIndexIDMap2
	dimensions int
	vectors    map[int64][]float32
	mu         sync.RWMutex
}

// NewFAISSIndex creates an empty FAISS index with the given dimension.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	f := &FAISSIndex{dimensions: dimensions, vectors: make(map[int64][]float32)}
	if err := f.allocLocked(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FAISSIndex) allocLocked() error {
	var flat *C.FaissIndexFlatL2
	if ret := C.faiss_IndexFlatL2_new_with(&flat, C.idx_t(f.dimensions)); ret != 0 {
		return fmt.Errorf("failed to create FAISS flat index: %s", faissLastError())
	}
	var idmap *C.FaissIndexIDMap2
	if ret := C.faiss_IndexIDMap2_new(&idmap, (*C.FaissIndex)(unsafe.Pointer(flat))); ret != 0 {
		C.faiss_Index_free((*C.FaissIndex)(unsafe.Pointer(flat)))
		return fmt.Errorf("failed to create FAISS id map: %s", faissLastError())
	}
	f.flat = flat
	f.index = idmap
	return nil
}

func (f *FAISSIndex) freeLocked() {
	if f.index != nil {
		C.faiss_Index_free((*C.FaissIndex)(unsafe.Pointer(f.index)))
		f.index = nil
	}
	if f.flat != nil {
		C.faiss_Index_free((*C.FaissIndex)(unsafe.Pointer(f.flat)))
		f.flat = nil
	}
}

func (f *FAISSIndex) base() *C.FaissIndex {
	return (*C.FaissIndex)(unsafe.Pointer(f.index))
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Insert adds or replaces the vector at id.
func (f *FAISSIndex) Insert(ctx context.Context, id int64, vec []float32) error {
	if len(vec) != f.dimensions {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), f.dimensions)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.vectors[id]; ok {
		if err := f.removeLocked(id); err != nil {
			return err
		}
	}
	if err := f.addLocked(id, vec); err != nil {
		return err
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)
	f.vectors[id] = cp
	return nil
}

func (f *FAISSIndex) addLocked(id int64, vec []float32) error {
	cid := C.idx_t(id)
	ret := C.faiss_Index_add_with_ids(
		f.base(),
		1,
		(*C.float)(unsafe.Pointer(&vec[0])),
		&cid,
	)
	if ret != 0 {
		return fmt.Errorf("failed to add vector to FAISS index: %s", faissLastError())
	}
	return nil
}

func (f *FAISSIndex) removeLocked(id int64) error {
	cid := C.idx_t(id)
	var sel *C.FaissIDSelectorBatch
	if ret := C.faiss_IDSelectorBatch_new(&sel, 1, &cid); ret != 0 {
		return fmt.Errorf("failed to create FAISS id selector: %s", faissLastError())
	}
	defer C.faiss_IDSelector_free((*C.FaissIDSelector)(unsafe.Pointer(sel)))
	var removed C.size_t
	if ret := C.faiss_Index_remove_ids(f.base(), (*C.FaissIDSelector)(unsafe.Pointer(sel)), &removed); ret != 0 {
		return fmt.Errorf("failed to remove vector from FAISS index: %s", faissLastError())
	}
	return nil
}

// Delete removes id if present.
func (f *FAISSIndex) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.vectors[id]; !ok {
		return nil
	}
	if err := f.removeLocked(id); err != nil {
		return err
	}
	delete(f.vectors, id)
	return nil
}

// Search returns the k nearest vectors by squared L2 distance, ties broken by id.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query %w: got %d, expected %d", ErrDimensionMismatch, len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}
	// FAISS orders equal distances by insertion order; ask for every entry when
	// the index is small so ties at the cut-off can be re-ranked by id.
	n := len(f.vectors)
	want := k
	if n <= 4*k {
		want = n
	} else {
		want = 2 * k
	}
	distances := make([]float32, want)
	labels := make([]int64, want)
	ret := C.faiss_Index_search(
		f.base(),
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(want),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}
	results := make([]Result, 0, want)
	for i := 0; i < want; i++ {
		if labels[i] < 0 {
			continue
		}
		results = append(results, Result{ID: labels[i], Distance: distances[i]})
	}
	sortResults(results)
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Get returns a copy of the vector at id.
func (f *FAISSIndex) Get(id int64) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	vec, ok := f.vectors[id]
	if !ok {
		return nil, false
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)
	return cp, true
}

// IDs returns all ids in ascending order.
func (f *FAISSIndex) IDs() []int64 {
	f.mu.RLock()
	ids := make([]int64, 0, len(f.vectors))
	for id := range f.vectors {
		ids = append(ids, id)
	}
	f.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Reset drops every entry by reallocating the FAISS index.
func (f *FAISSIndex) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freeLocked()
	_ = f.allocLocked()
	f.vectors = make(map[int64][]float32)
}

// Save writes the Go-side vectors in the snapshot format shared with MemoryIndex.
func (f *FAISSIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return writeSnapshot(path, f.dimensions, f.vectors)
}

// Load replaces the index contents with the snapshot at path, re-adding every vector to FAISS.
func (f *FAISSIndex) Load(path string) error {
	loaded, err := readSnapshot(path, f.dimensions)
	if err != nil || loaded == nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freeLocked()
	if err := f.allocLocked(); err != nil {
		return err
	}
	f.vectors = make(map[int64][]float32, len(loaded))
	for id, vec := range loaded {
		if err := f.addLocked(id, vec); err != nil {
			return err
		}
		f.vectors[id] = vec
	}
	return nil
}

// Size returns the number of vectors.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Dimensions returns the vector dimension.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freeLocked()
	return nil
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}
