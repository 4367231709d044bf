package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// writeSnapshot writes vectors to path. Directory is created if needed. Format: dimension (4),
// n (4), then per vector in ascending id order: id (8), vector (dimension*4 bytes), all
// little-endian. An empty path is a no-op.
func writeSnapshot(path string, dimensions int, vectors map[int64][]float32) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	ids := make([]int64, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	write := func() error {
		if err := binary.Write(w, binary.LittleEndian, uint32(dimensions)); err != nil {
			return fmt.Errorf("write dimensions: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(ids))); err != nil {
			return fmt.Errorf("write count: %w", err)
		}
		for _, id := range ids {
			if err := binary.Write(w, binary.LittleEndian, id); err != nil {
				return fmt.Errorf("write id: %w", err)
			}
			if _, err := w.Write(EncodeVector(vectors[id])); err != nil {
				return fmt.Errorf("write vector: %w", err)
			}
		}
		return w.Flush()
	}
	if err := write(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmp, path)
}

// readSnapshot reads a file written by writeSnapshot. It returns (nil, nil) when path is
// empty or the file does not exist.
func readSnapshot(path string, dimensions int) (map[int64][]float32, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != dimensions {
		return nil, fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, dim, dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	loaded := make(map[int64][]float32, n)
	buf := make([]byte, dimensions*4)
	for i := uint32(0); i < n; i++ {
		var id int64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read vector: %w", err)
		}
		vec, err := DecodeVector(buf)
		if err != nil {
			return nil, err
		}
		loaded[id] = vec
	}
	return loaded, nil
}
