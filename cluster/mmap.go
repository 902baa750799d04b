package cluster

import (
	"bytes"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// countingWriter sizes an archive before the file is mapped.
type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

// MMapWriter fills a mapped region sequentially.
type MMapWriter struct {
	data   mmap.MMap
	offset int
}

func NewMMapWriter(data mmap.MMap) *MMapWriter {
	return &MMapWriter{data: data}
}

func (w *MMapWriter) Write(p []byte) (int, error) {
	if w.offset+len(p) > len(w.data) {
		return 0, fmt.Errorf("mmap region full: %d + %d > %d", w.offset, len(p), len(w.data))
	}
	copy(w.data[w.offset:], p)
	w.offset += len(p)
	return len(p), nil
}

// SaveMMap writes an uncompressed archive through a memory map.
func SaveMMap(filename string, annotations []Annotation) error {
	var size countingWriter
	if err := encodeAnnotations(&size, annotations); err != nil {
		return err
	}

	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := file.Truncate(size.n); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}

	data, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to mmap file: %w", err)
	}

	if err := encodeAnnotations(NewMMapWriter(data), annotations); err != nil {
		data.Unmap()
		return err
	}
	if err := data.Flush(); err != nil {
		data.Unmap()
		return fmt.Errorf("failed to flush mmap: %w", err)
	}
	return data.Unmap()
}

// LoadMMap decodes an archive written by SaveMMap. The mapping is released
// before returning; the annotations own their data.
func LoadMMap(filename string) ([]Annotation, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	data, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}
	defer data.Unmap()

	return decodeAnnotations(bytes.NewReader(data))
}
