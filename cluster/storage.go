package cluster

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"web/clustermap/geo"
)

var ErrBadFormat = errors.New("bad annotation archive")

var archiveMagic = [4]byte{'C', 'L', 'M', 'P'}

const (
	archiveVersion = uint32(1)
	maxStringLen   = 1 << 20
)

// Archived annotations keep everything except the originating objects, so
// As on a loaded RecordRef always fails with ErrTypeMismatch.

type binWriter struct {
	w   io.Writer
	err error
}

func (b *binWriter) write(v any) {
	if b.err == nil {
		b.err = binary.Write(b.w, binary.LittleEndian, v)
	}
}

func (b *binWriter) writeString(s string) {
	b.write(uint32(len(s)))
	if b.err == nil {
		_, b.err = io.WriteString(b.w, s)
	}
}

type binReader struct {
	r   io.Reader
	err error
}

func (b *binReader) read(v any) {
	if b.err == nil {
		b.err = binary.Read(b.r, binary.LittleEndian, v)
	}
}

func (b *binReader) readString() string {
	var n uint32
	b.read(&n)
	if b.err != nil {
		return ""
	}
	if n > maxStringLen {
		b.err = fmt.Errorf("%w: string of %d bytes", ErrBadFormat, n)
		return ""
	}
	buf := make([]byte, n)
	_, b.err = io.ReadFull(b.r, buf)
	return string(buf)
}

func (b *binReader) readFloat() float64 {
	var f float64
	b.read(&f)
	return f
}

func encodeAnnotations(w io.Writer, annotations []Annotation) error {
	bw := &binWriter{w: w}
	bw.write(archiveMagic)
	bw.write(archiveVersion)
	bw.write(uint32(len(annotations)))

	for _, a := range annotations {
		bw.write(uint8(a.Kind))
		bw.write(a.Coordinate.Latitude)
		bw.write(a.Coordinate.Longitude)
		bw.writeString(a.Title)
		bw.writeString(a.Subtitle)
		bw.write(uint32(len(a.Members)))

		for _, m := range a.Members {
			bw.writeString(m.ID)
			bw.writeString(m.Entity)
			bw.write(m.Coordinate.Latitude)
			bw.write(m.Coordinate.Longitude)
			bw.writeString(m.Title)
			bw.writeString(m.Subtitle)
			bw.write(m.Distance)
			if bw.err != nil {
				return bw.err
			}
		}
	}
	return bw.err
}

func decodeAnnotations(r io.Reader) ([]Annotation, error) {
	br := &binReader{r: r}

	var magic [4]byte
	var version, count uint32
	br.read(&magic)
	br.read(&version)
	br.read(&count)
	if br.err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrBadFormat, br.err)
	}
	if magic != archiveMagic || version != archiveVersion {
		return nil, fmt.Errorf("%w: magic %q version %d", ErrBadFormat, magic[:], version)
	}

	annotations := make([]Annotation, 0, min(count, 1<<16))
	for i := uint32(0); i < count; i++ {
		var kind uint8
		var numMembers uint32
		var a Annotation

		br.read(&kind)
		a.Kind = Kind(kind)
		a.Coordinate.Latitude = br.readFloat()
		a.Coordinate.Longitude = br.readFloat()
		a.Title = br.readString()
		a.Subtitle = br.readString()
		br.read(&numMembers)
		if br.err != nil {
			return nil, fmt.Errorf("%w: annotation %d: %v", ErrBadFormat, i, br.err)
		}

		a.Members = make([]RecordRef, 0, min(numMembers, 1<<16))
		for j := uint32(0); j < numMembers; j++ {
			var m RecordRef
			m.ID = br.readString()
			m.Entity = br.readString()
			m.Coordinate = geo.Coordinate{Latitude: br.readFloat(), Longitude: br.readFloat()}
			m.Title = br.readString()
			m.Subtitle = br.readString()
			m.Distance = br.readFloat()
			if br.err != nil {
				return nil, fmt.Errorf("%w: annotation %d member %d: %v", ErrBadFormat, i, j, br.err)
			}
			m.typeTag = "archived"
			a.Members = append(a.Members, m)
		}
		annotations = append(annotations, a)
	}
	return annotations, nil
}

// WriteCompressed writes annotations to w as a zstd-compressed archive.
func WriteCompressed(w io.Writer, annotations []Annotation) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if err := encodeAnnotations(enc, annotations); err != nil {
		enc.Close()
		return fmt.Errorf("failed to encode annotations: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}
	return nil
}

func ReadCompressed(r io.Reader) ([]Annotation, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()
	return decodeAnnotations(dec)
}

func SaveCompressed(filename string, annotations []Annotation) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	bufWriter := bufio.NewWriterSize(file, 1024*1024)
	if err := WriteCompressed(bufWriter, annotations); err != nil {
		return err
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	return file.Close()
}

func LoadCompressed(filename string) ([]Annotation, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return ReadCompressed(bufio.NewReaderSize(file, 1024*1024))
}
