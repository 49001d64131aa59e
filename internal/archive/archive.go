// Package archive reads and writes tapestry archives: zip containers whose
// entries are compressed with klauspost/compress.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"
	"time"

	"github.com/klauspost/compress/flate"
	"golang.org/x/sync/errgroup"
)

// ErrEntryNotFound is returned when a named entry is absent from an archive.
var ErrEntryNotFound = errors.New("archive: entry not found")

// Entry is one file to write into an archive.
type Entry struct {
	Name     string
	Data     []byte
	Modified time.Time
}

// ProgressFunc receives the number of uncompressed bytes consumed since the
// previous call. It may be called concurrently.
type ProgressFunc func(delta int64)

// Write compresses every entry concurrently, then writes them to w in the
// given order. Cancelling ctx stops pending compressions.
func Write(ctx context.Context, w io.Writer, entries []Entry, level int, progress ProgressFunc) error {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("archive: duplicate entry %q", e.Name)
		}
		seen[e.Name] = struct{}{}
	}

	compressed := make([]*zip.FileHeader, len(entries))
	bodies := make([][]byte, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range entries {
		g.Go(func() error {
			hdr, body, err := compress(gctx, e, level, progress)
			if err != nil {
				return fmt.Errorf("archive: compress %s: %w", e.Name, err)
			}
			compressed[i], bodies[i] = hdr, body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for i, hdr := range compressed {
		if err := ctx.Err(); err != nil {
			return err
		}
		fw, err := zw.CreateRaw(hdr)
		if err != nil {
			return fmt.Errorf("archive: create %s: %w", hdr.Name, err)
		}
		if _, err := fw.Write(bodies[i]); err != nil {
			return fmt.Errorf("archive: write %s: %w", hdr.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("archive: finish: %w", err)
	}
	return nil
}

// chunk bounds how much input is compressed between cancellation checks and
// progress reports.
const chunk = 256 << 10

func compress(ctx context.Context, e Entry, level int, progress ProgressFunc) (*zip.FileHeader, []byte, error) {
	modified := e.Modified
	if modified.IsZero() {
		modified = time.Now()
	}
	hdr := &zip.FileHeader{
		Name:               e.Name,
		Method:             zip.Deflate,
		Modified:           modified,
		CRC32:              crc32.ChecksumIEEE(e.Data),
		UncompressedSize64: uint64(len(e.Data)),
	}
	if len(e.Data) == 0 {
		hdr.Method = zip.Store
		return hdr, nil, nil
	}

	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, nil, err
	}
	for off := 0; off < len(e.Data); off += chunk {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		end := min(off+chunk, len(e.Data))
		if _, err := fw.Write(e.Data[off:end]); err != nil {
			return nil, nil, err
		}
		if progress != nil {
			progress(int64(end - off))
		}
	}
	if err := fw.Close(); err != nil {
		return nil, nil, err
	}
	hdr.CompressedSize64 = uint64(buf.Len())
	return hdr, buf.Bytes(), nil
}

// Reader gives random access to the entries of an archive.
type Reader struct {
	zr    *zip.Reader
	index map[string]*zip.File
}

// NewReader reads the archive directory.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)
	index := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		index[f.Name] = f
	}
	return &Reader{zr: zr, index: index}, nil
}

// Has reports whether the archive contains name.
func (r *Reader) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Names lists the entries, sorted.
func (r *Reader) Names() []string {
	out := make([]string, 0, len(r.index))
	for name := range r.index {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Open opens an entry and returns its uncompressed size.
func (r *Reader) Open(name string) (io.ReadCloser, int64, error) {
	f, ok := r.index[name]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, 0, fmt.Errorf("archive: open %s: %w", name, err)
	}
	return rc, int64(f.UncompressedSize64), nil
}

// ReadFile returns the content of an entry.
func (r *Reader) ReadFile(name string) ([]byte, error) {
	rc, _, err := r.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", name, err)
	}
	return data, nil
}

// Spooled is an archive copied to a temporary file.
type Spooled struct {
	*Reader
	file *os.File
	size int64
}

// Spool copies src to a temporary file so that its entries can be read in
// any order.
func Spool(ctx context.Context, src io.Reader) (*Spooled, error) {
	f, err := os.CreateTemp("", "tapestry-archive-*.zip")
	if err != nil {
		return nil, fmt.Errorf("archive: create spool: %w", err)
	}
	n, err := io.Copy(f, contextReader{ctx: ctx, r: src})
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("archive: spool: %w", err)
	}
	r, err := NewReader(f, n)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return &Spooled{Reader: r, file: f, size: n}, nil
}

// Size is the archive size in bytes.
func (s *Spooled) Size() int64 {
	return s.size
}

// Close removes the temporary file.
func (s *Spooled) Close() error {
	err := s.file.Close()
	if rmErr := os.Remove(s.file.Name()); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
