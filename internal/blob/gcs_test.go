package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

type recordingWriter struct {
	ctx    context.Context
	buf    bytes.Buffer
	closed bool
}

func (w *recordingWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestCopyObject_FailedCopyAborts(t *testing.T) {
	w := &recordingWriter{}
	open := func(ctx context.Context) io.WriteCloser {
		w.ctx = ctx
		return w
	}
	readErr := errors.New("connection reset")

	err := copyObject(context.Background(), open, &failingReader{data: []byte("partial"), err: readErr})
	if !errors.Is(err, readErr) {
		t.Fatalf("copyObject error = %v, want %v", err, readErr)
	}
	if w.closed {
		t.Error("writer was closed after a failed copy; the partial object would be committed")
	}
	if w.ctx.Err() == nil {
		t.Error("writer context still live after a failed copy")
	}
}

func TestCopyObject_CommitsOnSuccess(t *testing.T) {
	w := &recordingWriter{}
	open := func(ctx context.Context) io.WriteCloser {
		w.ctx = ctx
		return w
	}

	if err := copyObject(context.Background(), open, bytes.NewReader([]byte("payload"))); err != nil {
		t.Fatalf("copyObject: %v", err)
	}
	if !w.closed {
		t.Error("writer not closed after a successful copy")
	}
	if got := w.buf.String(); got != "payload" {
		t.Errorf("written = %q, want payload", got)
	}
}
