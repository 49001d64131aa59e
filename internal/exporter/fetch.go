package exporter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/starford/tapestry/internal/blob"
)

// EntryHeader names the archive entry a download is fetched for, so that
// failures can be attributed on both ends.
const EntryHeader = "X-Archive-Entry"

// ProgressFunc receives the bytes transferred so far and the total, which is
// negative while unknown.
type ProgressFunc func(transferred, total int64)

// Fetcher downloads the content of a hosted asset.
//
// Every per-asset failure is reported as a *FetchError; any other error is
// treated as unrecoverable and aborts the export.
type Fetcher interface {
	Fetch(ctx context.Context, a Asset, progress ProgressFunc) ([]byte, error)
}

// FetchError is a failed asset download.
type FetchError struct {
	Entry  string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("exporter: fetch %s: status %d", e.Entry, e.Status)
	}
	return fmt.Sprintf("exporter: fetch %s: %v", e.Entry, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// BlobFetcher reads assets straight from the blob store.
type BlobFetcher struct {
	Store blob.Provider
}

// Fetch implements Fetcher.
func (f BlobFetcher) Fetch(ctx context.Context, a Asset, progress ProgressFunc) ([]byte, error) {
	rc, obj, err := f.Store.Get(ctx, a.Source)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FetchError{Entry: a.Entry, Err: err}
	}
	defer rc.Close()
	return readAll(ctx, a.Entry, rc, obj.Size, progress)
}

// HTTPFetcher downloads assets through presigned URLs with retries.
type HTTPFetcher struct {
	client *retryablehttp.Client
	store  blob.Provider
	ttl    time.Duration
}

// NewHTTPFetcher creates a fetcher that signs GET URLs on store, valid for
// ttl, and downloads them with up to retries retries.
func NewHTTPFetcher(store blob.Provider, ttl, timeout time.Duration, retries int, logger *slog.Logger) *HTTPFetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = timeout
	if logger != nil {
		client.Logger = logger
	}
	return &HTTPFetcher{client: client, store: store, ttl: ttl}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, a Asset, progress ProgressFunc) ([]byte, error) {
	u, err := f.store.SignedURL(ctx, a.Source, blob.MethodGet, f.ttl)
	if err != nil {
		return nil, &FetchError{Entry: a.Entry, Err: err}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{Entry: a.Entry, Err: err}
	}
	req.Header.Set(EntryHeader, a.Entry)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FetchError{Entry: a.Entry, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Entry: a.Entry, Status: resp.StatusCode}
	}
	return readAll(ctx, a.Entry, resp.Body, resp.ContentLength, progress)
}

func readAll(ctx context.Context, entry string, r io.Reader, total int64, progress ProgressFunc) ([]byte, error) {
	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(total))
	}
	if progress != nil {
		progress(0, total)
	}
	chunk := make([]byte, 32<<10)
	var done int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			done += int64(n)
			if progress != nil {
				progress(done, total)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &FetchError{Entry: entry, Err: err}
		}
	}
	if progress != nil && total < 0 {
		progress(done, done)
	}
	return buf.Bytes(), nil
}
