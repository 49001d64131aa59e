package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/starford/tapestry/internal/apperr"
	"github.com/starford/tapestry/internal/checksum"
)

// FS implements Provider on the local file system. Signed URLs point at the
// blob routes served by Handler and carry an HMAC over method, key and
// expiry.
type FS struct {
	root    string // absolute path to the blob directory
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewFS creates an FS provider rooted at root, creating the directory when
// missing. baseURL is the externally reachable prefix of the blob routes,
// e.g. "http://localhost:8080/blobs".
func NewFS(root, baseURL, secret string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blob: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("blob: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("blob: root is not a directory: %s", abs)
	}
	if secret == "" {
		return nil, errors.New("blob: signing secret is required")
	}
	return &FS{
		root:    abs,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		now:     time.Now,
	}, nil
}

// safePath resolves a key against the root and rejects any result that
// escapes it.
func (f *FS) safePath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob: empty key: %w", apperr.ErrInvalidInput)
	}
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("blob: absolute keys not allowed: %s: %w", key, apperr.ErrInvalidInput)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("blob: resolve key: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("blob: key escapes root: %s: %w", key, apperr.ErrInvalidInput)
	}
	return abs, nil
}

// Put atomically writes the object: tmp file → fsync → rename.
func (f *FS) Put(ctx context.Context, key string, r io.Reader, contentType string) (Object, error) {
	abs, err := f.safePath(key)
	if err != nil {
		return Object{}, err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Object{}, fmt.Errorf("blob: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".blob-tmp-*")
	if err != nil {
		return Object{}, fmt.Errorf("blob: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	sum := checksum.NewWriter()
	if _, err := io.Copy(io.MultiWriter(tmp, sum), readerWithContext(ctx, r)); err != nil {
		return Object{}, fmt.Errorf("blob: write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		return Object{}, fmt.Errorf("blob: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("blob: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return Object{}, fmt.Errorf("blob: rename: %w", err)
	}
	success = true

	if contentType == "" {
		contentType = detectFile(abs)
	}
	return Object{
		Key:         key,
		ContentType: contentType,
		Size:        sum.Size(),
		ETag:        sum.Sum(),
		UpdatedAt:   f.now(),
	}, nil
}

// Get opens the object for reading.
func (f *FS) Get(_ context.Context, key string) (io.ReadCloser, Object, error) {
	abs, err := f.safePath(key)
	if err != nil {
		return nil, Object{}, err
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, Object{}, notFound(key, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, Object{}, fmt.Errorf("blob: stat %s: %w", key, err)
	}
	return file, Object{
		Key:         key,
		ContentType: detectFile(abs),
		Size:        info.Size(),
		UpdatedAt:   info.ModTime(),
	}, nil
}

// Stat returns the object metadata including its checksum.
func (f *FS) Stat(_ context.Context, key string) (Object, error) {
	abs, err := f.safePath(key)
	if err != nil {
		return Object{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Object{}, notFound(key, err)
	}
	if info.IsDir() {
		return Object{}, fmt.Errorf("blob: %s: %w", key, apperr.ErrNotFound)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Object{}, fmt.Errorf("blob: read %s: %w", key, err)
	}
	return Object{
		Key:         key,
		ContentType: mimetype.Detect(data).String(),
		Size:        info.Size(),
		ETag:        checksum.Sum(data),
		UpdatedAt:   info.ModTime(),
	}, nil
}

// Delete removes the object.
func (f *FS) Delete(_ context.Context, key string) error {
	abs, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return notFound(key, err)
	}
	return nil
}

// SignedURL returns a URL for the blob routes valid until ttl elapses.
func (f *FS) SignedURL(_ context.Context, key, method string, ttl time.Duration) (string, error) {
	if _, err := f.safePath(key); err != nil {
		return "", err
	}
	expires := f.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", f.sign(method, key, expires))
	return f.baseURL + "/" + escapeKey(key) + "?" + q.Encode(), nil
}

// Verify checks a signature produced by SignedURL.
func (f *FS) Verify(method, key, expires, sig string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return fmt.Errorf("blob: bad expiry: %w", apperr.ErrInvalidInput)
	}
	if f.now().Unix() > exp {
		return fmt.Errorf("blob: signed url expired: %w", apperr.ErrInvalidInput)
	}
	want := f.sign(method, key, exp)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return fmt.Errorf("blob: bad signature: %w", apperr.ErrInvalidInput)
	}
	return nil
}

func (f *FS) sign(method, key string, expires int64) string {
	mac := hmac.New(sha256.New, f.secret)
	fmt.Fprintf(mac, "%s\n%s\n%d", method, key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func detectFile(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

func notFound(key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blob: %s: %w", key, apperr.ErrNotFound)
	}
	return fmt.Errorf("blob: %s: %w", key, err)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
