// Package upload persists multipart image uploads to local disk and hands
// the core a FileRef. The core never does disk I/O itself.
package upload

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/paircomms/msg-gateway/internal/core"
	"github.com/paircomms/msg-gateway/internal/metrics"
)

const DefaultMaxBytes = 5 << 20 // 5 MiB

var ErrTooLarge = errors.New("upload_too_large")

type Receiver struct {
	Dir      string
	MaxBytes int64
}

func NewReceiver(dir string, maxBytes int64) (*Receiver, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("uploads dir: %w", err)
	}
	return &Receiver{Dir: dir, MaxBytes: maxBytes}, nil
}

// Store writes the upload under a generated name so colliding original
// filenames cannot clobber each other on disk. Uniqueness of the original
// filename is the store's business, not ours.
func (r *Receiver) Store(fh *multipart.FileHeader) (*core.FileRef, error) {
	if fh.Size > r.MaxBytes {
		return nil, fmt.Errorf("%d bytes: %w", fh.Size, ErrTooLarge)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	name := uuid.NewString() + filepath.Ext(fh.Filename)
	path := filepath.Join(r.Dir, name)

	dst, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, io.LimitReader(src, r.MaxBytes+1))
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	if n > r.MaxBytes {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%d bytes: %w", n, ErrTooLarge)
	}
	metrics.UploadBytes.Observe(float64(n))

	return &core.FileRef{
		StoragePath: path,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
	}, nil
}

// Discard removes a stored file whose submission was rejected, so rolled-back
// attachments do not leak disk space.
func (r *Receiver) Discard(ref *core.FileRef) {
	if ref == nil {
		return
	}
	_ = os.Remove(ref.StoragePath)
}
