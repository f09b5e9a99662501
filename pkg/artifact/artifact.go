// Package artifact stores diagnostic files (failure screenshots) where an
// operator can find them after a run.
package artifact

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

// DefaultUploadTimeout bounds one Upload inside Capture.
const DefaultUploadTimeout = 15 * time.Second

// Uploader publishes a local file and returns where it can be viewed.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// Nop discards every upload and reports the local path back.
type Nop struct{}

func (Nop) Upload(_ context.Context, localPath string) (string, error) {
	return localPath, nil
}

// DirUploader copies files into a local directory, one subdirectory per day.
type DirUploader struct {
	dir string
	now func() time.Time
}

// NewDirUploader creates dir if needed.
func NewDirUploader(dir string) (*DirUploader, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &DirUploader{dir: dir, now: time.Now}, nil
}

// Dir returns the root directory.
func (u *DirUploader) Dir() string { return u.dir }

// Upload copies localPath to <dir>/<yyyy-mm-dd>/<name> atomically and
// returns a file:// URL to the copy.
func (u *DirUploader) Upload(ctx context.Context, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	day := filepath.Join(u.dir, u.now().Format("2006-01-02"))
	if err := os.MkdirAll(day, 0o755); err != nil {
		return "", fmt.Errorf("create artifact day directory: %w", err)
	}
	dst := filepath.Join(day, filepath.Base(localPath))

	pending, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return "", fmt.Errorf("create pending artifact: %w", err)
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, src); err != nil {
		return "", fmt.Errorf("copy artifact: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("atomically replace artifact: %w", err)
	}

	abs, err := filepath.Abs(dst)
	if err != nil {
		abs = dst
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// Screenshotter is anything that can save a picture of itself to a path.
type Screenshotter interface {
	Screenshot(path string) error
}

// Capture saves a screenshot of s under dir and uploads it. The upload gets
// its own timeout and survives cancellation of ctx.
func Capture(ctx context.Context, s Screenshotter, u Uploader, dir, prefix, key string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, Name(prefix, key, time.Now()))
	if err := s.Screenshot(path); err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}

	upCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultUploadTimeout)
	defer cancel()
	link, err := u.Upload(upCtx, path)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return link, nil
}

// Name builds a screenshot file name safe for any filesystem.
func Name(prefix, sku string, at time.Time) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, sku)
	return fmt.Sprintf("%s-%s-%s.png", prefix, clean, at.Format("20060102-150405.000"))
}
