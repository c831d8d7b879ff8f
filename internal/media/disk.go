// ABOUTME: Local-disk BlobStore used by the daemon in development and by tests
// ABOUTME: Stores blobs as files named by UUID under a configured directory

package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// defaultBytesPerSecond estimates audio duration for probing when no
// transcoding service is wired: 16 kHz, 16-bit, mono PCM.
const defaultBytesPerSecond = 32000

// DiskStore implements BlobStore on the local filesystem.
type DiskStore struct {
	dir            string
	bytesPerSecond int
	logger         *slog.Logger
}

// NewDiskStore creates a blob store rooted at dir, creating it if needed.
func NewDiskStore(dir string, logger *slog.Logger) (*DiskStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &DiskStore{
		dir:            dir,
		bytesPerSecond: defaultBytesPerSecond,
		logger:         logger.With("component", "diskstore"),
	}, nil
}

// Upload writes data to a new file and returns its name as the reference.
func (d *DiskStore) Upload(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ref := uuid.New().String()
	path := filepath.Join(d.dir, ref)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing blob: %w", err)
	}

	d.logger.Debug("blob stored", "ref", ref, "size", len(data))
	return ref, nil
}

// Probe stats the stored file. Duration is estimated from the byte count
// at a nominal PCM rate; a real transcoding collaborator replaces this.
func (d *DiskStore) Probe(ctx context.Context, ref string) (AudioInfo, error) {
	if err := ctx.Err(); err != nil {
		return AudioInfo{}, err
	}

	info, err := os.Stat(filepath.Join(d.dir, ref))
	if err != nil {
		return AudioInfo{}, fmt.Errorf("stat blob %s: %w", ref, err)
	}

	duration := time.Duration(info.Size()) * time.Second / defaultBytesPerSecond
	return AudioInfo{Duration: duration, Size: info.Size()}, nil
}

// Path returns the filesystem path for a reference. Used by local
// transcription commands that read the audio directly.
func (d *DiskStore) Path(ref string) string {
	return filepath.Join(d.dir, ref)
}
