// ABOUTME: Contracts for object storage and speech-to-text collaborators
// ABOUTME: Consumed by the recording service, implemented by injected clients

package media

import (
	"context"
	"time"
)

// AudioInfo describes a stored audio object
type AudioInfo struct {
	Duration time.Duration
	Size     int64
}

// BlobStore stores finalized session audio and probes its properties.
type BlobStore interface {
	// Upload stores data and returns an opaque reference to it.
	Upload(ctx context.Context, data []byte) (string, error)

	// Probe returns the duration and size of a stored object.
	Probe(ctx context.Context, ref string) (AudioInfo, error)
}

// Transcriber turns a stored audio reference into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, ref string) (string, error)
}

// TranscriberFunc adapts a function to the Transcriber interface.
type TranscriberFunc func(ctx context.Context, ref string) (string, error)

// Transcribe calls f.
func (f TranscriberFunc) Transcribe(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}
