// ABOUTME: Transcriber that shells out to an external speech-to-text command
// ABOUTME: The command receives the audio file path and prints text to stdout

package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// CommandTranscriber runs an external command for each transcription,
// appending the blob's filesystem path as the final argument and reading
// the transcript from stdout.
type CommandTranscriber struct {
	command []string
	blobs   *DiskStore
	logger  *slog.Logger
}

// NewCommandTranscriber creates a transcriber for the given argv. The
// blob store resolves references to local paths.
func NewCommandTranscriber(command []string, blobs *DiskStore, logger *slog.Logger) (*CommandTranscriber, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("transcribe command is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandTranscriber{
		command: command,
		blobs:   blobs,
		logger:  logger.With("component", "transcriber"),
	}, nil
}

// Transcribe runs the command against the referenced audio file.
func (c *CommandTranscriber) Transcribe(ctx context.Context, ref string) (string, error) {
	args := append(append([]string{}, c.command[1:]...), c.blobs.Path(ref))
	cmd := exec.CommandContext(ctx, c.command[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		c.logger.Error("transcribe command failed",
			"ref", ref,
			"error", err,
			"stderr", stderr.String())
		return "", fmt.Errorf("running transcribe command: %w", err)
	}

	return strings.TrimSpace(stdout.String()), nil
}
