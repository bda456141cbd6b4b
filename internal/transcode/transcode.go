// Package transcode wraps ffmpeg to produce the raw big-endian PCM stream
// the NetMD wire protocol expects from arbitrary source audio.
package transcode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Session is a transcoded copy of a source track, living at a temporary
// path until Close removes it.
type Session struct {
	path string
}

// ToPCM runs ffmpeg against srcPath, producing 16-bit big-endian PCM at a
// temporary path. The caller must call Close when done with the result.
func ToPCM(ctx context.Context, ffmpegPath, srcPath string) (*Session, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	out, err := os.CreateTemp("", "netmd-track-*.pcm")
	if err != nil {
		return nil, fmt.Errorf("transcode: create temp file: %w", err)
	}
	outPath := out.Name()
	out.Close()

	cmd := exec.CommandContext(ctx, ffmpegPath, "-y", "-i", srcPath, "-f", "s16be", outPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("transcode: ffmpeg failed: %w: %s", err, output)
	}
	return &Session{path: outPath}, nil
}

// Path is the location of the transcoded PCM file.
func (s *Session) Path() string {
	return s.path
}

// Close removes the temporary transcoded file.
func (s *Session) Close() error {
	if s == nil || s.path == "" {
		return nil
	}
	err := os.Remove(s.path)
	s.path = ""
	return err
}
