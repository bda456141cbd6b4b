// Package playlist parses m3u/m3u8 playlists and reads the title, artist
// and duration of the tracks they reference.
//
// No tag-reading library appears anywhere in the example pack, and this
// parsing is explicitly out of the protocol's scope, so tags are read by
// shelling out to ffprobe (already a required dependency of the transcode
// step) and parsing its JSON report with the standard library, rather than
// introducing a new third-party tag-reading dependency for a thin glue
// layer.
package playlist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// SupportedExtensions are the playlist file extensions watched for new
// work.
var SupportedExtensions = []string{".m3u", ".m3u8"}

var trackLineRegexp = regexp.MustCompile(`(?i)^.*\.(mp3|wav|flac|aac|m4a|ogg)\s*$`)

// Track is one entry in a playlist, with its audio tags resolved.
type Track struct {
	Path     string
	Title    string
	Artist   string
	Duration float64 // seconds
}

// Playlist is a parsed m3u/m3u8 file with every track's tags resolved
// against musicDir.
type Playlist struct {
	Path   string
	Tracks []Track
}

// Load parses the playlist at path, resolving relative track paths
// against musicDir and reading tags with ffprobe.
func Load(ctx context.Context, path, musicDir, ffprobePath string) (*Playlist, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("playlist: read %s: %w", path, err)
	}

	var tracks []Track
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !trackLineRegexp.MatchString(line) {
			continue
		}
		trackPath := resolveTrackPath(musicDir, line)
		title, artist, duration, err := readTags(ctx, ffprobePath, trackPath)
		if err != nil {
			return nil, fmt.Errorf("playlist: read tags for %s: %w", trackPath, err)
		}
		tracks = append(tracks, Track{Path: trackPath, Title: title, Artist: artist, Duration: duration})
	}

	return &Playlist{Path: path, Tracks: tracks}, nil
}

// resolveTrackPath joins a (possibly Windows-style) playlist entry onto
// musicDir, discarding everything up to and including the entry's first
// path component: playlists are typically authored on the machine that
// ripped the music, not the one running this uploader, so only the path
// below that first component travels.
func resolveTrackPath(musicDir, entry string) string {
	normalized := strings.ReplaceAll(entry, `\`, "/")
	parts := strings.Split(normalized, "/")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return filepath.Join(append([]string{musicDir}, parts...)...)
}

// Title returns the playlist's display title: its filename without
// extension.
func (p *Playlist) Title() string {
	base := filepath.Base(p.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Count returns the number of tracks in the playlist.
func (p *Playlist) Count() int {
	return len(p.Tracks)
}

// Duration returns the total duration of the playlist in seconds.
func (p *Playlist) Duration() float64 {
	var total float64
	for _, t := range p.Tracks {
		total += t.Duration
	}
	return total
}

// IsSingleArtist reports whether every track shares the same artist tag.
func (p *Playlist) IsSingleArtist() bool {
	artists := map[string]struct{}{}
	for _, t := range p.Tracks {
		artists[t.Artist] = struct{}{}
	}
	return len(artists) == 1
}

// FindNextPlaylist returns the path of the first supported playlist file
// found directly inside dir, or "" if none is present. Entries are sorted
// by name so batches are processed in a stable order.
func FindNextPlaylist(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("playlist: read dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, supported := range SupportedExtensions {
			if ext == supported {
				names = append(names, e.Name())
				break
			}
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), nil
}

type ffprobeFormat struct {
	Duration string            `json:"duration"`
	Tags     map[string]string `json:"tags"`
}

type ffprobeOutput struct {
	Format ffprobeFormat `json:"format"`
}

func readTags(ctx context.Context, ffprobePath, trackPath string) (title, artist string, duration float64, err error) {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "quiet", "-print_format", "json", "-show_format", trackPath)
	out, err := cmd.Output()
	if err != nil {
		return "", "", 0, fmt.Errorf("ffprobe: %w", err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return "", "", 0, fmt.Errorf("parse ffprobe output: %w", err)
	}

	duration, _ = strconv.ParseFloat(probe.Format.Duration, 64)
	title = tagValue(probe.Format.Tags, "title")
	if title == "" {
		base := filepath.Base(trackPath)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	artist = tagValue(probe.Format.Tags, "artist")
	return title, artist, duration, nil
}

// tagValue looks a tag up case-insensitively: ffprobe's tag key casing
// varies by container format (Vorbis "TITLE" vs. "title").
func tagValue(tags map[string]string, key string) string {
	for k, v := range tags {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
