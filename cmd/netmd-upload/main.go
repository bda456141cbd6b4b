// Command netmd-upload reads a playlist, transcodes each track, and
// uploads the batch to an attached NetMD recorder over a single secure
// session, archiving the playlist once every track has landed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/pisarenko-net/md-uploader/internal/archive"
	"github.com/pisarenko-net/md-uploader/internal/config"
	"github.com/pisarenko-net/md-uploader/internal/playlist"
	"github.com/pisarenko-net/md-uploader/internal/transcode"
	"github.com/pisarenko-net/md-uploader/pkg/netmd"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	playlistPath := flag.String("playlist", "", "playlist file to upload; defaults to the next one found in the watch directory")
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx := context.Background()

	src := *playlistPath
	if src == "" {
		src, err = playlist.FindNextPlaylist(cfg.Library.WatchDir)
		if err != nil {
			log.Fatalf("find next playlist failed: %v", err)
		}
		if src == "" {
			slog.Info("no playlist waiting", "watch_dir", cfg.Library.WatchDir)
			return
		}
	}

	pl, err := playlist.Load(ctx, src, cfg.Library.WatchDir, "")
	if err != nil {
		log.Fatalf("load playlist failed: %v", err)
	}
	slog.Info("loaded playlist", "path", pl.Path, "tracks", pl.Count())

	ids, err := netmd.Enumerate()
	if err != nil {
		log.Fatalf("enumerate devices failed: %v", err)
	}
	if len(ids) == 0 {
		log.Fatal("no NetMD devices found")
	}
	index := 0
	if cfg.Runtime.DeviceIndex != nil {
		index = *cfg.Runtime.DeviceIndex
	}
	if index >= len(ids) {
		log.Fatalf("device index %d out of range (%d devices found)", index, len(ids))
	}

	handle, err := netmd.Open(ids[index])
	if err != nil {
		log.Fatalf("open device failed: %v", err)
	}
	defer handle.Close()

	dev := netmd.NewDevice(handle)
	orch, err := netmd.NewOrchestrator(dev, cfg.Transfer.Unprotected)
	if err != nil {
		log.Fatalf("open secure session failed: %v", err)
	}
	defer orch.Close()

	wireFormat, err := wireFormatFromConfig(cfg.Transfer.WireFormat)
	if err != nil {
		log.Fatalf("%v", err)
	}

	descriptors := make([]netmd.TrackDescriptor, 0, len(pl.Tracks))
	var sessions []*transcode.Session
	defer func() {
		for _, s := range sessions {
			s.Close()
		}
	}()

	for _, track := range pl.Tracks {
		ts, err := transcode.ToPCM(ctx, cfg.Transfer.FFmpegPath, track.Path)
		if err != nil {
			log.Fatalf("transcode %s failed: %v", track.Path, err)
		}
		sessions = append(sessions, ts)

		info, err := os.Stat(ts.Path())
		if err != nil {
			log.Fatalf("stat transcoded file failed: %v", err)
		}
		f, err := os.Open(ts.Path())
		if err != nil {
			log.Fatalf("open transcoded file failed: %v", err)
		}
		defer f.Close()

		descriptors = append(descriptors, netmd.TrackDescriptor{
			Reader:     f,
			Size:       info.Size(),
			Title:      track.Title,
			WireFormat: wireFormat,
		})
	}

	results, err := orch.DownloadAll(ctx, descriptors)
	if err != nil {
		log.Fatalf("upload failed after %d track(s): %v", len(results), err)
	}
	slog.Info("upload complete", "tracks", len(results))

	if err := archive.Move(pl.Path, cfg.Library.ArchiveDir); err != nil {
		log.Fatalf("archive playlist failed: %v", err)
	}
	slog.Info("archived playlist", "path", pl.Path, "archive_dir", cfg.Library.ArchiveDir)
}

func wireFormatFromConfig(name string) (netmd.WireFormat, error) {
	switch strings.ToLower(name) {
	case "pcm":
		return netmd.WireFormatPCM, nil
	case "lp2":
		return netmd.WireFormatLP2, nil
	case "105kbps":
		return netmd.WireFormat105Kbps, nil
	case "lp4":
		return netmd.WireFormatLP4, nil
	default:
		return 0, fmt.Errorf("unknown wire format %q", name)
	}
}
