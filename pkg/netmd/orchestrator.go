package netmd

import (
	"context"
	"fmt"
)

// Orchestrator drives a batch of track downloads over a single secure
// session: opening and tearing down a session per track wastes a nonce
// exchange and an EKB delivery round trip for every file, so a whole
// playlist shares one.
type Orchestrator struct {
	dev     *Device
	session *Session
}

// NewOrchestrator opens the underlying secure session. When unprotected is
// true it first disables new track protection (a not-implemented reply is
// ignored), so every download in the batch comes in unprotected.
func NewOrchestrator(dev *Device, unprotected bool) (*Orchestrator, error) {
	if unprotected {
		if err := dev.DisableNewTrackProtection(true); err != nil && !IsNotImplemented(err) {
			return nil, fmt.Errorf("netmd: disable track protection: %w", err)
		}
	}
	session, err := dev.OpenSecureSession()
	if err != nil {
		return nil, err
	}
	return &Orchestrator{dev: dev, session: session}, nil
}

// DownloadTrack uploads a single track through the shared session.
func (o *Orchestrator) DownloadTrack(ctx context.Context, t TrackDescriptor) (TrackResult, error) {
	if o.session == nil {
		return TrackResult{}, &ArgumentError{Message: "orchestrator session already closed"}
	}
	return o.session.DownloadTrack(ctx, t)
}

// DownloadAll uploads every track in order, stopping at the first error.
// It returns the results gathered so far alongside the error so a caller
// can report which tracks did land on the disc.
func (o *Orchestrator) DownloadAll(ctx context.Context, tracks []TrackDescriptor) ([]TrackResult, error) {
	results := make([]TrackResult, 0, len(tracks))
	for i, t := range tracks {
		result, err := o.DownloadTrack(ctx, t)
		if err != nil {
			return results, fmt.Errorf("netmd: download track %d (%q): %w", i, t.Title, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// Close leaves the secure session. It is safe to call more than once.
func (o *Orchestrator) Close() error {
	if o.session == nil {
		return nil
	}
	err := o.session.Close()
	o.session = nil
	return err
}
