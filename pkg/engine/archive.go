package engine

import (
	"context"
	"errors"
	"time"

	"github.com/snapvault/snapvault/pkg/telemetry"
)

// Archiver moves fully processed captures out of the inbox, renaming them
// descriptively and persisting the analysis record beside them. Every step is
// individually idempotent so a crashed archive resumes cleanly: the sidecar is
// created find-first, the rename converges on the target name, and moving an
// already-moved document is a no-op.
type Archiver struct {
	store    DocumentStore
	layout   VaultLayout
	timezone *time.Location
	now      func() time.Time
}

// NewArchiver creates an archiver over the given vault layout.
func NewArchiver(store DocumentStore, layout VaultLayout, tz *time.Location) *Archiver {
	if tz == nil {
		tz = time.UTC
	}
	return &Archiver{store: store, layout: layout, timezone: tz, now: time.Now}
}

// Archive finalizes a processed item: writes the analysis sidecar into the
// archive folder, renames the source to its descriptive name, and moves it out
// of the inbox. Returns the archived filename.
func (a *Archiver) Archive(ctx context.Context, item SourceItem, analysis *AnalysisResult) (string, error) {
	log := telemetry.FromContext(ctx).WithItemID(item.ID)
	day := item.CapturedAt.In(a.timezone).Format("2006-01-02")

	sidecar := SidecarName(analysis.FilenameSuggestion)
	_, err := a.store.Find(ctx, a.layout.ArchiveID, sidecar)
	if errors.Is(err, ErrNotFound) {
		content := RenderSidecar(analysis, item.Name, a.now())
		if _, err := a.createSidecar(ctx, sidecar, []byte(content)); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", NewTransientError("checking for analysis sidecar", err).WithItem(item.ID)
	}

	archived := ArchivedName(day, analysis.FilenameSuggestion, item.Name)
	if item.Name != archived {
		if err := a.store.Rename(ctx, item.ID, archived); err != nil {
			if errors.Is(err, ErrNotFound) {
				// Already archived by a previous attempt.
				return archived, nil
			}
			return "", NewTransientError("renaming archived capture", err).WithItem(item.ID)
		}
	}

	if err := a.store.Move(ctx, item.ID, a.layout.ArchiveID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return archived, nil
		}
		return "", NewTransientError("moving capture to archive", err).WithItem(item.ID)
	}

	log.WithField("archived_name", archived).Info("capture archived")
	return archived, nil
}

func (a *Archiver) createSidecar(ctx context.Context, name string, content []byte) (string, error) {
	id, err := a.store.Create(ctx, a.layout.ArchiveID, name, content)
	if err == nil {
		return id, nil
	}
	if existing, findErr := a.store.Find(ctx, a.layout.ArchiveID, name); findErr == nil {
		return existing.ID, nil
	}
	return "", NewTransientError("creating analysis sidecar", err)
}
