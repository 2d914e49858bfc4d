package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/snapvault/snapvault/pkg/telemetry"
)

// maxRMWAttempts bounds the read-modify-write retries after a detected
// optimistic conflict before the mutation surfaces a conflict error and is
// left for the next invocation.
const maxRMWAttempts = 3

// VaultLayout names the fixed locations the pipeline works against inside
// the document store.
type VaultLayout struct {
	// RootID is the vault root folder.
	RootID string

	// InboxID is the capture inbox folder.
	InboxID string

	// ArchiveID is where processed captures and their sidecars land.
	ArchiveID string

	// ClaimsID is where claim markers live.
	ClaimsID string

	// DailyNotesFolder is the vault-relative folder name of daily notes.
	DailyNotesFolder string
}

// Mutator applies destination mutations against the weakly-transactional
// store. Every apply is guarded by the mutation's idempotency key: a key the
// journal already records as applied is skipped without a second write, which
// is what makes retries and overlapping invocations safe.
type Mutator struct {
	store   DocumentStore
	journal Journal
	tasks   TaskClient
	layout  VaultLayout
}

// NewMutator creates a mutation engine over the given collaborators.
func NewMutator(store DocumentStore, journal Journal, tasks TaskClient, layout VaultLayout) *Mutator {
	return &Mutator{store: store, journal: journal, tasks: tasks, layout: layout}
}

// Apply executes one destination mutation and records the outcome in the
// journal. The returned error is classified: transient and conflict errors
// leave the mutation pending for the next invocation, permanent errors mark
// it failed. Failed rows are still re-attempted by later invocations, so a
// repaired destination converges without operator intervention.
func (m *Mutator) Apply(ctx context.Context, mut DestinationMutation) error {
	log := telemetry.FromContext(ctx).WithMutationKey(mut.IdempotencyKey).WithDestination(mut.DestinationKey)
	tel := telemetry.FromTelemetryContext(ctx)

	applied, err := m.journal.IsApplied(ctx, mut.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("checking idempotency key: %w", err)
	}
	if applied {
		log.Debug("mutation already applied, skipping")
		if tel != nil {
			tel.Metrics.RecordMutationSkip()
		}
		return nil
	}

	attempts := mut.Attempts + 1
	err = m.dispatch(ctx, mut)
	if err != nil {
		status := MutationPending
		if IsPermanent(err) {
			status = MutationFailed
		}
		if markErr := m.journal.MarkMutation(ctx, mut.IdempotencyKey, status, attempts, err.Error()); markErr != nil {
			log.WithError(markErr).Error("failed to journal mutation failure")
		}
		if tel != nil {
			tel.Metrics.RecordMutation(string(mut.Op), "error")
		}
		return err
	}

	if err := m.journal.MarkMutation(ctx, mut.IdempotencyKey, MutationApplied, attempts, ""); err != nil {
		// The destination write landed but the journal did not. Surface as
		// transient so the next invocation retries; for appends and task
		// creation that retry can duplicate the write, a window exactly one
		// journal write wide.
		return NewTransientError("journalling applied mutation", err)
	}
	if tel != nil {
		tel.Metrics.RecordMutation(string(mut.Op), "applied")
	}
	log.Debug("mutation applied")
	return nil
}

func (m *Mutator) dispatch(ctx context.Context, mut DestinationMutation) error {
	switch {
	case strings.HasPrefix(mut.DestinationKey, "daily:"):
		return m.applyDaily(ctx, mut)
	case strings.HasPrefix(mut.DestinationKey, "doc:"):
		return m.applyDoc(ctx, mut)
	case mut.DestinationKey == TaskDestinationKey:
		return m.applyTask(ctx, mut)
	case mut.Op == OpMove:
		return m.applyMove(ctx, mut)
	default:
		return NewPermanentError(fmt.Sprintf("unknown destination key %q", mut.DestinationKey), nil).
			WithItem(mut.SourceItemID).WithDestination(mut.DestinationKey)
	}
}

// applyDaily appends under a heading of the capture day's daily note,
// creating the note from the template on first write.
func (m *Mutator) applyDaily(ctx context.Context, mut DestinationMutation) error {
	day, _, ok := strings.Cut(strings.TrimPrefix(mut.DestinationKey, "daily:"), "#")
	if !ok {
		return NewPermanentError(fmt.Sprintf("malformed daily destination %q", mut.DestinationKey), nil)
	}

	folderID, err := m.store.ResolvePath(ctx, m.layout.RootID, m.layout.DailyNotesFolder)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewPermanentError("daily notes folder missing from vault", err)
		}
		return NewTransientError("resolving daily notes folder", err)
	}

	name := DailyNoteName(day)
	doc, err := m.store.Find(ctx, folderID, name)
	if errors.Is(err, ErrNotFound) {
		content := SpliceUnderHeading(DailyNoteTemplate(day), mut.Heading, mut.Payload)
		winnerID, created, err := m.createIfAbsent(ctx, folderID, name, []byte(content))
		if err != nil {
			return err
		}
		if created {
			return nil
		}
		// A concurrent creator won the race; its note does not carry this
		// payload, so land it with an append against the winner.
		return m.appendRMW(ctx, winnerID, mut.Heading, mut.Payload)
	}
	if err != nil {
		return NewTransientError("finding daily note", err)
	}

	return m.appendRMW(ctx, doc.ID, mut.Heading, mut.Payload)
}

// applyDoc appends to a vault-relative topic document, creating it with a
// title header on first write.
func (m *Mutator) applyDoc(ctx context.Context, mut DestinationMutation) error {
	path := strings.TrimPrefix(mut.DestinationKey, "doc:")
	folderPath, filename := "", path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		folderPath, filename = path[:idx], path[idx+1:]
	}

	folderID := m.layout.RootID
	if folderPath != "" {
		var err error
		folderID, err = m.store.ResolvePath(ctx, m.layout.RootID, folderPath)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return NewPermanentError(fmt.Sprintf("vault folder %q missing", folderPath), err)
			}
			return NewTransientError("resolving vault folder", err)
		}
	}

	doc, err := m.store.Find(ctx, folderID, filename)
	if errors.Is(err, ErrNotFound) {
		content := DocumentHeader(filename) + mut.Payload + "\n"
		winnerID, created, err := m.createIfAbsent(ctx, folderID, filename, []byte(content))
		if err != nil {
			return err
		}
		if created {
			return nil
		}
		return m.appendRMW(ctx, winnerID, "", mut.Payload)
	}
	if err != nil {
		return NewTransientError("finding destination document", err)
	}

	return m.appendRMW(ctx, doc.ID, "", mut.Payload)
}

// applyTask creates a task in the external task list.
func (m *Mutator) applyTask(ctx context.Context, mut DestinationMutation) error {
	req, err := DecodeTaskRequest(mut.Payload)
	if err != nil {
		return NewPermanentError("decoding task payload", err)
	}

	// The router carries the project hint in ProjectID; resolve it to a real
	// project, creating it when absent. Empty resolves to the inbox.
	projectID, err := m.tasks.ResolveProject(ctx, req.ProjectID)
	if err != nil {
		return err
	}
	req.ProjectID = projectID

	if _, err := m.tasks.CreateTask(ctx, req); err != nil {
		return err
	}
	return nil
}

// applyMove relocates a document. Payload carries the target folder ID; a
// re-issued move to the current parent is a no-op success on the store side,
// which keeps the operation idempotent.
func (m *Mutator) applyMove(ctx context.Context, mut DestinationMutation) error {
	if err := m.store.Move(ctx, mut.SourceItemID, mut.Payload); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Already moved by a previous attempt.
			return nil
		}
		return NewTransientError("moving document", err).WithItem(mut.SourceItemID)
	}
	return nil
}

// createIfAbsent performs list-then-create. On a lost creation race it
// returns the winner's ID with created=false: the caller's payload is not in
// the winner's document and still has to be appended.
func (m *Mutator) createIfAbsent(ctx context.Context, folderID, name string, content []byte) (string, bool, error) {
	id, err := m.store.Create(ctx, folderID, name, content)
	if err == nil {
		return id, true, nil
	}

	existing, findErr := m.store.Find(ctx, folderID, name)
	if findErr == nil {
		return existing.ID, false, nil
	}
	return "", false, NewTransientError("creating document", err)
}

// appendRMW performs the optimistic read-modify-write: read, splice, re-read
// to detect a concurrent change inside this same call, then write. A detected
// change retries the whole cycle up to maxRMWAttempts before surfacing a
// conflict error.
func (m *Mutator) appendRMW(ctx context.Context, docID, heading, block string) error {
	tel := telemetry.FromTelemetryContext(ctx)

	for attempt := 1; attempt <= maxRMWAttempts; attempt++ {
		before, err := m.store.Read(ctx, docID)
		if err != nil {
			return NewTransientError("reading destination document", err)
		}

		updated := SpliceUnderHeading(string(before), heading, block)

		// Re-read immediately before writing: the backend has no native
		// transactional write, so this is the only change detection we get.
		check, err := m.store.Read(ctx, docID)
		if err != nil {
			return NewTransientError("re-reading destination document", err)
		}
		if !bytes.Equal(before, check) {
			if tel != nil {
				tel.Metrics.RecordMutationConflict()
			}
			continue
		}

		if err := m.store.Write(ctx, docID, []byte(updated)); err != nil {
			return NewTransientError("writing destination document", err)
		}
		return nil
	}

	return NewConflictError(fmt.Sprintf("document changed %d times during read-modify-write", maxRMWAttempts), nil)
}
