package engine

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/snapvault/snapvault/pkg/telemetry"
)

// DefaultBatchSize caps candidates per invocation so one batch finishes well
// inside the trigger cadence.
const DefaultBatchSize = 15

// supportedExtensions are the capture content types the pipeline processes.
// Anything else in the inbox is skipped and logged, never retried.
var supportedExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "webp": true,
	"heic": true, "heif": true, "bmp": true, "gif": true,
}

// SupportedCapture reports whether an inbox entry is a processable capture.
func SupportedCapture(doc Document) bool {
	if !strings.HasPrefix(doc.MimeType, "image/") {
		return false
	}
	idx := strings.LastIndex(doc.Name, ".")
	if idx < 0 {
		return false
	}
	return supportedExtensions[strings.ToLower(doc.Name[idx+1:])]
}

// Lister enumerates unclaimed pending candidates from the inbox. Read-only:
// it mutates neither the store nor the journal.
type Lister struct {
	store     DocumentStore
	journal   Journal
	claims    *ClaimManager
	inboxID   string
	batchSize int
}

// NewLister creates a candidate lister over the given inbox folder. A
// non-positive batchSize falls back to DefaultBatchSize.
func NewLister(store DocumentStore, journal Journal, claims *ClaimManager, inboxFolderID string, batchSize int) *Lister {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Lister{store: store, journal: journal, claims: claims, inboxID: inboxFolderID, batchSize: batchSize}
}

// Candidates returns pending source items in capture order, excluding
// unsupported content, items in a terminal journal state, and items shielded
// by a live claim. The returned slice is capped at the batch size.
//
// Inbox membership plus journal status is the whole selection authority:
// done items leave the inbox when archived, so the checkpoint cursor the
// processor maintains is a recovery watermark for operators, not a listing
// filter. Filtering on it would wrongly hide a pending capture whose
// timestamp trails an already-finished one.
func (l *Lister) Candidates(ctx context.Context) ([]SourceItem, error) {
	log := telemetry.FromContext(ctx)

	docs, err := l.store.List(ctx, l.inboxID)
	if err != nil {
		return nil, NewTransientError("listing inbox", err)
	}

	var items []SourceItem
	for _, doc := range docs {
		if strings.HasSuffix(doc.Name, ".claim") {
			continue
		}
		if !SupportedCapture(doc) {
			log.WithField("name", doc.Name).Debug("skipping unsupported inbox entry")
			continue
		}

		item := SourceItem{
			ID:         doc.ID,
			Name:       doc.Name,
			MimeType:   doc.MimeType,
			CapturedAt: doc.ModifiedAt,
			Status:     ItemStatusPending,
		}

		known, err := l.journal.GetItem(ctx, doc.ID)
		switch {
		case err == nil:
			if known.Status == ItemStatusDone || known.Status == ItemStatusFailed {
				continue
			}
			item.Status = known.Status
		case errors.Is(err, ErrNotFound):
			// New capture, not journalled yet.
		default:
			return nil, err
		}

		claimed, err := l.claims.IsClaimed(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		if claimed {
			log.WithItemID(doc.ID).Debug("skipping item with live claim")
			continue
		}

		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].CapturedAt.Equal(items[j].CapturedAt) {
			return items[i].Name < items[j].Name
		}
		return items[i].CapturedAt.Before(items[j].CapturedAt)
	})

	if len(items) > l.batchSize {
		items = items[:l.batchSize]
	}
	return items, nil
}
