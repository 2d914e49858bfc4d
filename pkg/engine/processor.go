package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/snapvault/snapvault/pkg/telemetry"
)

// Processor orchestrates one batch invocation: list, claim, classify, route,
// apply, archive, checkpoint. It owns no long-lived state; everything needed
// to resume after a crash lives in the journal and the claim markers.
type Processor struct {
	store    DocumentStore
	journal  Journal
	lister   *Lister
	claims   *ClaimManager
	analyzer Analyzer
	router   *Router
	mutator  *Mutator
	archiver *Archiver
	now      func() time.Time
}

// NewProcessor wires a processor from its collaborators.
func NewProcessor(
	store DocumentStore,
	journal Journal,
	lister *Lister,
	claims *ClaimManager,
	analyzer Analyzer,
	router *Router,
	mutator *Mutator,
	archiver *Archiver,
) *Processor {
	return &Processor{
		store:    store,
		journal:  journal,
		lister:   lister,
		claims:   claims,
		analyzer: analyzer,
		router:   router,
		mutator:  mutator,
		archiver: archiver,
		now:      time.Now,
	}
}

// Run executes one batch invocation and returns its summary. A credential
// error aborts the remainder of the batch and is returned alongside the
// partial summary; other per-item errors are absorbed into item outcomes.
func (p *Processor) Run(ctx context.Context) (*BatchSummary, error) {
	batchID := uuid.New().String()
	log := telemetry.FromContext(ctx).WithBatchID(batchID)
	ctx = log.WithContext(ctx)
	tel := telemetry.FromTelemetryContext(ctx)
	started := p.now()

	if tel != nil {
		tel.Metrics.RecordBatchStarted()
		var span trace.Span
		ctx, span = tel.Tracer.StartBatchSpan(ctx, batchID)
		defer span.End()
	}

	summary := &BatchSummary{BatchID: batchID}

	items, err := p.lister.Candidates(ctx)
	if err != nil {
		p.finishBatch(tel, "error", started)
		return summary, err
	}
	summary.Found = len(items)
	log.WithField("found", len(items)).Info("batch started")

	cursor := time.Time{}
	if cp, err := p.journal.Checkpoint(ctx); err == nil {
		cursor = cp.Cursor
	} else if !errors.Is(err, ErrNotFound) {
		p.finishBatch(tel, "error", started)
		return summary, err
	}

	for _, item := range items {
		res, err := p.processItem(ctx, item)
		summary.Results = append(summary.Results, res)

		switch res.Status {
		case ItemStatusDone:
			summary.Processed++
			if item.CapturedAt.After(cursor) {
				cursor = item.CapturedAt
			}
		case ItemStatusPartial:
			summary.Partial++
		case ItemStatusFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
		if tel != nil {
			tel.Metrics.RecordItemOutcome(string(res.Status))
		}

		if IsAuth(err) {
			// Credentials are gone for every remaining item too. Stop here;
			// in-flight claims expire on their own.
			log.WithError(err).Error("credential failure, aborting batch")
			p.finishBatch(tel, "auth_error", started)
			return summary, err
		}
	}

	cp := Checkpoint{Cursor: cursor, LastRunAt: p.now()}
	if err := p.journal.SaveCheckpoint(ctx, cp); err != nil {
		log.WithError(err).Warn("failed to save checkpoint")
	}

	log.WithFields(map[string]interface{}{
		"processed": summary.Processed,
		"partial":   summary.Partial,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
	}).Info("batch completed")
	p.finishBatch(tel, "ok", started)
	return summary, nil
}

func (p *Processor) finishBatch(tel *telemetry.Telemetry, status string, started time.Time) {
	if tel != nil {
		tel.Metrics.RecordBatchCompleted(status, p.now().Sub(started))
	}
}

// processItem drives one source item as far as it can go this invocation.
// The returned error is non-nil only for credential failures the caller must
// react to; every other outcome is expressed in the ItemResult.
func (p *Processor) processItem(ctx context.Context, item SourceItem) (ItemResult, error) {
	log := telemetry.FromContext(ctx).WithItemID(item.ID)
	ctx = log.WithContext(ctx)
	tel := telemetry.FromTelemetryContext(ctx)
	if tel != nil {
		var span trace.Span
		ctx, span = tel.Tracer.StartItemSpan(ctx, item.ID, item.Name)
		defer span.End()
	}

	res := ItemResult{ItemID: item.ID, OriginalName: item.Name, Status: item.Status}
	if res.Status == "" {
		res.Status = ItemStatusPending
	}

	token, err := p.claims.Claim(ctx, item)
	if errors.Is(err, ErrAlreadyClaimed) {
		log.Debug("lost claim race, skipping item")
		if tel != nil {
			tel.Metrics.RecordClaim("lost")
		}
		res.Status = ItemStatusPending
		return res, nil
	}
	if err != nil {
		log.WithError(err).Warn("claim attempt failed, skipping item")
		res.Status = ItemStatusPending
		return res, nil
	}
	if tel != nil {
		tel.Metrics.RecordClaim("won")
	}
	defer func() {
		if err := p.claims.Release(ctx, token); err != nil {
			log.WithError(err).Warn("failed to release claim")
		}
	}()

	item.Status = ItemStatusClaimed
	if err := p.journal.UpsertItem(ctx, item); err != nil {
		log.WithError(err).Warn("failed to journal claimed item")
		res.Status = ItemStatusPending
		return res, nil
	}

	analysis, err := p.classify(ctx, item)
	if err != nil {
		return p.recordItemError(ctx, item, res, err)
	}
	res.Summary = analysis.Summary

	muts, err := p.mutations(ctx, item, analysis)
	if err != nil {
		return p.recordItemError(ctx, item, res, err)
	}

	routed := map[FragmentType]int{}
	outstanding := 0
	var firstErr error
	for _, mut := range muts {
		if mut.Status == MutationApplied {
			countFragment(routed, analysis, mut.FragmentIndex)
			continue
		}
		// Pending and previously-failed rows both get an attempt: a failed
		// destination (a missing vault folder, say) may have been repaired
		// since the last invocation. One mutation's failure never blocks the
		// independent mutations behind it.
		if err := p.applyMutation(ctx, tel, mut); err != nil {
			if IsAuth(err) {
				firstErr = err
				break
			}
			if firstErr == nil {
				firstErr = err
			}
			outstanding++
			continue
		}
		countFragment(routed, analysis, mut.FragmentIndex)
	}
	res.Routed = routed

	switch {
	case IsAuth(firstErr):
		res.Status = ItemStatusPartial
		res.Error = firstErr.Error()
		p.markItem(ctx, item, ItemStatusPartial)
		return res, firstErr
	case outstanding > 0 || firstErr != nil:
		// Destination errors of every class leave the item partial and
		// re-listed next invocation; failed is reserved for classification
		// that can never succeed.
		res.Status = ItemStatusPartial
		if firstErr != nil {
			res.Error = firstErr.Error()
		}
		p.markItem(ctx, item, ItemStatusPartial)
		return res, nil
	}

	archived, err := p.archiver.Archive(ctx, item, analysis)
	if err != nil {
		if IsAuth(err) {
			res.Status = ItemStatusPartial
			res.Error = err.Error()
			p.markItem(ctx, item, ItemStatusPartial)
			return res, err
		}
		// Every destination write landed; only the archive is outstanding. The
		// next invocation retries the archive alone.
		log.WithError(err).Warn("archive failed, will retry next invocation")
		res.Status = ItemStatusPartial
		res.Error = err.Error()
		p.markItem(ctx, item, ItemStatusPartial)
		return res, nil
	}
	res.ArchivedName = archived
	res.Status = ItemStatusDone
	p.markItem(ctx, item, ItemStatusDone)
	return res, nil
}

// classify returns the persisted analysis when one exists, otherwise calls the
// external classifier exactly once for this item and persists the result.
func (p *Processor) classify(ctx context.Context, item SourceItem) (*AnalysisResult, error) {
	analysis, err := p.journal.GetAnalysis(ctx, item.ID)
	if err == nil {
		return analysis, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, NewTransientError("loading persisted analysis", err).WithItem(item.ID)
	}

	content, err := p.store.Read(ctx, item.ID)
	if err != nil {
		return nil, NewTransientError("reading capture content", err).WithItem(item.ID)
	}

	analysis, err = p.analyzer.Analyze(ctx, item.ID, content, item.MimeType)
	if err != nil {
		return nil, err
	}
	if err := p.journal.SaveAnalysis(ctx, analysis); err != nil {
		return nil, NewTransientError("persisting analysis", err).WithItem(item.ID)
	}
	return analysis, nil
}

// mutations returns the journalled mutation set for an item, deriving and
// journalling it first when this is the item's first pass. SaveMutations keeps
// the status of rows that already exist, so re-derivation after a crash never
// resets applied work.
func (p *Processor) mutations(ctx context.Context, item SourceItem, analysis *AnalysisResult) ([]DestinationMutation, error) {
	muts, err := p.journal.Mutations(ctx, item.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, NewTransientError("loading journalled mutations", err).WithItem(item.ID)
	}
	if len(muts) > 0 {
		return muts, nil
	}

	derived, err := p.router.Route(item, analysis)
	if err != nil {
		return nil, NewPermanentError("routing analysis", err).WithItem(item.ID)
	}
	if err := p.journal.SaveMutations(ctx, derived); err != nil {
		return nil, NewTransientError("journalling mutations", err).WithItem(item.ID)
	}
	return p.journal.Mutations(ctx, item.ID)
}

func (p *Processor) applyMutation(ctx context.Context, tel *telemetry.Telemetry, mut DestinationMutation) error {
	if tel != nil {
		spanCtx, span := tel.Tracer.StartMutationSpan(ctx, mut.IdempotencyKey, mut.DestinationKey, string(mut.Op))
		defer span.End()
		err := p.mutator.Apply(spanCtx, mut)
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		return err
	}
	return p.mutator.Apply(ctx, mut)
}

// recordItemError resolves a classified per-item error into a terminal or
// retryable outcome.
func (p *Processor) recordItemError(ctx context.Context, item SourceItem, res ItemResult, err error) (ItemResult, error) {
	log := telemetry.FromContext(ctx).WithItemID(item.ID)
	res.Error = err.Error()

	switch {
	case IsAuth(err):
		res.Status = ItemStatusPartial
		p.markItem(ctx, item, ItemStatusPartial)
		return res, err
	case IsPermanent(err):
		log.WithError(err).Error("permanent error, item excluded from retry")
		res.Status = ItemStatusFailed
		p.markItem(ctx, item, ItemStatusFailed)
		return res, nil
	default:
		log.WithError(err).Warn("retryable error, item left for next invocation")
		res.Status = ItemStatusPartial
		p.markItem(ctx, item, ItemStatusPartial)
		return res, nil
	}
}

func (p *Processor) markItem(ctx context.Context, item SourceItem, status ItemStatus) {
	item.Status = status
	if err := p.journal.UpsertItem(ctx, item); err != nil {
		telemetry.FromContext(ctx).WithItemID(item.ID).WithError(err).Warn("failed to journal item status")
	}
}

func countFragment(routed map[FragmentType]int, analysis *AnalysisResult, fragmentIndex int) {
	if fragmentIndex >= 0 && fragmentIndex < len(analysis.Fragments) {
		routed[analysis.Fragments[fragmentIndex].Type]++
	}
}
