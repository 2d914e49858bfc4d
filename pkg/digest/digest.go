package digest

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/snapvault/snapvault/pkg/engine"
	"github.com/snapvault/snapvault/pkg/telemetry"
)

// Runner scans the dashboard, composes a digest, and delivers it.
type Runner struct {
	scanner  *Scanner
	notifier engine.Notifier
	chatID   string
	now      func() time.Time
}

func NewRunner(scanner *Scanner, notifier engine.Notifier, chatID string) *Runner {
	return &Runner{
		scanner:  scanner,
		notifier: notifier,
		chatID:   chatID,
		now:      time.Now,
	}
}

// Run fires one digest action. Digests are read-only; a duplicate firing
// sends a duplicate message and nothing else.
func (r *Runner) Run(ctx context.Context, kind engine.DigestKind) (engine.DigestEvent, error) {
	tel := telemetry.FromTelemetryContext(ctx)
	log := telemetry.FromContext(ctx).WithField("digest", string(kind))

	now := r.now()
	event := engine.DigestEvent{
		Kind:        kind,
		FiredAt:     now,
		WindowStart: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()),
	}
	event.WindowEnd = event.WindowStart.AddDate(0, 0, 1)

	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartDigestSpan(ctx, string(kind))
		defer span.End()
	}

	dash, err := r.scanner.Scan(ctx, now)
	if err != nil {
		if tel != nil {
			tel.Metrics.RecordDigest(string(kind), "scan_error")
			telemetry.RecordError(span, err)
		}
		return event, fmt.Errorf("scanning dashboard: %w", err)
	}

	text := Compose(kind, dash, now)
	if text == "" {
		return event, engine.NewPermanentError(fmt.Sprintf("unknown digest kind %q", kind), nil)
	}

	if err := r.notifier.Send(ctx, r.chatID, text); err != nil {
		if tel != nil {
			tel.Metrics.RecordDigest(string(kind), "send_error")
			telemetry.RecordError(span, err)
		}
		return event, fmt.Errorf("sending digest: %w", err)
	}

	if tel != nil {
		tel.Metrics.RecordDigest(string(kind), "sent")
		telemetry.RecordSuccess(span)
	}
	log.Info("digest sent")
	return event, nil
}
