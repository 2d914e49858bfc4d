package engine

import (
	"encoding/json"
	"time"
)

// ItemStatus represents the lifecycle state of a captured source item.
type ItemStatus string

const (
	// ItemStatusPending indicates the item has been discovered but not yet processed.
	ItemStatusPending ItemStatus = "pending"

	// ItemStatusClaimed indicates an invocation is currently processing the item.
	ItemStatusClaimed ItemStatus = "claimed"

	// ItemStatusPartial indicates some destination writes succeeded and some are
	// still outstanding; a later invocation resumes only the outstanding subset.
	ItemStatusPartial ItemStatus = "partial"

	// ItemStatusDone indicates every destination mutation has been applied and the
	// source has been archived.
	ItemStatusDone ItemStatus = "done"

	// ItemStatusFailed indicates classification that can never succeed (an
	// invalid classifier response); the item is excluded from automatic
	// retry. Destination failures never set this status: those items stay
	// partial and are re-attempted each invocation.
	ItemStatusFailed ItemStatus = "failed"
)

// SourceItem is one captured piece of content awaiting classification and routing.
type SourceItem struct {
	// ID is the document-store identifier of the capture.
	ID string `json:"id"`

	// Name is the original filename of the capture.
	Name string `json:"name"`

	// MimeType is the content type reported by the store.
	MimeType string `json:"mime_type"`

	// CapturedAt is when the capture landed in the inbox.
	CapturedAt time.Time `json:"captured_at"`

	// Status is the current lifecycle state.
	Status ItemStatus `json:"status"`
}

// FragmentType classifies a routable unit extracted from a capture.
// The set is closed: anything else from the classifier is a permanent
// validation error.
type FragmentType string

const (
	FragmentTask      FragmentType = "TASK"
	FragmentEvent     FragmentType = "EVENT"
	FragmentIdea      FragmentType = "IDEA"
	FragmentDiary     FragmentType = "DIARY"
	FragmentReference FragmentType = "REFERENCE"
	FragmentFinance   FragmentType = "FINANCE"
)

// FragmentTypes lists every valid fragment type.
var FragmentTypes = []FragmentType{
	FragmentTask, FragmentEvent, FragmentIdea,
	FragmentDiary, FragmentReference, FragmentFinance,
}

// Priority is the classifier's urgency label for a fragment.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ClassifiedFragment is one typed, routable unit of an analysis result.
// Ordering within AnalysisResult.Fragments is significant and is preserved
// in destination writes.
type ClassifiedFragment struct {
	// Type is one of the six closed fragment kinds.
	Type FragmentType `json:"type"`

	// Content is the clean, readable text of the fragment.
	Content string `json:"content"`

	// Priority is high, medium, or low.
	Priority Priority `json:"priority"`

	// DueDate is an optional calendar date.
	DueDate *time.Time `json:"due_date,omitempty"`

	// ProjectHint optionally names a task-list project for TASK fragments.
	ProjectHint string `json:"project_hint,omitempty"`

	// Tags are optional labels carried through to the task list.
	Tags []string `json:"tags,omitempty"`
}

// AnalysisResult is the structured output produced once per SourceItem by the
// classifier. It is immutable after validation and is persisted alongside the
// archived source for auditability.
type AnalysisResult struct {
	// SourceItemID ties the analysis back to the capture.
	SourceItemID string `json:"source_item_id"`

	// Summary is a one-line description of the capture.
	Summary string `json:"summary"`

	// Language is the detected primary language.
	Language string `json:"language"`

	// Transcript is the exact text visible in the capture.
	Transcript string `json:"transcript"`

	// FilenameSuggestion is a short hyphenated name for the archived file.
	FilenameSuggestion string `json:"filename_suggestion"`

	// Fragments are the routable units, in classifier order.
	Fragments []ClassifiedFragment `json:"fragments"`
}

// MutationOp is the write semantics of a destination mutation.
type MutationOp string

const (
	// OpAppend reads the destination document, splices the payload in, and
	// writes it back under an optimistic re-read check.
	OpAppend MutationOp = "append"

	// OpCreateIfAbsent creates the destination document when missing; a lost
	// creation race counts as success.
	OpCreateIfAbsent MutationOp = "createIfAbsent"

	// OpMove relocates a resource; re-issuing a completed move is a no-op.
	OpMove MutationOp = "move"
)

// MutationStatus is the journal state of a destination mutation.
type MutationStatus string

const (
	MutationPending MutationStatus = "pending"
	MutationApplied MutationStatus = "applied"
	MutationFailed  MutationStatus = "failed"
)

// DestinationMutation is one idempotent write derived from a classified
// fragment. Re-applying a mutation with the same idempotency key never
// changes the final document state versus applying it once.
type DestinationMutation struct {
	// SourceItemID is the capture this mutation was derived from.
	SourceItemID string `json:"source_item_id"`

	// FragmentIndex is the position of the originating fragment within the
	// analysis result.
	FragmentIndex int `json:"fragment_index"`

	// DestinationKey names the target, e.g. "daily:2025-06-01#Tasks",
	// "doc:Ideas" or "ticktick:task".
	DestinationKey string `json:"destination_key"`

	// Op is the write semantics.
	Op MutationOp `json:"op"`

	// Payload is the rendered content for the destination. For task-list
	// mutations it is a JSON-encoded task request.
	Payload string `json:"payload"`

	// Heading, when set, is the markdown heading the payload is spliced
	// under (append only).
	Heading string `json:"heading,omitempty"`

	// IdempotencyKey is the deterministic hash of
	// (sourceItemId, fragmentIndex, destinationKey, op).
	IdempotencyKey string `json:"idempotency_key"`

	// Status is the journal state.
	Status MutationStatus `json:"status"`

	// Attempts counts apply attempts across invocations.
	Attempts int `json:"attempts"`

	// LastError is the most recent apply error, if any.
	LastError string `json:"last_error,omitempty"`
}

// Checkpoint marks processing progress across invocations. Single writer per
// invocation: read at the start of candidate listing, written at the end.
type Checkpoint struct {
	// Cursor is the CapturedAt watermark of the newest fully processed item.
	Cursor time.Time `json:"cursor"`

	// LastRunAt is when the last batch invocation completed.
	LastRunAt time.Time `json:"last_run_at"`
}

// DigestKind identifies one of the scheduled read-only digest actions.
type DigestKind string

const (
	DigestMorningBriefing DigestKind = "morning_briefing"
	DigestNudge           DigestKind = "nudge"
	DigestEveningReview   DigestKind = "evening_review"
)

// DigestEvent describes one firing of a digest action. Ephemeral; it is not
// persisted beyond the notification it produces.
type DigestEvent struct {
	// Kind is the digest action identifier.
	Kind DigestKind `json:"kind"`

	// FiredAt is when the trigger fired.
	FiredAt time.Time `json:"fired_at"`

	// WindowStart and WindowEnd bound the day window the digest covers.
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// ItemResult summarizes the outcome of processing a single source item.
type ItemResult struct {
	// ItemID is the source item processed.
	ItemID string `json:"item_id"`

	// OriginalName is the filename before archiving.
	OriginalName string `json:"original_name"`

	// ArchivedName is the descriptive name given on archive, when reached.
	ArchivedName string `json:"archived_name,omitempty"`

	// Status is the item status after this invocation.
	Status ItemStatus `json:"status"`

	// Summary is the classifier's one-line description, when available.
	Summary string `json:"summary,omitempty"`

	// Routed counts applied mutations per fragment type.
	Routed map[FragmentType]int `json:"routed,omitempty"`

	// Error is the terminal error for failed items.
	Error string `json:"error,omitempty"`
}

// BatchSummary is the user-visible result of one batch invocation.
type BatchSummary struct {
	// BatchID identifies the invocation.
	BatchID string `json:"batch_id"`

	// Found is how many candidates the lister returned.
	Found int `json:"found"`

	// Processed, Partial, Failed and Skipped count item outcomes.
	Processed int `json:"processed"`
	Partial   int `json:"partial"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	// Results holds per-item detail in processing order.
	Results []ItemResult `json:"results"`
}

// TaskRequest is the payload of a task-list mutation, matching the task
// service's create contract. Priority is on the service's 0-5 numeric scale.
type TaskRequest struct {
	Title     string   `json:"title"`
	Content   string   `json:"content,omitempty"`
	Priority  int      `json:"priority"`
	DueDate   string   `json:"dueDate,omitempty"`
	IsAllDay  bool     `json:"isAllDay,omitempty"`
	ProjectID string   `json:"projectId,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// EncodeTaskRequest renders a TaskRequest as a mutation payload.
func EncodeTaskRequest(req TaskRequest) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeTaskRequest parses a task mutation payload.
func DecodeTaskRequest(payload string) (TaskRequest, error) {
	var req TaskRequest
	err := json.Unmarshal([]byte(payload), &req)
	return req, err
}
