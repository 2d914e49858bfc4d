package engine

import (
	"context"
	"time"
)

// Document is a file or folder entry in the document store.
type Document struct {
	// ID is the store identifier.
	ID string `json:"id"`

	// Name is the entry name within its folder.
	Name string `json:"name"`

	// MimeType is the reported content type; folders use the store's folder type.
	MimeType string `json:"mime_type"`

	// ModifiedAt is the last modification time, when the store reports one.
	ModifiedAt time.Time `json:"modified_at"`
}

// DocumentStore is the weakly-transactional backing store for captures,
// markdown destinations, claims and archives. Implementations offer no native
// transactions; callers layer optimistic re-read checks and idempotency keys
// on top (see Mutator).
type DocumentStore interface {
	// List enumerates entries directly under a folder.
	List(ctx context.Context, folderID string) ([]Document, error)

	// ResolvePath walks a slash-separated folder path from a root folder and
	// returns the final folder ID, or ErrNotFound.
	ResolvePath(ctx context.Context, rootID, path string) (string, error)

	// Find looks up an entry by exact name within a folder, or ErrNotFound.
	Find(ctx context.Context, folderID, name string) (Document, error)

	// Read returns the full content of a document.
	Read(ctx context.Context, id string) ([]byte, error)

	// Write overwrites the content of an existing document.
	Write(ctx context.Context, id string, content []byte) error

	// Create makes a new document in a folder and returns its ID. Stores
	// that support it create exclusively; others may admit a duplicate under
	// a racing creator, which callers resolve via Find.
	Create(ctx context.Context, folderID, name string, content []byte) (string, error)

	// Move relocates a document to a new parent folder.
	Move(ctx context.Context, id, newParentID string) error

	// Rename changes a document's name in place.
	Rename(ctx context.Context, id, newName string) error

	// Delete removes a document. Used only for claim markers; source items
	// are archived by Move, never deleted.
	Delete(ctx context.Context, id string) error
}

// Analyzer is the external classification collaborator. One call per item.
type Analyzer interface {
	// Analyze classifies the raw capture and returns a validated result.
	// Schema violations surface as permanent errors; transport failures as
	// transient errors after the adapter's internal backoff is exhausted.
	Analyze(ctx context.Context, itemID string, content []byte, mimeType string) (*AnalysisResult, error)
}

// TaskClient is the external task-list collaborator.
type TaskClient interface {
	// CreateTask creates a task and returns its ID.
	CreateTask(ctx context.Context, req TaskRequest) (string, error)

	// ResolveProject maps a project hint to a project ID, creating the
	// project when absent. Empty hint resolves to the service inbox ("").
	ResolveProject(ctx context.Context, hint string) (string, error)

	// OpenTasks returns open tasks grouped for digest composition.
	OpenTasks(ctx context.Context, now time.Time) (TaskDashboard, error)
}

// TaskDashboard is the read-only task-list state a digest aggregates.
type TaskDashboard struct {
	// Overdue are open tasks whose due date has passed.
	Overdue []TaskSummary `json:"overdue"`

	// DueToday are open tasks due in the current day window.
	DueToday []TaskSummary `json:"due_today"`

	// Upcoming are open tasks due within the next seven days.
	Upcoming []TaskSummary `json:"upcoming"`
}

// TaskSummary is a minimal view of an open task.
type TaskSummary struct {
	Title    string `json:"title"`
	Project  string `json:"project,omitempty"`
	DueDate  string `json:"due_date,omitempty"`
	Priority int    `json:"priority"`
}

// Notifier is the external notification channel collaborator.
type Notifier interface {
	// Send delivers a text message to a chat.
	Send(ctx context.Context, chatID, text string) error
}

// Journal is the durable record of item and mutation state that makes retries
// and overlapping invocations safe. It is the authority for idempotency keys
// and for the outstanding subset on resumption.
type Journal interface {
	// GetItem returns the journal state for an item, or ErrNotFound.
	GetItem(ctx context.Context, itemID string) (SourceItem, error)

	// UpsertItem records or updates an item's lifecycle state.
	UpsertItem(ctx context.Context, item SourceItem) error

	// SaveAnalysis persists the immutable analysis result for an item.
	SaveAnalysis(ctx context.Context, analysis *AnalysisResult) error

	// GetAnalysis returns the persisted analysis, or ErrNotFound when the
	// item has not been classified yet.
	GetAnalysis(ctx context.Context, itemID string) (*AnalysisResult, error)

	// SaveMutations records the full mutation set derived for an item.
	// Existing rows keep their status: re-deriving after a crash must not
	// reset applied mutations to pending.
	SaveMutations(ctx context.Context, muts []DestinationMutation) error

	// Mutations returns every journalled mutation for an item, in
	// (fragment_index, destination_key) order.
	Mutations(ctx context.Context, itemID string) ([]DestinationMutation, error)

	// MarkMutation updates one mutation's status, attempt count and error.
	MarkMutation(ctx context.Context, idempotencyKey string, status MutationStatus, attempts int, lastErr string) error

	// IsApplied reports whether an idempotency key has already been applied.
	IsApplied(ctx context.Context, idempotencyKey string) (bool, error)

	// Checkpoint returns the stored processing checkpoint; a zero value when
	// none exists yet.
	Checkpoint(ctx context.Context) (Checkpoint, error)

	// SaveCheckpoint stores the processing checkpoint.
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
}

// SecretSource resolves named secrets at invocation start. Credentials are
// never embedded in configuration literals.
type SecretSource interface {
	Get(ctx context.Context, name string) (string, error)
}
