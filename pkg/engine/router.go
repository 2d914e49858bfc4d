package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Vault-relative destination documents per fragment type. Multi-valued
// destinations (TASK, EVENT) additionally target the daily note or the task
// list; see Route.
var destinationDocs = map[FragmentType]string{
	FragmentEvent:     "2-Areas/Calendar/Events.md",
	FragmentIdea:      "3-Resources/Ideas/Ideas.md",
	FragmentReference: "3-Resources/References.md",
	FragmentFinance:   "2-Areas/Finances/Transactions.md",
}

// Daily-note headings per fragment type. Types absent from this map never
// touch the daily note.
var dailyHeadings = map[FragmentType]string{
	FragmentTask:  "## Tasks",
	FragmentEvent: "## Events",
	FragmentDiary: "## Diary",
}

// TaskDestinationKey is the destination key of task-list mutations.
const TaskDestinationKey = "ticktick:task"

// taskPriorities maps classifier priority labels to the task service's 0-5
// numeric scale. This is the only place fragment priority changes
// representation.
var taskPriorities = map[Priority]int{
	PriorityHigh:   5,
	PriorityMedium: 3,
	PriorityLow:    1,
}

// TaskPriority converts a classifier priority label to the task service scale.
func TaskPriority(p Priority) int {
	return taskPriorities[p]
}

// Router maps classified fragments to destination mutations. Route is a pure
// function: the destination set depends only on the fragment type, never on
// content or timing.
type Router struct {
	// Timezone keys daily notes by the capture's local date, not UTC.
	Timezone *time.Location
}

// NewRouter creates a router keyed to the given local timezone.
func NewRouter(tz *time.Location) *Router {
	if tz == nil {
		tz = time.UTC
	}
	return &Router{Timezone: tz}
}

// Route derives the full mutation set for a validated analysis result.
// Fragment order is preserved: mutations for fragment i precede those for
// fragment i+1, so destination appends keep classifier order.
func (r *Router) Route(item SourceItem, analysis *AnalysisResult) ([]DestinationMutation, error) {
	captureDay := item.CapturedAt.In(r.Timezone).Format("2006-01-02")

	var muts []DestinationMutation
	for i, frag := range analysis.Fragments {
		block := FormatFragment(frag, item.Name, captureDay)

		if heading, ok := dailyHeadings[frag.Type]; ok {
			key := fmt.Sprintf("daily:%s#%s", captureDay, strings.TrimPrefix(heading, "## "))
			muts = append(muts, DestinationMutation{
				SourceItemID:   item.ID,
				FragmentIndex:  i,
				DestinationKey: key,
				Op:             OpAppend,
				Payload:        block,
				Heading:        heading,
				IdempotencyKey: IdempotencyKey(item.ID, i, key, OpAppend),
				Status:         MutationPending,
			})
		}

		if doc, ok := destinationDocs[frag.Type]; ok {
			key := "doc:" + doc
			muts = append(muts, DestinationMutation{
				SourceItemID:   item.ID,
				FragmentIndex:  i,
				DestinationKey: key,
				Op:             OpAppend,
				Payload:        block,
				IdempotencyKey: IdempotencyKey(item.ID, i, key, OpAppend),
				Status:         MutationPending,
			})
		}

		if frag.Type == FragmentTask {
			payload, err := EncodeTaskRequest(taskRequest(frag, item.Name))
			if err != nil {
				return nil, fmt.Errorf("encoding task payload for fragment %d: %w", i, err)
			}
			muts = append(muts, DestinationMutation{
				SourceItemID:   item.ID,
				FragmentIndex:  i,
				DestinationKey: TaskDestinationKey,
				Op:             OpCreateIfAbsent,
				Payload:        payload,
				IdempotencyKey: IdempotencyKey(item.ID, i, TaskDestinationKey, OpCreateIfAbsent),
				Status:         MutationPending,
			})
		}
	}
	return muts, nil
}

// taskRequest builds the task-list payload for a TASK fragment.
func taskRequest(frag ClassifiedFragment, sourceName string) TaskRequest {
	req := TaskRequest{
		Title:    frag.Content,
		Content:  "Source: " + sourceName,
		Priority: TaskPriority(frag.Priority),
		Tags:     frag.Tags,
	}
	if frag.DueDate != nil {
		// The task service expects yyyy-MM-dd'T'HH:mm:ssZ with an all-day flag.
		req.DueDate = frag.DueDate.Format("2006-01-02") + "T00:00:00+0000"
		req.IsAllDay = true
	}
	// ProjectHint is resolved to a project ID at apply time; carry it in the
	// request so the mutator can resolve without re-reading the analysis.
	req.ProjectID = frag.ProjectHint
	return req
}

// IdempotencyKey derives the deterministic key that makes re-application of a
// mutation a no-op across retries and overlapping invocations.
func IdempotencyKey(itemID string, fragmentIndex int, destinationKey string, op MutationOp) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%s|%s", itemID, fragmentIndex, destinationKey, op))
	return hex.EncodeToString(sum[:16])
}

var priorityMarkers = map[Priority]string{
	PriorityHigh:   "🔺",
	PriorityMedium: "🔸",
	PriorityLow:    "🔹",
}

// FormatFragment renders a fragment as the markdown block written to document
// destinations, with a source attribution line for traceability back to the
// archived capture.
func FormatFragment(frag ClassifiedFragment, sourceName, captureDay string) string {
	var b strings.Builder

	switch frag.Type {
	case FragmentTask:
		b.WriteString("- [ ] ")
		if marker, ok := priorityMarkers[frag.Priority]; ok {
			b.WriteString(marker + " ")
		}
		b.WriteString(frag.Content)
		if frag.DueDate != nil {
			b.WriteString(" 📅 " + frag.DueDate.Format("2006-01-02"))
		}
	case FragmentFinance:
		fmt.Fprintf(&b, "| %s | %s | `screenshot` |", captureDay, frag.Content)
	default:
		b.WriteString("- " + frag.Content)
	}

	b.WriteString("\n  - _Source: " + sourceName + "_")
	return b.String()
}
