package engine

import (
	"strings"
	"testing"
	"time"
)

func testItem(id, name string, captured time.Time) SourceItem {
	return SourceItem{ID: id, Name: name, MimeType: "image/png", CapturedAt: captured, Status: ItemStatusPending}
}

func TestRouteTaskFragment(t *testing.T) {
	tz, _ := time.LoadLocation("Europe/Amsterdam")
	r := NewRouter(tz)
	captured := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC) // 2025-06-02 local
	due := time.Date(2025, 6, 6, 0, 0, 0, 0, time.UTC)
	item := testItem("item-1", "shot.png", captured)

	analysis := &AnalysisResult{
		SourceItemID: "item-1",
		Fragments: []ClassifiedFragment{
			{Type: FragmentTask, Content: "Ship the report", Priority: PriorityHigh, DueDate: &due, ProjectHint: "Work"},
		},
	}

	muts, err := r.Route(item, analysis)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(muts) != 2 {
		t.Fatalf("expected 2 mutations for a TASK fragment, got %d", len(muts))
	}

	daily := muts[0]
	if daily.DestinationKey != "daily:2025-06-02#Tasks" {
		t.Errorf("daily key = %q, want daily:2025-06-02#Tasks", daily.DestinationKey)
	}
	if daily.Heading != "## Tasks" {
		t.Errorf("heading = %q", daily.Heading)
	}
	if daily.Op != OpAppend {
		t.Errorf("op = %q", daily.Op)
	}
	if !strings.Contains(daily.Payload, "- [ ] 🔺 Ship the report 📅 2025-06-06") {
		t.Errorf("payload = %q", daily.Payload)
	}
	if !strings.Contains(daily.Payload, "_Source: shot.png_") {
		t.Errorf("payload missing source attribution: %q", daily.Payload)
	}

	task := muts[1]
	if task.DestinationKey != TaskDestinationKey {
		t.Errorf("task key = %q", task.DestinationKey)
	}
	if task.Op != OpCreateIfAbsent {
		t.Errorf("task op = %q", task.Op)
	}
	req, err := DecodeTaskRequest(task.Payload)
	if err != nil {
		t.Fatalf("decoding task payload: %v", err)
	}
	if req.Title != "Ship the report" {
		t.Errorf("title = %q", req.Title)
	}
	if req.Priority != 5 {
		t.Errorf("priority = %d, want 5", req.Priority)
	}
	if req.DueDate != "2025-06-06T00:00:00+0000" {
		t.Errorf("dueDate = %q", req.DueDate)
	}
	if !req.IsAllDay {
		t.Error("expected all-day task")
	}
	if req.ProjectID != "Work" {
		t.Errorf("project hint = %q", req.ProjectID)
	}
}

func TestRouteDestinationsPerType(t *testing.T) {
	r := NewRouter(time.UTC)
	captured := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	item := testItem("item-2", "shot.png", captured)

	cases := []struct {
		typ  FragmentType
		keys []string
	}{
		{FragmentTask, []string{"daily:2025-06-01#Tasks", "ticktick:task"}},
		{FragmentEvent, []string{"daily:2025-06-01#Events", "doc:2-Areas/Calendar/Events.md"}},
		{FragmentIdea, []string{"doc:3-Resources/Ideas/Ideas.md"}},
		{FragmentDiary, []string{"daily:2025-06-01#Diary"}},
		{FragmentReference, []string{"doc:3-Resources/References.md"}},
		{FragmentFinance, []string{"doc:2-Areas/Finances/Transactions.md"}},
	}

	for _, tc := range cases {
		analysis := &AnalysisResult{
			SourceItemID: item.ID,
			Fragments:    []ClassifiedFragment{{Type: tc.typ, Content: "x", Priority: PriorityMedium}},
		}
		muts, err := r.Route(item, analysis)
		if err != nil {
			t.Fatalf("%s: Route: %v", tc.typ, err)
		}
		var got []string
		for _, m := range muts {
			got = append(got, m.DestinationKey)
		}
		if len(got) != len(tc.keys) {
			t.Errorf("%s: destinations = %v, want %v", tc.typ, got, tc.keys)
			continue
		}
		for i := range got {
			if got[i] != tc.keys[i] {
				t.Errorf("%s: destination[%d] = %q, want %q", tc.typ, i, got[i], tc.keys[i])
			}
		}
	}
}

func TestRoutePreservesFragmentOrder(t *testing.T) {
	r := NewRouter(time.UTC)
	item := testItem("item-3", "shot.png", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	analysis := &AnalysisResult{
		SourceItemID: item.ID,
		Fragments: []ClassifiedFragment{
			{Type: FragmentIdea, Content: "first", Priority: PriorityLow},
			{Type: FragmentIdea, Content: "second", Priority: PriorityLow},
			{Type: FragmentDiary, Content: "third", Priority: PriorityLow},
		},
	}

	muts, err := r.Route(item, analysis)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	last := -1
	for _, m := range muts {
		if m.FragmentIndex < last {
			t.Fatalf("fragment order not preserved: %d after %d", m.FragmentIndex, last)
		}
		last = m.FragmentIndex
	}
}

func TestIdempotencyKeyDeterministic(t *testing.T) {
	a := IdempotencyKey("item-1", 0, "doc:Ideas.md", OpAppend)
	b := IdempotencyKey("item-1", 0, "doc:Ideas.md", OpAppend)
	if a != b {
		t.Fatalf("same inputs produced different keys: %q vs %q", a, b)
	}
	if len(a) != 32 {
		t.Errorf("key length = %d, want 32 hex chars", len(a))
	}
	if c := IdempotencyKey("item-1", 1, "doc:Ideas.md", OpAppend); c == a {
		t.Error("different fragment index produced the same key")
	}
	if c := IdempotencyKey("item-1", 0, "doc:Other.md", OpAppend); c == a {
		t.Error("different destination produced the same key")
	}
}

func TestFormatFragmentFinance(t *testing.T) {
	got := FormatFragment(ClassifiedFragment{Type: FragmentFinance, Content: "Coffee 4.50", Priority: PriorityLow}, "receipt.png", "2025-06-01")
	if !strings.HasPrefix(got, "| 2025-06-01 | Coffee 4.50 |") {
		t.Errorf("finance row = %q", got)
	}
}

func TestTaskPriorityScale(t *testing.T) {
	if TaskPriority(PriorityHigh) != 5 || TaskPriority(PriorityMedium) != 3 || TaskPriority(PriorityLow) != 1 {
		t.Errorf("priority scale = %d/%d/%d, want 5/3/1",
			TaskPriority(PriorityHigh), TaskPriority(PriorityMedium), TaskPriority(PriorityLow))
	}
}
