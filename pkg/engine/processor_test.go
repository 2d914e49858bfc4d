package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type procFixture struct {
	vault    *testVault
	journal  *memJournal
	analyzer *fakeAnalyzer
	tasks    *fakeTasks
	claims   *ClaimManager
	proc     *Processor
}

func newProcFixture() *procFixture {
	v := newTestVault()
	j := newMemJournal()
	an := newFakeAnalyzer()
	tasks := newFakeTasks()
	claims := NewClaimManager(v.store, v.layout.ClaimsID, DefaultClaimTTL)
	router := NewRouter(time.UTC)
	lister := NewLister(v.store, j, claims, v.layout.InboxID, 0)
	mutator := NewMutator(v.store, j, tasks, v.layout)
	archiver := NewArchiver(v.store, v.layout, time.UTC)

	return &procFixture{
		vault:    v,
		journal:  j,
		analyzer: an,
		tasks:    tasks,
		claims:   claims,
		proc:     NewProcessor(v.store, j, lister, claims, an, router, mutator, archiver),
	}
}

func (f *procFixture) addCapture(name string, captured time.Time) string {
	return f.vault.store.addFile(name, f.vault.layout.InboxID, "image/png", []byte("imgbytes"), captured)
}

func TestRunProcessesItemToDone(t *testing.T) {
	f := newProcFixture()
	captured := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	due := time.Date(2025, 6, 6, 0, 0, 0, 0, time.UTC)
	id := f.addCapture("shot.png", captured)
	f.analyzer.results[id] = taskAnalysis(id, due)

	summary, err := f.proc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Found != 1 || summary.Processed != 1 {
		t.Fatalf("summary = %+v, want one processed item", summary)
	}

	res := summary.Results[0]
	if res.Status != ItemStatusDone {
		t.Fatalf("item status = %q, want done", res.Status)
	}
	if res.ArchivedName != "2025-06-01-whiteboard-actions.png" {
		t.Errorf("archived name = %q", res.ArchivedName)
	}
	if res.Routed[FragmentTask] != 2 || res.Routed[FragmentIdea] != 1 {
		t.Errorf("routed counts = %v", res.Routed)
	}

	// Source moved out of the inbox under its descriptive name.
	doc, ok := f.vault.store.get(id)
	if !ok || doc.parent != f.vault.layout.ArchiveID || doc.name != "2025-06-01-whiteboard-actions.png" {
		t.Errorf("archived doc = %+v", doc)
	}

	// Analysis sidecar beside it.
	if f.vault.store.findIn(f.vault.layout.ArchiveID, "whiteboard-actions-analysis.md") == nil {
		t.Error("analysis sidecar missing from archive")
	}

	// Daily note carries the task line.
	note := f.vault.store.findIn(f.vault.daily, "2025-06-01.md")
	if note == nil {
		t.Fatal("daily note not created")
	}
	if !strings.Contains(string(note.content), "- [ ] 🔺 Ship the report 📅 2025-06-06") {
		t.Errorf("daily note content:\n%s", note.content)
	}

	// Task created in the external list.
	if len(f.tasks.created) != 1 {
		t.Fatalf("created %d tasks, want 1", len(f.tasks.created))
	}

	// Claim released, checkpoint advanced.
	claimed, _ := f.claims.IsClaimed(context.Background(), id)
	if claimed {
		t.Error("claim not released after done")
	}
	cp, _ := f.journal.Checkpoint(context.Background())
	if !cp.Cursor.Equal(captured) {
		t.Errorf("checkpoint cursor = %v, want %v", cp.Cursor, captured)
	}
}

func TestRunSecondPassIsNoOp(t *testing.T) {
	f := newProcFixture()
	captured := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	due := captured.AddDate(0, 0, 3)
	id := f.addCapture("shot.png", captured)
	f.analyzer.results[id] = taskAnalysis(id, due)

	if _, err := f.proc.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	summary, err := f.proc.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Found != 0 {
		t.Fatalf("second run found %d candidates, want 0", summary.Found)
	}
	if len(f.tasks.created) != 1 {
		t.Errorf("second run duplicated task creation: %d", len(f.tasks.created))
	}
	if f.analyzer.calls[id] != 1 {
		t.Errorf("classifier called %d times, want 1", f.analyzer.calls[id])
	}
}

func TestRunPermanentClassifierErrorFailsItem(t *testing.T) {
	f := newProcFixture()
	id := f.addCapture("shot.png", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	f.analyzer.errs[id] = NewPermanentError("response failed schema validation", nil).WithItem(id)

	summary, err := f.proc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v, want one failed item", summary)
	}

	item, err := f.journal.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item.Status != ItemStatusFailed {
		t.Errorf("journal status = %q, want failed", item.Status)
	}

	// Failed items never come back as candidates.
	summary, _ = f.proc.Run(context.Background())
	if summary.Found != 0 {
		t.Errorf("failed item re-listed: found=%d", summary.Found)
	}
	if f.analyzer.calls[id] != 1 {
		t.Errorf("classifier retried a permanent failure: %d calls", f.analyzer.calls[id])
	}
}

func TestRunTransientErrorLeavesPartialThenResumes(t *testing.T) {
	f := newProcFixture()
	captured := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	due := captured.AddDate(0, 0, 3)
	id := f.addCapture("shot.png", captured)
	f.analyzer.results[id] = taskAnalysis(id, due)
	f.tasks.createErr = NewTransientError("task service unavailable", errors.New("503"))

	summary, err := f.proc.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if summary.Partial != 1 {
		t.Fatalf("summary = %+v, want one partial item", summary)
	}

	// Document writes landed despite the task failure.
	note := f.vault.store.findIn(f.vault.daily, "2025-06-01.md")
	if note == nil {
		t.Fatal("daily note missing after partial run")
	}

	// Checkpoint did not advance past the unfinished item.
	cp, _ := f.journal.Checkpoint(context.Background())
	if !cp.Cursor.IsZero() {
		t.Errorf("cursor advanced past partial item: %v", cp.Cursor)
	}

	// Recovery: the task service is back; only the outstanding mutation runs.
	f.tasks.createErr = nil
	summary, err = f.proc.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Processed != 1 {
		t.Fatalf("second run summary = %+v, want one processed item", summary)
	}
	if len(f.tasks.created) != 1 {
		t.Errorf("task created %d times, want 1", len(f.tasks.created))
	}
	content := string(f.vault.store.findIn(f.vault.daily, "2025-06-01.md").content)
	if strings.Count(content, "Ship the report") != 1 {
		t.Errorf("resume duplicated daily note content:\n%s", content)
	}
	if f.analyzer.calls[id] != 1 {
		t.Errorf("resume re-ran the classifier: %d calls", f.analyzer.calls[id])
	}
}

func TestRunMissingDestinationFolderLeavesPartialThenConverges(t *testing.T) {
	f := newProcFixture()
	ctx := context.Background()

	// Knock out the finance destination so its mutation fails permanently.
	areas, err := f.vault.store.ResolvePath(ctx, f.vault.layout.RootID, "2-Areas")
	if err != nil {
		t.Fatalf("resolving areas: %v", err)
	}
	if err := f.vault.store.Delete(ctx, f.vault.store.findIn(areas, "Finances").id); err != nil {
		t.Fatalf("removing finance folder: %v", err)
	}

	captured := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	id := f.addCapture("receipt.png", captured)
	f.analyzer.results[id] = &AnalysisResult{
		SourceItemID:       id,
		Summary:            "Grocery receipt with a side thought",
		Language:           "en",
		FilenameSuggestion: "grocery-receipt",
		Fragments: []ClassifiedFragment{
			{Type: FragmentIdea, Content: "Automate the weekly export", Priority: PriorityLow},
			{Type: FragmentFinance, Content: "-42.00 EUR groceries"},
		},
	}

	summary, err := f.proc.Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if summary.Partial != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want one partial item and no failed", summary)
	}
	item, err := f.journal.GetItem(ctx, id)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item.Status != ItemStatusPartial {
		t.Fatalf("journal status = %q, want partial", item.Status)
	}

	// The independent idea write landed despite the finance failure.
	ideasFolder, err := f.vault.store.ResolvePath(ctx, f.vault.layout.RootID, "3-Resources/Ideas")
	if err != nil {
		t.Fatalf("resolving ideas folder: %v", err)
	}
	ideaDoc := f.vault.store.findIn(ideasFolder, "Ideas.md")
	if ideaDoc == nil {
		t.Fatal("idea write blocked by the finance failure")
	}

	// Folder still missing: the item stays listed and stays partial.
	summary, err = f.proc.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Found != 1 || summary.Partial != 1 {
		t.Fatalf("second run summary = %+v, want the item re-listed", summary)
	}

	// Operator restores the folder; the item converges without duplicating
	// the already-applied write or re-running the classifier.
	f.vault.store.addFolder("Finances", areas)
	summary, err = f.proc.Run(ctx)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if summary.Processed != 1 {
		t.Fatalf("third run summary = %+v, want one processed item", summary)
	}
	if strings.Count(f.vault.store.contentOf(ideaDoc.id), "Automate the weekly export") != 1 {
		t.Error("retries duplicated the idea write")
	}
	financeFolder, err := f.vault.store.ResolvePath(ctx, f.vault.layout.RootID, "2-Areas/Finances")
	if err != nil {
		t.Fatalf("resolving restored folder: %v", err)
	}
	if f.vault.store.findIn(financeFolder, "Transactions.md") == nil {
		t.Error("finance write missing after the folder came back")
	}
	if f.analyzer.calls[id] != 1 {
		t.Errorf("classifier called %d times, want 1", f.analyzer.calls[id])
	}
}

func TestRunAuthErrorAbortsBatch(t *testing.T) {
	f := newProcFixture()
	captured := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	a := f.addCapture("a.png", captured)
	b := f.addCapture("b.png", captured.Add(time.Minute))
	f.analyzer.errs[a] = NewAuthError("classifier credential revoked", nil)
	f.analyzer.errs[b] = NewAuthError("classifier credential revoked", nil)

	summary, err := f.proc.Run(context.Background())
	if !IsAuth(err) {
		t.Fatalf("Run err = %v, want auth", err)
	}
	// The batch stopped after the first item.
	if len(summary.Results) != 1 {
		t.Fatalf("processed %d items before abort, want 1", len(summary.Results))
	}
	if f.analyzer.calls[b] != 0 {
		t.Error("batch continued past the credential failure")
	}
}

func TestProcessItemClaimLostSkips(t *testing.T) {
	f := newProcFixture()
	captured := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	id := f.addCapture("shot.png", captured)
	item := SourceItem{ID: id, Name: "shot.png", MimeType: "image/png", CapturedAt: captured, Status: ItemStatusPending}

	other := NewClaimManager(f.vault.store, f.vault.layout.ClaimsID, DefaultClaimTTL)
	if _, err := other.Claim(context.Background(), item); err != nil {
		t.Fatalf("competing claim: %v", err)
	}

	res, err := f.proc.processItem(context.Background(), item)
	if err != nil {
		t.Fatalf("processItem: %v", err)
	}
	if res.Status != ItemStatusPending {
		t.Errorf("status = %q, want pending", res.Status)
	}
	if f.analyzer.calls[id] != 0 {
		t.Error("claimed item was still classified")
	}
}
