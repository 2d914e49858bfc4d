package digest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/snapvault/snapvault/pkg/engine"
)

const sampleNote = `---
date: 2025-06-10
tags: [daily]
---

## Tasks
- [ ] 🔺 Ship the report 📅 2025-06-12
- [x] Book the studio

## Events
- Dinner with Anna at 19:00

## Diary

## Notes
- Random thought
`

type fakeVault struct {
	noteName    string
	noteContent string
}

func (f *fakeVault) List(context.Context, string) ([]engine.Document, error) { return nil, nil }

func (f *fakeVault) ResolvePath(_ context.Context, _ string, path string) (string, error) {
	if path == "Daily Notes" {
		return "daily-folder", nil
	}
	return "", engine.ErrNotFound
}

func (f *fakeVault) Find(_ context.Context, folderID, name string) (engine.Document, error) {
	if folderID == "daily-folder" && name == f.noteName {
		return engine.Document{ID: "note-1", Name: name}, nil
	}
	return engine.Document{}, engine.ErrNotFound
}

func (f *fakeVault) Read(_ context.Context, id string) ([]byte, error) {
	if id == "note-1" {
		return []byte(f.noteContent), nil
	}
	return nil, engine.ErrNotFound
}

func (f *fakeVault) Write(context.Context, string, []byte) error { return nil }
func (f *fakeVault) Create(context.Context, string, string, []byte) (string, error) {
	return "", nil
}
func (f *fakeVault) Move(context.Context, string, string) error   { return nil }
func (f *fakeVault) Rename(context.Context, string, string) error { return nil }
func (f *fakeVault) Delete(context.Context, string) error         { return nil }

type fakeTaskList struct {
	dash engine.TaskDashboard
	err  error
}

func (f *fakeTaskList) CreateTask(context.Context, engine.TaskRequest) (string, error) {
	return "", nil
}
func (f *fakeTaskList) ResolveProject(context.Context, string) (string, error) { return "", nil }
func (f *fakeTaskList) OpenTasks(context.Context, time.Time) (engine.TaskDashboard, error) {
	return f.dash, f.err
}

type fakeNotifier struct {
	sent    []string
	chatIDs []string
	err     error
}

func (f *fakeNotifier) Send(_ context.Context, chatID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.chatIDs = append(f.chatIDs, chatID)
	f.sent = append(f.sent, text)
	return nil
}

func TestParseNoteSections(t *testing.T) {
	sections := parseNoteSections(sampleNote)

	if len(sections["Tasks"]) != 2 {
		t.Errorf("tasks = %v", sections["Tasks"])
	}
	if len(sections["Events"]) != 1 || sections["Events"][0] != "- Dinner with Anna at 19:00" {
		t.Errorf("events = %v", sections["Events"])
	}
	if len(sections["Diary"]) != 0 {
		t.Errorf("diary = %v", sections["Diary"])
	}
	if len(sections["Notes"]) != 1 {
		t.Errorf("notes = %v", sections["Notes"])
	}
}

func TestComposeMorningBriefing(t *testing.T) {
	dash := Dashboard{
		NoteTasks:  []string{"- [ ] Ship the report"},
		NoteEvents: []string{"- Dinner at 19:00"},
		Tasks: engine.TaskDashboard{
			Overdue:  []engine.TaskSummary{{Title: "Reply to Andrea", Project: "Work", DueDate: "2025-06-08"}},
			DueToday: []engine.TaskSummary{{Title: "Send invoice"}},
		},
	}
	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

	text := Compose(engine.DigestMorningBriefing, dash, now)

	for _, want := range []string{
		"*Good morning! It's Tuesday, 10 June.*",
		"*Overdue*",
		"🔴 Reply to Andrea (Work), due 2025-06-08",
		"*Due today*",
		"• Send invoice",
		"*On today's note*",
		"• Ship the report",
		"📅 Dinner at 19:00",
		"_1 overdue, 2 for today._",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("briefing missing %q:\n%s", want, text)
		}
	}
}

func TestComposeNudgeAllClear(t *testing.T) {
	text := Compose(engine.DigestNudge, Dashboard{}, time.Now())
	if text != "_All clear, nothing urgent right now._" {
		t.Errorf("text = %q", text)
	}
}

func TestComposeNudgeUrgent(t *testing.T) {
	dash := Dashboard{
		NoteTasks: []string{"- [ ] Call the venue", "- [x] Done thing"},
		Tasks: engine.TaskDashboard{
			Overdue: []engine.TaskSummary{{Title: "Reply to Andrea"}},
		},
	}
	text := Compose(engine.DigestNudge, dash, time.Now())

	if !strings.Contains(text, "*Needs attention*") || !strings.Contains(text, "🔴 Reply to Andrea") {
		t.Errorf("nudge missing urgent section:\n%s", text)
	}
	if !strings.Contains(text, "• Call the venue") {
		t.Errorf("nudge missing open note task:\n%s", text)
	}
	if strings.Contains(text, "Done thing") {
		t.Errorf("nudge includes completed task:\n%s", text)
	}
}

func TestComposeEveningReview(t *testing.T) {
	dash := Dashboard{
		NoteTasks: []string{"- [x] Ship the report", "- [ ] Call the venue"},
		Tasks: engine.TaskDashboard{
			Upcoming: []engine.TaskSummary{{Title: "Prep the shoot", DueDate: "2025-06-14"}},
		},
	}
	text := Compose(engine.DigestEveningReview, dash, time.Now())

	for _, want := range []string{
		"*Evening review*",
		"You finished 1 of 2 tasks on today's note.",
		"*Still pending*",
		"• Call the venue",
		"*Tomorrow and beyond*",
		"• Prep the shoot, due 2025-06-14",
		"_Good night!_",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("review missing %q:\n%s", want, text)
		}
	}
}

func TestComposeEveningReviewAllDone(t *testing.T) {
	dash := Dashboard{NoteTasks: []string{"- [x] Ship the report"}}
	text := Compose(engine.DigestEveningReview, dash, time.Now())
	if !strings.Contains(text, "You closed out all 1 tasks on today's note.") {
		t.Errorf("review = %s", text)
	}
	if strings.Contains(text, "*Still pending*") {
		t.Errorf("review has pending section with nothing pending:\n%s", text)
	}
}

func TestRunnerScansAndSends(t *testing.T) {
	vault := &fakeVault{noteName: "2025-06-10.md", noteContent: sampleNote}
	tasks := &fakeTaskList{dash: engine.TaskDashboard{
		DueToday: []engine.TaskSummary{{Title: "Send invoice"}},
	}}
	notifier := &fakeNotifier{}

	layout := engine.VaultLayout{RootID: "root", DailyNotesFolder: "Daily Notes"}
	scanner := NewScanner(vault, tasks, layout, time.UTC)
	runner := NewRunner(scanner, notifier, "chat-42")
	runner.now = func() time.Time { return time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC) }

	event, err := runner.Run(context.Background(), engine.DigestMorningBriefing)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if event.Kind != engine.DigestMorningBriefing {
		t.Errorf("event kind = %q", event.Kind)
	}
	if !event.WindowStart.Equal(time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("window start = %v", event.WindowStart)
	}
	if len(notifier.sent) != 1 || notifier.chatIDs[0] != "chat-42" {
		t.Fatalf("sent = %v to %v", notifier.sent, notifier.chatIDs)
	}
	if !strings.Contains(notifier.sent[0], "• Send invoice") || !strings.Contains(notifier.sent[0], "• Ship the report") {
		t.Errorf("message = %s", notifier.sent[0])
	}
}

func TestRunnerDuplicateFiringSendsTwice(t *testing.T) {
	vault := &fakeVault{noteName: "2025-06-10.md", noteContent: sampleNote}
	notifier := &fakeNotifier{}
	scanner := NewScanner(vault, &fakeTaskList{}, engine.VaultLayout{RootID: "root", DailyNotesFolder: "Daily Notes"}, time.UTC)
	runner := NewRunner(scanner, notifier, "chat-42")
	runner.now = func() time.Time { return time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := runner.Run(ctx, engine.DigestMorningBriefing); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}

	// Read-only action: a duplicate firing is just a duplicate message.
	if len(notifier.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(notifier.sent))
	}
	if notifier.sent[0] != notifier.sent[1] {
		t.Errorf("duplicate firings produced different messages")
	}
}

func TestRunnerMissingNoteDegrades(t *testing.T) {
	vault := &fakeVault{noteName: "other-day.md"}
	notifier := &fakeNotifier{}
	scanner := NewScanner(vault, &fakeTaskList{}, engine.VaultLayout{RootID: "root", DailyNotesFolder: "Daily Notes"}, time.UTC)
	runner := NewRunner(scanner, notifier, "chat-42")

	if _, err := runner.Run(context.Background(), engine.DigestNudge); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != "_All clear, nothing urgent right now._" {
		t.Errorf("sent = %v", notifier.sent)
	}
}

func TestRunnerAuthErrorSurfaces(t *testing.T) {
	vault := &fakeVault{noteName: "x.md"}
	tasks := &fakeTaskList{err: engine.NewAuthError("expired token", nil)}
	notifier := &fakeNotifier{}
	scanner := NewScanner(vault, tasks, engine.VaultLayout{RootID: "root", DailyNotesFolder: "Daily Notes"}, time.UTC)
	runner := NewRunner(scanner, notifier, "chat-42")

	_, err := runner.Run(context.Background(), engine.DigestNudge)
	if err == nil || !engine.IsAuth(err) {
		t.Fatalf("err = %v, want auth", err)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("message sent despite auth failure")
	}
}
