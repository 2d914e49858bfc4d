// Package digest implements the scheduled read-only actions: scanning the
// vault and task list, composing a Telegram message, and sending it. Digest
// actions never mutate the vault, so duplicate firings are harmless.
package digest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/snapvault/snapvault/pkg/engine"
	"github.com/snapvault/snapvault/pkg/telemetry"
)

// Dashboard is the state snapshot a digest is composed from.
type Dashboard struct {
	// Daily note sections for the scan day, raw content lines.
	NoteTasks  []string
	NoteEvents []string
	NoteDiary  []string
	NoteNotes  []string

	// Open tasks grouped by due window.
	Tasks engine.TaskDashboard
}

// Scanner gathers dashboard state from the vault and the task list.
type Scanner struct {
	store    engine.DocumentStore
	tasks    engine.TaskClient
	layout   engine.VaultLayout
	timezone *time.Location
}

func NewScanner(store engine.DocumentStore, tasks engine.TaskClient, layout engine.VaultLayout, tz *time.Location) *Scanner {
	if tz == nil {
		tz = time.UTC
	}
	return &Scanner{store: store, tasks: tasks, layout: layout, timezone: tz}
}

// Scan reads the daily note for now's local day and the open-task dashboard.
// A missing daily note or an unreachable task list degrades to empty sections
// rather than failing the digest.
func (s *Scanner) Scan(ctx context.Context, now time.Time) (Dashboard, error) {
	var dash Dashboard
	log := telemetry.FromContext(ctx)

	day := now.In(s.timezone)
	if err := s.scanDailyNote(ctx, day, &dash); err != nil {
		log.WithError(err).Warn("daily note scan failed")
	}

	tasks, err := s.tasks.OpenTasks(ctx, day)
	if err != nil {
		if engine.IsAuth(err) {
			return dash, err
		}
		log.WithError(err).Warn("task list scan failed")
	} else {
		dash.Tasks = tasks
	}

	return dash, nil
}

func (s *Scanner) scanDailyNote(ctx context.Context, day time.Time, dash *Dashboard) error {
	folderID, err := s.store.ResolvePath(ctx, s.layout.RootID, s.layout.DailyNotesFolder)
	if err != nil {
		return err
	}
	note, err := s.store.Find(ctx, folderID, engine.DailyNoteName(day.Format("2006-01-02")))
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return nil
		}
		return err
	}
	content, err := s.store.Read(ctx, note.ID)
	if err != nil {
		return err
	}

	sections := parseNoteSections(string(content))
	dash.NoteTasks = sections["Tasks"]
	dash.NoteEvents = sections["Events"]
	dash.NoteDiary = sections["Diary"]
	dash.NoteNotes = sections["Notes"]
	return nil
}

// parseNoteSections splits a daily note into its headed sections, keeping
// non-empty content lines. Frontmatter fences and blank lines are dropped.
func parseNoteSections(content string) map[string][]string {
	sections := map[string][]string{}
	headings := []string{"Tasks", "Events", "Diary", "Notes"}

	current := ""
	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)

		if strings.HasPrefix(stripped, "## ") {
			current = ""
			for _, h := range headings {
				if strings.HasPrefix(stripped, "## "+h) {
					current = h
					break
				}
			}
			continue
		}
		if current == "" || stripped == "" || stripped == "---" {
			continue
		}
		sections[current] = append(sections[current], stripped)
	}
	return sections
}
