package digest

import (
	"fmt"
	"strings"
	"time"

	"github.com/snapvault/snapvault/pkg/engine"
)

// Compose renders the Telegram Markdown message for a digest kind from a
// dashboard snapshot. Output is deterministic for a given snapshot and time.
func Compose(kind engine.DigestKind, dash Dashboard, now time.Time) string {
	switch kind {
	case engine.DigestMorningBriefing:
		return composeMorningBriefing(dash, now)
	case engine.DigestNudge:
		return composeNudge(dash)
	case engine.DigestEveningReview:
		return composeEveningReview(dash)
	default:
		return ""
	}
}

func composeMorningBriefing(dash Dashboard, now time.Time) string {
	var lines []string
	lines = append(lines,
		fmt.Sprintf("*Good morning! It's %s, %s.*", now.Weekday(), now.Format("2 January")),
		"")

	if len(dash.Tasks.Overdue) > 0 {
		lines = append(lines, "*Overdue*")
		for _, t := range dash.Tasks.Overdue {
			lines = append(lines, "🔴 "+taskLine(t))
		}
		lines = append(lines, "")
	}
	if len(dash.Tasks.DueToday) > 0 {
		lines = append(lines, "*Due today*")
		for _, t := range dash.Tasks.DueToday {
			lines = append(lines, "• "+taskLine(t))
		}
		lines = append(lines, "")
	}
	if len(dash.NoteTasks) > 0 {
		lines = append(lines, "*On today's note*")
		for _, t := range dash.NoteTasks {
			lines = append(lines, "• "+stripListMarker(t))
		}
		lines = append(lines, "")
	}
	if len(dash.NoteEvents) > 0 {
		lines = append(lines, "*Events*")
		for _, e := range dash.NoteEvents {
			lines = append(lines, "📅 "+stripListMarker(e))
		}
		lines = append(lines, "")
	}
	if len(dash.Tasks.Upcoming) > 0 {
		lines = append(lines, "*Coming up this week*")
		for _, t := range dash.Tasks.Upcoming {
			lines = append(lines, "• "+taskLine(t))
		}
		lines = append(lines, "")
	}

	lines = append(lines, "_"+summaryLine(dash)+"_")
	return strings.Join(lines, "\n")
}

func composeNudge(dash Dashboard) string {
	var lines []string

	if len(dash.Tasks.Overdue) > 0 {
		lines = append(lines, "*Needs attention*")
		for _, t := range dash.Tasks.Overdue {
			lines = append(lines, "🔴 "+taskLine(t))
		}
		lines = append(lines, "")
	}
	if len(dash.Tasks.DueToday) > 0 {
		lines = append(lines, "*Reminders*")
		for _, t := range dash.Tasks.DueToday {
			lines = append(lines, "• "+taskLine(t))
		}
		lines = append(lines, "")
	}
	if open := openNoteTasks(dash.NoteTasks); len(open) > 0 {
		lines = append(lines, "*Still open on today's note*")
		for _, t := range open {
			lines = append(lines, "• "+t)
		}
		lines = append(lines, "")
	}

	if len(lines) == 0 {
		return "_All clear, nothing urgent right now._"
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

func composeEveningReview(dash Dashboard) string {
	var lines []string
	lines = append(lines, "*Evening review*", "")

	done, open := splitNoteTasks(dash.NoteTasks)
	switch {
	case len(done) > 0 && len(open) == 0:
		lines = append(lines, fmt.Sprintf("You closed out all %d tasks on today's note. Nice work.", len(done)))
	case len(done) > 0:
		lines = append(lines, fmt.Sprintf("You finished %d of %d tasks on today's note.", len(done), len(done)+len(open)))
	case len(dash.NoteDiary) > 0 || len(dash.NoteNotes) > 0:
		lines = append(lines, "A quiet day for tasks, but the note filled up.")
	default:
		lines = append(lines, "Nothing landed on today's note.")
	}
	lines = append(lines, "")

	if len(open) > 0 || len(dash.Tasks.Overdue) > 0 {
		lines = append(lines, "*Still pending*")
		for _, t := range dash.Tasks.Overdue {
			lines = append(lines, "🔴 "+taskLine(t))
		}
		for _, t := range open {
			lines = append(lines, "• "+t)
		}
		lines = append(lines, "")
	}
	if len(dash.Tasks.Upcoming) > 0 {
		lines = append(lines, "*Tomorrow and beyond*")
		for _, t := range dash.Tasks.Upcoming {
			lines = append(lines, "• "+taskLine(t))
		}
		lines = append(lines, "")
	}

	lines = append(lines, "_Good night!_")
	return strings.Join(lines, "\n")
}

func taskLine(t engine.TaskSummary) string {
	line := t.Title
	if t.Project != "" {
		line += " (" + t.Project + ")"
	}
	if t.DueDate != "" {
		line += ", due " + t.DueDate
	}
	return line
}

func summaryLine(dash Dashboard) string {
	overdue := len(dash.Tasks.Overdue)
	today := len(dash.Tasks.DueToday) + len(openNoteTasks(dash.NoteTasks))
	switch {
	case overdue == 0 && today == 0:
		return "Nothing on fire today."
	case overdue == 0:
		return fmt.Sprintf("%d task(s) for today.", today)
	default:
		return fmt.Sprintf("%d overdue, %d for today.", overdue, today)
	}
}

// splitNoteTasks separates checkbox lines into completed and open, dropping
// the checkbox syntax.
func splitNoteTasks(lines []string) (done, open []string) {
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "- [x]") || strings.HasPrefix(line, "- [X]"):
			done = append(done, strings.TrimSpace(line[5:]))
		case strings.HasPrefix(line, "- [ ]"):
			open = append(open, strings.TrimSpace(line[5:]))
		}
	}
	return done, open
}

func openNoteTasks(lines []string) []string {
	_, open := splitNoteTasks(lines)
	return open
}

func stripListMarker(line string) string {
	for _, prefix := range []string{"- [x] ", "- [X] ", "- [ ] ", "- "} {
		if strings.HasPrefix(line, prefix) {
			return line[len(prefix):]
		}
	}
	return line
}
