package engine

import (
	"fmt"
	"strings"
	"time"
)

// DailyNoteName returns the daily note filename for a local date key.
func DailyNoteName(day string) string {
	return day + ".md"
}

// DailyNoteTemplate renders the skeleton a daily note is created from on
// first write.
func DailyNoteTemplate(day string) string {
	return fmt.Sprintf(`---
date: %s
---

## Tasks

## Events

## Diary

## Notes
`, day)
}

// SpliceUnderHeading inserts a block immediately after the given markdown
// heading. When the heading is absent (or empty), the block is appended to
// the end of the document instead. Existing content under the heading is
// pushed down, so newest blocks appear first within their section.
func SpliceUnderHeading(doc, heading, block string) string {
	if heading != "" {
		if idx := strings.Index(doc, heading); idx >= 0 {
			insert := idx + len(heading)
			if insert < len(doc) && doc[insert] == '\n' {
				insert++
			}
			return doc[:insert] + block + "\n" + doc[insert:]
		}
	}
	if doc != "" && !strings.HasSuffix(doc, "\n") {
		doc += "\n"
	}
	return doc + block + "\n"
}

// DocumentHeader renders the initial content of a topic document created on
// first write, titled after its filename.
func DocumentHeader(filename string) string {
	return "# " + strings.TrimSuffix(filename, ".md") + "\n\n"
}

// ArchivedName builds the descriptive filename an archived capture is
// renamed to: the capture day, the classifier's suggestion, and the original
// extension.
func ArchivedName(day, suggestion, originalName string) string {
	ext := "png"
	if idx := strings.LastIndex(originalName, "."); idx >= 0 && idx < len(originalName)-1 {
		ext = strings.ToLower(originalName[idx+1:])
	}
	if suggestion == "" {
		suggestion = "screenshot"
	}
	return fmt.Sprintf("%s-%s.%s", day, suggestion, ext)
}

// SidecarName builds the filename of the analysis record stored beside an
// archived capture.
func SidecarName(suggestion string) string {
	if suggestion == "" {
		suggestion = "analysis"
	}
	return suggestion + "-analysis.md"
}

// RenderSidecar renders the markdown analysis record persisted alongside the
// archived source for auditability.
func RenderSidecar(analysis *AnalysisResult, sourceName string, analyzedAt time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "---\nsource: %s\nanalyzed: %s\nlanguage: %s\n---\n\n",
		sourceName, analyzedAt.Format(time.RFC3339), orUnknown(analysis.Language))

	title := analysis.Summary
	if title == "" {
		title = "Screenshot Analysis"
	}
	b.WriteString("# " + title + "\n\n")

	b.WriteString("## Transcript\n")
	if analysis.Transcript == "" {
		b.WriteString("(no text detected)\n")
	} else {
		b.WriteString(analysis.Transcript + "\n")
	}

	b.WriteString("\n## Items\n")
	for _, frag := range analysis.Fragments {
		due := ""
		if frag.DueDate != nil {
			due = " (due: " + frag.DueDate.Format("2006-01-02") + ")"
		}
		fmt.Fprintf(&b, "- **[%s]** %s — _%s%s_\n", frag.Type, frag.Content, frag.Priority, due)
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
