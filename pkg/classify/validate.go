package classify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/snapvault/snapvault/pkg/engine"
)

// rawAnalysis is the wire shape of the classifier response.
type rawAnalysis struct {
	Summary            string    `json:"summary" validate:"required"`
	Language           string    `json:"language"`
	Transcript         string    `json:"transcript"`
	FilenameSuggestion string    `json:"filename_suggestion" validate:"required,max=120"`
	Items              []rawItem `json:"items" validate:"dive"`
}

type rawItem struct {
	Type     string   `json:"type" validate:"required,oneof=TASK EVENT IDEA DIARY REFERENCE FINANCE"`
	Content  string   `json:"content" validate:"required"`
	Priority string   `json:"priority" validate:"required,oneof=high medium low"`
	DueDate  string   `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Project  string   `json:"project"`
	Tags     []string `json:"tags"`
}

var validate = validator.New()

// parseResponse turns the model's text output into a validated analysis
// result. Any deviation from the schema is a permanent error: retrying the
// same capture against the same model yields the same malformed answer.
func parseResponse(itemID, text string) (*engine.AnalysisResult, error) {
	payload := stripFences(text)

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, engine.NewPermanentError("classifier response is not valid JSON", err).WithItem(itemID)
	}
	if err := validate.Struct(raw); err != nil {
		return nil, engine.NewPermanentError("classifier response failed schema validation", err).WithItem(itemID)
	}

	result := &engine.AnalysisResult{
		SourceItemID:       itemID,
		Summary:            raw.Summary,
		Language:           raw.Language,
		Transcript:         raw.Transcript,
		FilenameSuggestion: sanitizeFilename(raw.FilenameSuggestion),
		Fragments:          make([]engine.ClassifiedFragment, 0, len(raw.Items)),
	}

	for i, item := range raw.Items {
		frag := engine.ClassifiedFragment{
			Type:        engine.FragmentType(item.Type),
			Content:     item.Content,
			Priority:    engine.Priority(item.Priority),
			ProjectHint: item.Project,
			Tags:        item.Tags,
		}
		if item.DueDate != "" {
			due, err := time.Parse("2006-01-02", item.DueDate)
			if err != nil {
				return nil, engine.NewPermanentError(
					fmt.Sprintf("item %d has unparseable due date %q", i, item.DueDate), err).WithItem(itemID)
			}
			frag.DueDate = &due
		}
		result.Fragments = append(result.Fragments, frag)
	}

	return result, nil
}

// stripFences removes a markdown code fence the model sometimes wraps its
// JSON in despite instructions.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// sanitizeFilename normalizes a suggestion into a safe hyphenated name.
func sanitizeFilename(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastHyphen := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
