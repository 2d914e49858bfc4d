package classify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/snapvault/snapvault/pkg/engine"
	"github.com/snapvault/snapvault/pkg/telemetry"
)

const (
	// DefaultModel is the vision-capable model the classifier calls.
	DefaultModel = "gemini-2.0-flash"

	// maxAttempts bounds transient retries of one classifier call.
	maxAttempts = 3

	// baseBackoff is the first retry delay; it doubles per attempt.
	baseBackoff = time.Second
)

// GeminiAnalyzer classifies captures through the Gemini API. It implements
// engine.Analyzer: exactly one successful call per item, transport failures
// retried with exponential backoff inside the adapter, rejected credentials
// surfaced as auth errors without retrying, schema violations surfaced as
// permanent errors.
type GeminiAnalyzer struct {
	client *genai.Client
	model  string
	sleep  func(time.Duration)
}

// NewGeminiAnalyzer creates an analyzer with the given API key. An empty
// model falls back to DefaultModel.
func NewGeminiAnalyzer(ctx context.Context, apiKey, model string) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, engine.NewAuthError("classifier API key is empty", nil)
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("creating classifier client: %w", err)
	}
	return &GeminiAnalyzer{client: client, model: model, sleep: time.Sleep}, nil
}

// Analyze sends the capture bytes and the extraction prompt to the model and
// parses the structured response.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, itemID string, content []byte, mimeType string) (*engine.AnalysisResult, error) {
	log := telemetry.FromContext(ctx).WithItemID(itemID)
	tel := telemetry.FromTelemetryContext(ctx)

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(content, mimeType),
			genai.NewPartFromText(classifierPrompt),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.1),
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		started := time.Now()
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
		if err != nil {
			if tel != nil {
				tel.Metrics.RecordClassifierCall("error", time.Since(started))
			}
			if authErr := classifierAuthError(itemID, err); authErr != nil {
				return nil, authErr
			}
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			log.WithError(err).WithField("attempt", attempt).Warn("classifier call failed")
			if attempt < maxAttempts {
				g.sleep(baseBackoff << (attempt - 1))
			}
			continue
		}
		if tel != nil {
			tel.Metrics.RecordClassifierCall("ok", time.Since(started))
		}

		text := resp.Text()
		if text == "" {
			return nil, engine.NewPermanentError("classifier returned an empty response", nil).WithItem(itemID)
		}
		return parseResponse(itemID, text)
	}

	return nil, engine.NewTransientError(
		fmt.Sprintf("classifier unavailable after %d attempts", maxAttempts), lastErr).WithItem(itemID)
}

// classifierAuthError maps a rejected or revoked API credential to an auth
// error. Credential failures never heal inside the backoff window, so they
// surface immediately instead of burning the retry attempts.
func classifierAuthError(itemID string, err error) error {
	var aerr genai.APIError
	if !errors.As(err, &aerr) {
		return nil
	}
	if aerr.Code == http.StatusUnauthorized || aerr.Code == http.StatusForbidden {
		return engine.NewAuthError("classifier credentials rejected", err).WithItem(itemID)
	}
	return nil
}
