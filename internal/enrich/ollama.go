package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/acme/followup-call-service/internal/config"
	"github.com/acme/followup-call-service/internal/domain"
	apperrors "github.com/acme/followup-call-service/pkg/errors"
)

// Scorer is the optional LLM-backed scoring enrichment. Its output is
// advisory: any failure or malformed reply makes the caller fall back to
// the deterministic score, silently.
type Scorer struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewScorer builds the enrichment client, or nil when disabled.
func NewScorer(cfg config.ScoringConfig) *Scorer {
	if !cfg.Enabled || cfg.BaseURL == "" {
		return nil
	}
	return &Scorer{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Model    string `json:"model"`
}

var scorePattern = regexp.MustCompile(`(\d{1,3})\s*/\s*100`)

// Score asks the model for a 0-100 urgency score with a short rationale.
// The numeric result is extracted from the reply and must land in range;
// anything else returns ErrEnrichmentUnavailable.
func (s *Scorer) Score(ctx context.Context, responses map[string]domain.Answer, patient domain.PatientContext) (int, string, error) {
	payload := generateRequest{
		Model:  s.model,
		Prompt: buildScoringPrompt(responses, patient),
		Stream: false,
		Options: map[string]any{
			"temperature": 0.1,
			"top_p":       0.8,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("%w: marshal: %v", apperrors.ErrEnrichmentUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("%w: request: %v", apperrors.ErrEnrichmentUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", apperrors.ErrEnrichmentUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("%w: status %d", apperrors.ErrEnrichmentUnavailable, resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, "", fmt.Errorf("%w: decode: %v", apperrors.ErrEnrichmentUnavailable, err)
	}

	match := scorePattern.FindStringSubmatch(out.Response)
	if match == nil {
		return 0, "", fmt.Errorf("%w: no score in reply", apperrors.ErrEnrichmentUnavailable)
	}
	score, err := strconv.Atoi(match[1])
	if err != nil || score < 0 || score > 100 {
		return 0, "", fmt.Errorf("%w: score out of range", apperrors.ErrEnrichmentUnavailable)
	}

	return score, out.Response, nil
}

func buildScoringPrompt(responses map[string]domain.Answer, patient domain.PatientContext) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "You are a medical scoring system for post-discharge follow-up calls.\n")
	fmt.Fprintf(&buf, "Patient: %s %s (hospital %s)\n\n", patient.PatientFirstName, patient.PatientName, patient.HospitalID)
	fmt.Fprintf(&buf, "Answers:\n")
	if a, ok := responses["pain_level"]; ok {
		fmt.Fprintf(&buf, "- Pain: %d/10\n", a.Number)
	}
	if a, ok := responses["medication"]; ok {
		fmt.Fprintf(&buf, "- Medication taken: %t\n", a.Bool)
	}
	if a, ok := responses["transit"]; ok {
		fmt.Fprintf(&buf, "- Transit normal: %t\n", a.Bool)
	}
	if a, ok := responses["mood"]; ok {
		fmt.Fprintf(&buf, "- Mood: %d/10\n", a.Number)
	}
	if a, ok := responses["fever"]; ok {
		fmt.Fprintf(&buf, "- Fever: %t\n", a.Bool)
	}
	if a, ok := responses["other_complaints"]; ok {
		fmt.Fprintf(&buf, "- Other complaints: %s\n", a.Text)
	}
	fmt.Fprintf(&buf, "\nScoring rules: base 100; pain>5 -20; medication not taken -15; abnormal transit -10; mood<5 -15; fever -20; emergency keywords -20.\n")
	fmt.Fprintf(&buf, "Compute the final score and explain briefly. Format: \"Score: X/100 - explanation\"")
	return buf.String()
}
