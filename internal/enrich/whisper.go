package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/acme/followup-call-service/internal/config"
	apperrors "github.com/acme/followup-call-service/pkg/errors"
)

// Transcriber is the optional speech-to-text enrichment. When available,
// the dialog engine swaps the DTMF-collected freeform answer for a real
// transcript of the call recording before scoring. Failures are silent.
type Transcriber struct {
	baseURL string
	client  *http.Client
}

// NewTranscriber builds the transcription client, or nil when disabled.
func NewTranscriber(cfg config.TranscribeConfig) *Transcriber {
	if !cfg.Enabled || cfg.BaseURL == "" {
		return nil
	}
	return &Transcriber{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type transcribeRequest struct {
	RecordingRef string `json:"recording_ref"`
	Language     string `json:"language"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe converts the recording reference into text.
func (t *Transcriber) Transcribe(ctx context.Context, recordingRef string) (string, error) {
	body, err := json.Marshal(transcribeRequest{RecordingRef: recordingRef, Language: "fr"})
	if err != nil {
		return "", fmt.Errorf("%w: marshal: %v", apperrors.ErrEnrichmentUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/transcribe", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: request: %v", apperrors.ErrEnrichmentUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrEnrichmentUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", apperrors.ErrEnrichmentUnavailable, resp.StatusCode)
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode: %v", apperrors.ErrEnrichmentUnavailable, err)
	}
	if out.Text == "" {
		return "", fmt.Errorf("%w: empty transcript", apperrors.ErrEnrichmentUnavailable)
	}
	return out.Text, nil
}
