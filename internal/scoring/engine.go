package scoring

import (
	"strings"

	"github.com/acme/followup-call-service/internal/domain"
)

// EmergencyKeywords force urgent handling when present in a freeform answer.
// Matching is case-insensitive substring.
var EmergencyKeywords = []string{
	"urgency",
	"ambulance",
	"hospital",
	"severe pain",
	"blood",
	"breathing difficulty",
}

// ContainsEmergencyKeyword reports whether the text triggers the urgent path.
func ContainsEmergencyKeyword(text string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range EmergencyKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// Engine is the deterministic rule evaluator over a finalized response set.
type Engine struct{}

// NewEngine constructs the rule evaluator.
func NewEngine() *Engine {
	return &Engine{}
}

// Score computes the medical urgency score from a base of 100, applying a
// fixed penalty per concerning answer, clamped to [0, 100].
func (e *Engine) Score(responses map[string]domain.Answer) int {
	score := 100

	if pain, ok := responses["pain_level"]; ok && pain.Number > 5 {
		score -= 20
	}
	if med, ok := responses["medication"]; ok && !med.Bool {
		score -= 15
	}
	if transit, ok := responses["transit"]; ok && !transit.Bool {
		score -= 10
	}
	if mood, ok := responses["mood"]; ok && mood.Number < 5 {
		score -= 15
	}
	if fever, ok := responses["fever"]; ok && fever.Bool {
		score -= 20
	}
	if other, ok := responses["other_complaints"]; ok && ContainsEmergencyKeyword(other.Text) {
		score -= 20
	}

	return Clamp(score)
}

// Clamp bounds a score to [0, 100]. Enriched scores go through the same
// clamp as deterministic ones.
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
