package dialog

import (
	"strconv"
	"strings"
	"time"

	"github.com/acme/followup-call-service/internal/domain"
)

// Coerce converts a raw patient response into the kind the current question
// expects. Parsing is best-effort: a response that does not match is folded
// to a neutral value (numeric 0, boolean false) instead of being rejected,
// so the dialog always moves forward.
func Coerce(kind domain.ResponseKind, raw string) domain.Answer {
	answer := domain.Answer{Kind: kind, Raw: raw}

	switch kind {
	case domain.ResponseBoolean:
		answer.Bool = parseBool(raw)
	case domain.ResponseNumeric:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			n = 0
		}
		answer.Number = n
	case domain.ResponseDate:
		if d, ok := parseDate(raw); ok {
			answer.Date = &d
		}
	case domain.ResponseFreeform, domain.ResponseDigit:
		answer.Text = raw
	}

	return answer
}

// parseBool accepts DTMF convention (1 = yes) alongside spoken confirmations
// passed through from transcription.
func parseBool(raw string) bool {
	switch strings.TrimSpace(raw) {
	case "1":
		return true
	case "":
		return false
	}
	lowered := strings.ToLower(raw)
	return strings.Contains(lowered, "yes") || strings.Contains(lowered, "oui") || strings.Contains(lowered, "exact")
}

var dateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	"02012006", // DTMF-keyed ddmmyyyy
}

func parseDate(raw string) (time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, trimmed); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}
