package domain

import "time"

// ResponseKind classifies what a question expects back from the patient.
type ResponseKind string

const (
	ResponseBoolean  ResponseKind = "boolean"
	ResponseNumeric  ResponseKind = "numeric"
	ResponseDate     ResponseKind = "date"
	ResponseFreeform ResponseKind = "freeform"
	ResponseDigit    ResponseKind = "digit"
)

// TerminalQuestion marks the end of the question graph.
const TerminalQuestion = "end"

// Question is a node in the fixed, linear question graph.
type Question struct {
	ID        string
	PromptRef string
	Expect    ResponseKind
	NextID    string
}

// Answer is a captured, coerced patient response.
type Answer struct {
	Kind   ResponseKind `json:"kind"`
	Raw    string       `json:"raw"`
	Bool   bool         `json:"bool,omitempty"`
	Number int          `json:"number,omitempty"`
	Text   string       `json:"text,omitempty"`
	Date   *time.Time   `json:"date,omitempty"`
}

// QuestionGraph is an ordered set of questions with one entry node and one
// terminal marker.
type QuestionGraph struct {
	entry string
	nodes map[string]Question
}

// NewQuestionGraph builds a graph from an ordered chain of questions. The
// first question is the entry node; the last node's NextID must be the
// terminal marker.
func NewQuestionGraph(chain []Question) QuestionGraph {
	nodes := make(map[string]Question, len(chain))
	for _, q := range chain {
		nodes[q.ID] = q
	}
	entry := ""
	if len(chain) > 0 {
		entry = chain[0].ID
	}
	return QuestionGraph{entry: entry, nodes: nodes}
}

// Entry returns the identifier of the first question.
func (g QuestionGraph) Entry() string {
	return g.entry
}

// Lookup returns the question for the given identifier.
func (g QuestionGraph) Lookup(id string) (Question, bool) {
	q, ok := g.nodes[id]
	return q, ok
}

// Len reports how many questions the graph contains.
func (g QuestionGraph) Len() int {
	return len(g.nodes)
}

// MedicalQuestionnaire is the fixed post-discharge follow-up script.
// Branching is an extension point; the shipped graph is a linear chain.
func MedicalQuestionnaire() QuestionGraph {
	return NewQuestionGraph([]Question{
		{ID: "identity_verification", PromptRef: "identity_check", Expect: ResponseBoolean, NextID: "birth_date"},
		{ID: "birth_date", PromptRef: "birth_date_question", Expect: ResponseDate, NextID: "pain_level"},
		{ID: "pain_level", PromptRef: "pain_question", Expect: ResponseNumeric, NextID: "medication"},
		{ID: "medication", PromptRef: "medication_question", Expect: ResponseBoolean, NextID: "transit"},
		{ID: "transit", PromptRef: "transit_question", Expect: ResponseBoolean, NextID: "mood"},
		{ID: "mood", PromptRef: "mood_question", Expect: ResponseNumeric, NextID: "fever"},
		{ID: "fever", PromptRef: "fever_question", Expect: ResponseBoolean, NextID: "other_complaints"},
		{ID: "other_complaints", PromptRef: "other_question", Expect: ResponseFreeform, NextID: TerminalQuestion},
	})
}
