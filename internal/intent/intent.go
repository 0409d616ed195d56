package intent

import "fmt"

// Intent is a coarse classification of what a message asks for.
type Intent string

const (
	CommandExecution    Intent = "command_execution"
	MediaAnalysis       Intent = "media_analysis"
	MediaGeneration     Intent = "media_generation"
	GeneralQuestion     Intent = "general_question"
	GeneralChat         Intent = "general_chat"
	ClarificationNeeded Intent = "clarification_needed"
	Unknown             Intent = "unknown"
)

var known = map[Intent]bool{
	CommandExecution:    true,
	MediaAnalysis:       true,
	MediaGeneration:     true,
	GeneralQuestion:     true,
	GeneralChat:         true,
	ClarificationNeeded: true,
	Unknown:             true,
}

// Parse converts s to an Intent, rejecting names outside the closed set.
func Parse(s string) (Intent, error) {
	i := Intent(s)
	if !known[i] {
		return "", fmt.Errorf("unknown intent %q", s)
	}
	return i, nil
}

// Result is the outcome of classifying one text.
type Result struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	// Trigger is the keyword or pattern match that contributed most, if any.
	Trigger string `json:"trigger,omitempty"`

	// Original holds the pre-clarification classification when Intent is
	// ClarificationNeeded.
	Original           Intent  `json:"original,omitempty"`
	OriginalConfidence float64 `json:"original_confidence,omitempty"`
}

// IsUnknown reports whether no intent cleared the floor.
func (r Result) IsUnknown() bool { return r.Intent == Unknown }
