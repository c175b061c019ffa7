// Package transport maintains the websocket channel to the analysis backend
package transport

import (
	"fmt"
	"math"
	"strings"
)

// Segment is one per-speaker transcript piece of an analysis update.
type Segment struct {
	Speaker int    `json:"speaker"`
	Text    string `json:"text"`
}

// Message is the inbound wire shape. The backend sends either a
// segments list or a single transcript/speaker pair, and spells error
// text under several possible field names.
type Message struct {
	Type             string    `json:"type"`
	Transcript       string    `json:"transcript"`
	IsFinal          bool      `json:"is_final"`
	Speaker          *int      `json:"speaker"`
	Segments         []Segment `json:"segments"`
	RiskScore        *float64  `json:"risk_score"`
	RiskLevel        string    `json:"risk_level"`
	AnalysisReason   string    `json:"analysis_reason"`
	DetectedKeywords []string  `json:"detected_keywords"`

	// Error message variants, normalized once at ingress.
	MessageText string `json:"message"`
	Error       string `json:"error"`
	Detail      string `json:"detail"`
	Description string `json:"description"`
}

// Message type discriminators.
const (
	TypeAnalysisUpdate = "analysis_update"
	TypeError          = "error"
)

// Score returns the rounded risk score and whether one was present.
func (m Message) Score() (int, bool) {
	if m.RiskScore == nil {
		return 0, false
	}
	return int(math.Round(*m.RiskScore)), true
}

// LogLine renders an analysis update the way the session log shows it.
func (m Message) LogLine() string {
	var b strings.Builder
	if m.IsFinal {
		b.WriteString("[FINAL] ")
	} else {
		b.WriteString("[PART] ")
	}

	if len(m.Segments) > 0 {
		parts := make([]string, len(m.Segments))
		for i, s := range m.Segments {
			parts[i] = fmt.Sprintf("[SPK%d] %s", s.Speaker, s.Text)
		}
		b.WriteString(strings.Join(parts, " | "))
	} else {
		if m.Speaker != nil {
			fmt.Fprintf(&b, "[SPK%d] ", *m.Speaker)
		}
		b.WriteString(m.Transcript)
	}

	if score, ok := m.Score(); ok {
		fmt.Fprintf(&b, " [risk: %d%%]", score)
	}
	return b.String()
}

// NormalizeError collapses the backend's assorted error fields into one
// canonical message: first non-empty wins, in fixed priority order.
// The field-name ambiguity never propagates past this boundary.
func NormalizeError(m Message) string {
	for _, s := range []string{m.MessageText, m.Error, m.Detail, m.Description} {
		if s != "" {
			return s
		}
	}
	return "unknown error"
}
