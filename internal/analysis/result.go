// Package analysis accumulates risk results over a live session
package analysis

import (
	"sync"
	"time"
)

// Risk level thresholds on the 0-100 score scale.
const (
	HighRiskScore   = 70
	MediumRiskScore = 50
)

// Level is the coarse risk classification shown to the user.
type Level string

const (
	LevelNone   Level = ""
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// DeriveLevel maps a risk score to a level. Used only when the backend
// does not classify the score itself.
func DeriveLevel(score int) Level {
	switch {
	case score >= HighRiskScore:
		return LevelHigh
	case score >= MediumRiskScore:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Update is one finalized risk report from the backend.
type Update struct {
	RiskScore int
	RiskLevel Level // optional; wins over the derived level when set
	Reason    string
	Keywords  []string
}

// Result is the running worst-case view of a session.
type Result struct {
	RiskScore int
	RiskLevel Level
	Keywords  []string
	Reason    string
	UpdatedAt time.Time
}

// Accumulator folds backend updates into a Result that never loses
// ground: the score is a max-reduction and keywords only grow, so the
// outcome is the same whatever order updates arrive in.
type Accumulator struct {
	mu     sync.Mutex
	result Result
	seen   map[string]struct{}
	now    func() time.Time
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		seen: make(map[string]struct{}),
		now:  time.Now,
	}
}

// Apply folds one update into the accumulated result.
func (a *Accumulator) Apply(u Update) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if u.RiskScore > a.result.RiskScore {
		a.result.RiskScore = u.RiskScore
	}

	if u.RiskLevel != LevelNone {
		a.result.RiskLevel = u.RiskLevel
	} else {
		a.result.RiskLevel = DeriveLevel(a.result.RiskScore)
	}

	for _, kw := range u.Keywords {
		if _, ok := a.seen[kw]; ok {
			continue
		}
		a.seen[kw] = struct{}{}
		a.result.Keywords = append(a.result.Keywords, kw)
	}

	if u.Reason != "" {
		a.result.Reason = u.Reason
	}
	a.result.UpdatedAt = a.now()
}

// Snapshot returns a copy of the current result.
func (a *Accumulator) Snapshot() Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.result
	out.Keywords = append([]string(nil), a.result.Keywords...)
	return out
}

// Score returns the current accumulated risk score.
func (a *Accumulator) Score() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result.RiskScore
}

// Reset clears the accumulator for a new session.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result = Result{}
	a.seen = make(map[string]struct{})
}
