package backend

// ScenarioSummary is one entry of the training scenario catalog.
type ScenarioSummary struct {
	ID              int    `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Difficulty      string `json:"difficulty,omitempty"`
	RoundsCount     int    `json:"rounds_count"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Category        string `json:"category,omitempty"`
}

// Round is one scripted caller prompt within a scenario.
type Round struct {
	Round    int    `json:"round"`
	Question string `json:"question"`
	AudioURL string `json:"audio_url,omitempty"`
}

// Scenario is the full playable script for one training session.
type Scenario struct {
	ID        int     `json:"id"`
	Title     string  `json:"title"`
	Rounds    []Round `json:"rounds"`
	Guideline string  `json:"guideline,omitempty"`
}

// AnswerTemplates holds model answers keyed by pressure tactic.
type AnswerTemplates struct {
	PersonalInfoRequest string `json:"personal_info_request"`
	MoneyOrTransfer     string `json:"money_or_transfer"`
	AppOrLinkInstall    string `json:"app_or_link_install"`
}

// Coaching is the advisory portion of a transcript analysis.
type Coaching struct {
	WhyRisky   string          `json:"why_risky"`
	DoNextTime string          `json:"do_next_time"`
	Principles []string        `json:"principles"`
	Templates  AnswerTemplates `json:"better_answer_templates"`
}

// Analysis is the scored review of a completed simulation transcript.
type Analysis struct {
	Score          int      `json:"score"`
	RiskLevel      string   `json:"risk_level"`
	PatternSummary string   `json:"pattern_summary"`
	GoodSignals    []string `json:"good_signals"`
	RiskSignals    []string `json:"risk_signals"`
	Coaching       Coaching `json:"coaching"`
	OverallComment string   `json:"overall_comment"`
}

type sttResponse struct {
	Success    bool   `json:"success"`
	Transcript string `json:"transcript"`
	Error      string `json:"error"`
}

type scenarioListResponse struct {
	Success   bool              `json:"success"`
	Scenarios []ScenarioSummary `json:"scenarios"`
	Total     int               `json:"total"`
	Error     string            `json:"error"`
}
