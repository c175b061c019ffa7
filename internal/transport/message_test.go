package transport

import "testing"

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func TestLogLine(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "partial single transcript",
			msg:  Message{Transcript: "they asked for my account number"},
			want: "[PART] they asked for my account number",
		},
		{
			name: "final with speaker",
			msg:  Message{IsFinal: true, Speaker: intp(1), Transcript: "please verify your identity"},
			want: "[FINAL] [SPK1] please verify your identity",
		},
		{
			name: "segments joined in order",
			msg: Message{
				IsFinal: true,
				Segments: []Segment{
					{Speaker: 0, Text: "hello"},
					{Speaker: 1, Text: "this is your bank"},
				},
			},
			want: "[FINAL] [SPK0] hello | [SPK1] this is your bank",
		},
		{
			name: "segments win over transcript",
			msg: Message{
				Transcript: "ignored",
				Segments:   []Segment{{Speaker: 2, Text: "kept"}},
			},
			want: "[PART] [SPK2] kept",
		},
		{
			name: "risk score suffix rounds",
			msg:  Message{IsFinal: true, Transcript: "wire the money now", RiskScore: floatp(71.6)},
			want: "[FINAL] wire the money now [risk: 72%]",
		},
		{
			name: "zero score still shown",
			msg:  Message{Transcript: "weather chat", RiskScore: floatp(0)},
			want: "[PART] weather chat [risk: 0%]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.LogLine(); got != tt.want {
				t.Errorf("LogLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScore(t *testing.T) {
	if _, ok := (Message{}).Score(); ok {
		t.Error("Score() present on message without risk_score")
	}
	if got, ok := (Message{RiskScore: floatp(49.5)}).Score(); !ok || got != 50 {
		t.Errorf("Score() = %d,%v, want 50,true", got, ok)
	}
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"message wins over all", Message{MessageText: "a", Error: "b", Detail: "c", Description: "d"}, "a"},
		{"error beats detail", Message{Error: "b", Detail: "c", Description: "d"}, "b"},
		{"detail beats description", Message{Detail: "c", Description: "d"}, "c"},
		{"description last", Message{Description: "d"}, "d"},
		{"all empty", Message{Type: TypeError}, "unknown error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeError(tt.msg); got != tt.want {
				t.Errorf("NormalizeError() = %q, want %q", got, tt.want)
			}
		})
	}
}
