package analysis

import (
	"strings"
	"sync"
	"time"
)

// Log configuration constants
const (
	LogMaxEntries  = 500
	LogEventBuffer = 100
)

// LogEntry is one line of the human-readable session log.
type LogEntry struct {
	At   time.Time
	Text string
}

// Log is the ordered in-memory session log: every inbound backend
// message lands here, parsed or raw, in arrival order.
type Log struct {
	mu       sync.RWMutex
	entries  []LogEntry
	maxSize  int
	eventsCh chan LogEntry
}

// NewLog creates a bounded session log.
func NewLog() *Log {
	return &Log{
		maxSize:  LogMaxEntries,
		eventsCh: make(chan LogEntry, LogEventBuffer),
	}
}

// Append stores one line and emits it to any listener, non-blocking.
func (l *Log) Append(text string) {
	entry := LogEntry{At: time.Now(), Text: text}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.maxSize {
		l.entries = l.entries[len(l.entries)-l.maxSize:]
	}
	l.mu.Unlock()

	select {
	case l.eventsCh <- entry:
	default:
	}
}

// Lines returns a copy of all log lines in order.
func (l *Log) Lines() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Text
	}
	return out
}

// String renders the log the way the UI panel shows it.
func (l *Log) String() string {
	return strings.Join(l.Lines(), "\n")
}

// Events returns the channel of appended entries.
func (l *Log) Events() <-chan LogEntry {
	return l.eventsCh
}

// Reset clears the log for a new session.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
