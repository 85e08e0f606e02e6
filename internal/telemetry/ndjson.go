package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
)

// Record is one NDJSON line in the audit file.
type Record struct {
	RunID     string `json:"run_id"`
	Timestamp string `json:"ts"`
	Type      string `json:"type"`
	ConnID    string `json:"conn_id,omitempty"`
	Remote    string `json:"remote,omitempty"`
	// Token is a short fingerprint, never the bearer token itself.
	Token    string `json:"token,omitempty"`
	Status   int    `json:"status,omitempty"`
	Duration int    `json:"duration,omitempty"`
	Side     string `json:"side,omitempty"`
	Message  string `json:"message,omitempty"`
}

type Logger struct {
	mu    sync.Mutex
	runID string
	f     *os.File
	w     *bufio.Writer
}

func New(path, runID string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{
		runID: runID,
		f:     f,
		w:     bufio.NewWriterSize(f, 64*1024),
	}, nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w != nil {
		_ = l.w.Flush()
	}
	if l.f != nil {
		err := l.f.Close()
		l.f, l.w = nil, nil
		return err
	}
	return nil
}

// Log appends rec, filling RunID and Timestamp when empty. A nil Logger is a no-op.
func (l *Logger) Log(rec Record) {
	if l == nil {
		return
	}
	if rec.RunID == "" {
		rec.RunID = l.runID
	}
	if rec.Timestamp == "" {
		rec.Timestamp = NowTS()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w == nil {
		return
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_, _ = l.w.Write(append(line, '\n'))
	_ = l.w.Flush()
}
