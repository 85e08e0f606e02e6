package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	NameWhip = "whip"

	MinDuration = 1
	MaxDuration = 60
)

// tsLayout matches an ISO-8601 UTC stamp with microseconds and a +00:00 offset.
const tsLayout = "2006-01-02T15:04:05.000000-07:00"

type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
	SideBoth  Side = "both"
)

func (s Side) Valid() bool {
	switch s {
	case SideLeft, SideRight, SideBoth:
		return true
	}
	return false
}

type Request struct {
	Duration int  `json:"duration"`
	Side     Side `json:"side"`
}

// Command is the frame written to the listener's socket.
type Command struct {
	Command  string `json:"command"`
	Duration int    `json:"duration"`
	Side     Side   `json:"side"`
	TS       string `json:"ts"`
}

func NewWhip(req Request, now time.Time) Command {
	side := req.Side
	if side == "" {
		side = SideBoth
	}
	return Command{
		Command:  NameWhip,
		Duration: req.Duration,
		Side:     side,
		TS:       now.UTC().Format(tsLayout),
	}
}

// Message is a decoded inbound frame on the listener side.
type Message struct {
	Command  string
	Duration int
	Side     Side
	Fields   map[string]any
}

func (m Message) IsWhip() bool { return m.Command == NameWhip }

var ErrNotJSON = errors.New("frame is not a JSON object")

func Decode(raw []byte) (Message, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Message{}, ErrNotJSON
	}
	m := Message{Fields: fields, Side: SideBoth}
	if s, ok := fields["command"].(string); ok {
		m.Command = s
	}
	if d, ok := fields["duration"].(float64); ok {
		m.Duration = int(d)
	}
	if s, ok := fields["side"].(string); ok && s != "" {
		m.Side = Side(s)
	}
	return m, nil
}

func (m Message) String() string {
	if m.IsWhip() {
		return fmt.Sprintf("whip %ds side=%s", m.Duration, m.Side)
	}
	b, _ := json.Marshal(m.Fields)
	return string(b)
}
