package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalid = errors.New("invalid whip request")

// Issue is one field-level validation failure.
type Issue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.Join(is.Loc, "."), is.Msg))
	}
	return "invalid whip request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// ParseRequest decodes and validates a REST body. Unknown fields are ignored.
func ParseRequest(body []byte) (Request, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Request{}, &ValidationError{Issues: []Issue{{
			Loc: []string{"body"}, Msg: "Field required", Type: "missing",
		}}}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Request{}, &ValidationError{Issues: []Issue{{
			Loc: []string{"body"}, Msg: "JSON decode error", Type: "json_invalid",
		}}}
	}

	var req Request
	var issues []Issue

	if d, ok := raw["duration"]; !ok {
		issues = append(issues, Issue{Loc: []string{"body", "duration"}, Msg: "Field required", Type: "missing"})
	} else if n, issue := parseDuration(d); issue != nil {
		issues = append(issues, *issue)
	} else {
		req.Duration = n
	}

	req.Side = SideBoth
	// An explicit null side is an error; only an absent side defaults.
	if s, ok := raw["side"]; ok {
		var side string
		if err := json.Unmarshal(s, &side); err != nil || !Side(side).Valid() {
			issues = append(issues, Issue{
				Loc:  []string{"body", "side"},
				Msg:  "Input should be 'left', 'right' or 'both'",
				Type: "enum",
			})
		} else {
			req.Side = Side(side)
		}
	}

	if len(issues) > 0 {
		return Request{}, &ValidationError{Issues: issues}
	}
	return req, nil
}

// parseDuration accepts JSON integers, integral floats and strings holding
// either, the way lax-mode request validation does.
func parseDuration(raw json.RawMessage) (int, *Issue) {
	loc := []string{"body", "duration"}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, &Issue{Loc: loc, Msg: "Input should be a valid integer", Type: "int_type"}
		}
		str = strings.TrimSpace(str)
		if n, err := strconv.Atoi(str); err == nil {
			f = float64(n)
		} else if pf, err := strconv.ParseFloat(str, 64); err == nil && !math.IsInf(pf, 0) && !math.IsNaN(pf) {
			f = pf
		} else {
			return 0, &Issue{Loc: loc, Msg: "Input should be a valid integer, unable to parse string as an integer", Type: "int_parsing"}
		}
	}
	if f != math.Trunc(f) {
		return 0, &Issue{Loc: loc, Msg: "Input should be a valid integer, got a number with a fractional part", Type: "int_from_float"}
	}
	if f < MinDuration {
		return 0, &Issue{Loc: loc, Msg: fmt.Sprintf("Input should be greater than or equal to %d", MinDuration), Type: "greater_than_equal"}
	}
	if f > MaxDuration {
		return 0, &Issue{Loc: loc, Msg: fmt.Sprintf("Input should be less than or equal to %d", MaxDuration), Type: "less_than_equal"}
	}
	return int(f), nil
}

// ValidDuration reports whether d is within the accepted range.
func ValidDuration(d int) bool {
	return d >= MinDuration && d <= MaxDuration
}
