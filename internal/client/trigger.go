package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"whip/internal/command"
)

const DefaultTriggerTimeout = 10 * time.Second

// TriggerResult is the raw server answer to a POST /whip.
type TriggerResult struct {
	StatusCode int
	Body       string
}

func (r TriggerResult) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

type Trigger struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewTrigger(baseURL, token string) *Trigger {
	return &Trigger{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: DefaultTriggerTimeout},
	}
}

// Send posts req to <BaseURL>/whip. Non-2xx answers are returned, not treated as errors.
func (t *Trigger) Send(ctx context.Context, req command.Request) (TriggerResult, error) {
	body := map[string]any{"duration": req.Duration}
	if req.Side != "" {
		body["side"] = req.Side
	}
	b, err := json.Marshal(body)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(t.BaseURL, "/") + "/whip"
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return TriggerResult{}, fmt.Errorf("build request: %w", err)
	}
	hr.Header.Set("Authorization", "Bearer "+t.Token)
	hr.Header.Set("Content-Type", "application/json")

	hc := t.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTriggerTimeout}
	}
	resp, err := hc.Do(hr)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("read response: %w", err)
	}
	return TriggerResult{StatusCode: resp.StatusCode, Body: string(rb)}, nil
}
