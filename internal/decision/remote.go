package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/windrose-io/windrose/internal/venue"
)

// RemotePolicy asks an external model server for the next action. The server
// receives the candle window and answers with one of "long", "short" or
// "none". Any transport or protocol failure maps to ActionNone with an error
// so the control loop skips the tick instead of trading on a guess.
type RemotePolicy struct {
	url    string
	client *http.Client
}

// NewRemotePolicy points at a model server endpoint.
func NewRemotePolicy(url string, timeout time.Duration) *RemotePolicy {
	return &RemotePolicy{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *RemotePolicy) Name() string {
	return "remote"
}

type decideRequest struct {
	Candles []venue.Candle `json:"candles"`
}

type decideResponse struct {
	Action string `json:"action"`
}

func (p *RemotePolicy) Decide(ctx context.Context, candles []venue.Candle) (Action, error) {
	if len(candles) == 0 {
		return ActionNone, ErrInsufficientHistory
	}

	body, err := json.Marshal(decideRequest{Candles: candles})
	if err != nil {
		return ActionNone, fmt.Errorf("failed to encode decide request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return ActionNone, fmt.Errorf("failed to build decide request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return ActionNone, fmt.Errorf("decide request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ActionNone, fmt.Errorf("decide request returned status %d", resp.StatusCode)
	}

	var out decideResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ActionNone, fmt.Errorf("failed to decode decide response: %w", err)
	}

	switch out.Action {
	case "long":
		return ActionLong, nil
	case "short":
		return ActionShort, nil
	case "none", "":
		return ActionNone, nil
	default:
		return ActionNone, fmt.Errorf("unknown action %q from model server", out.Action)
	}
}
