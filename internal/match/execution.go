package match

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ExecutionClient talks to the external match-execution (game room)
// service. Every call is bounded by the client timeout so a slow room
// service cannot stall scheduler ticks.
type ExecutionClient struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewExecutionClient creates a client for the room service.
func NewExecutionClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *ExecutionClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ExecutionClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "execution_client").Logger(),
	}
}

type createMatchRequest struct {
	Players   []string `json:"players"`
	ProblemID string   `json:"problemId"`
}

type createMatchResponse struct {
	RoomID string `json:"roomId"`
}

// CreateMatch asks the room service to materialize a match for the paired
// players and returns the room ID it allocated.
func (c *ExecutionClient) CreateMatch(ctx context.Context, players []string, problemID string) (string, error) {
	body, err := json.Marshal(createMatchRequest{Players: players, ProblemID: problemID})
	if err != nil {
		return "", fmt.Errorf("marshal create-match request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/admin/create-match", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build create-match request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call execution service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("execution service returned %d: %s", resp.StatusCode, string(snippet))
	}

	var out createMatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode create-match response: %w", err)
	}
	if out.RoomID == "" {
		return "", fmt.Errorf("execution service returned empty room id")
	}
	return out.RoomID, nil
}
