// Package ledger submits finished tournament brackets to the external
// results service over HTTP.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"paddleserve/broker/internal/logging"
)

const defaultTimeout = 10 * time.Second

// record is the wire shape the results service expects. Scores are rendered
// as "left-right" strings matching the bracket slot orientation.
type record struct {
	PlayerID1       string `json:"player_id_1"`
	PlayerID2       string `json:"player_id_2"`
	PlayerID3       string `json:"player_id_3"`
	PlayerID4       string `json:"player_id_4"`
	ScoreMatch12    string `json:"score_match_1_2"`
	ScoreMatch34    string `json:"score_match_3_4"`
	ScoreMatchFinal string `json:"score_match_final"`
}

// Client posts bracket records to a single base URL.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logging.Logger
}

// NewClient builds a ledger client for the given base URL. An empty URL
// yields a disabled client whose Archive is a no-op.
func NewClient(baseURL string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.L()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		log:     logger,
	}
}

// Enabled reports whether a destination is configured.
func (c *Client) Enabled() bool { return c != nil && c.baseURL != "" }

// Archive posts one finished bracket. The caller owns retry policy; a
// non-2xx response is reported as an error.
func (c *Client) Archive(ctx context.Context, playerIDs [4]string, scoreSemi1, scoreSemi2, scoreFinal string) error {
	if !c.Enabled() {
		return nil
	}
	payload, err := json.Marshal(record{
		PlayerID1:       playerIDs[0],
		PlayerID2:       playerIDs[1],
		PlayerID3:       playerIDs[2],
		PlayerID4:       playerIDs[3],
		ScoreMatch12:    scoreSemi1,
		ScoreMatch34:    scoreSemi2,
		ScoreMatchFinal: scoreFinal,
	})
	if err != nil {
		return fmt.Errorf("encode bracket record: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tournaments/", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build ledger request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("post bracket record: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("ledger rejected bracket record: status %d", response.StatusCode)
	}
	c.log.Info("tournament bracket archived",
		logging.String("player_id_1", playerIDs[0]),
		logging.String("score_final", scoreFinal))
	return nil
}
