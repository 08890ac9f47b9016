package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// WebSocket close codes distinguishing why the server rejected a connection.
const (
	CloseGenericFailure  = 4000
	CloseNoIdentity      = 4001
	CloseUnknownIdentity = 4002
	CloseSuperseded      = 4003
)

// Inbound action tags accepted from clients.
const (
	ActionMovePaddle      = "move_paddle"
	ActionGameOver        = "game_over"
	ActionCreateTourney   = "create_tournament"
	ActionJoinTourney     = "join_tournament"
	ActionStartTourney    = "start_tournament"
	ActionAllUsersStatus  = "request_all_users_status"
	ActionUserStatus      = "request_user_status"
)

var (
	// ErrEmptyPayload signals a zero-length websocket frame.
	ErrEmptyPayload = errors.New("empty message payload")
	// ErrUnknownAction signals an action tag outside the closed set.
	ErrUnknownAction = errors.New("unknown action")
	// ErrMissingToken signals a tournament action without its token.
	ErrMissingToken = errors.New("missing tournament token")
)

// ClientMessage mirrors the JSON layout of every inbound frame. The Action tag
// decides which of the optional fields are meaningful.
type ClientMessage struct {
	Action       string  `json:"action"`
	Player       string  `json:"player,omitempty"`
	Position     float64 `json:"position,omitempty"`
	PlayerID     string  `json:"player_id,omitempty"`
	PointsScored int     `json:"points_scored,omitempty"`
	HasWon       bool    `json:"has_won,omitempty"`
	Token        string  `json:"token,omitempty"`
	UserID       string  `json:"user_id,omitempty"`
}

// Decode parses a websocket frame into a structured client message.
func Decode(raw []byte) (*ClientMessage, error) {
	//1.- Ensure we have data to decode before hitting JSON parsing.
	if len(raw) == 0 {
		return nil, ErrEmptyPayload
	}
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	//2.- Reject tags outside the closed action set instead of falling through.
	switch msg.Action {
	case ActionMovePaddle, ActionGameOver, ActionCreateTourney,
		ActionJoinTourney, ActionStartTourney,
		ActionAllUsersStatus, ActionUserStatus:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
	}
	//3.- Enforce per-action required fields so handlers can trust the payload.
	if msg.Action == ActionJoinTourney || msg.Action == ActionStartTourney {
		if msg.Token == "" {
			return nil, ErrMissingToken
		}
	}
	return &msg, nil
}

// PlayerInfo is the public identity attached to roster and result events.
type PlayerInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	GamesWon    int    `json:"games_won"`
	TotalPoints int    `json:"total_points"`
}

// PlaceholderPlayer fabricates a public identity when lookup fails.
func PlaceholderPlayer(id string) PlayerInfo {
	return PlayerInfo{ID: id, DisplayName: "Player " + id}
}
