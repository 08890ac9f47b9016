package protocol

import "encoding/json"

// Outbound event tags emitted by the server.
const (
	EventWaiting            = "waiting"
	EventGameStart          = "game_start"
	EventUpdatePaddle       = "update_paddle"
	EventUpdateBall         = "update_ball"
	EventUpdateScore        = "update_score"
	EventGameOver           = "game_over"
	EventPlayerDisconnected = "player_disconnected"
	EventTournamentInfo     = "tournament_info"
	EventMatchAssignment    = "start_tournament"
	EventCountdownToFinal   = "countdown_to_final"
	EventTournamentResults  = "tournament_results"
	EventError              = "error"
	EventUserStatus         = "user_status"
	EventAllUsersStatus     = "all_users_status"
)

// Encode marshals an outbound event, panicking on programmer error because
// every event type below is statically marshalable.
func Encode(event any) []byte {
	data, err := json.Marshal(event)
	if err != nil {
		panic(err)
	}
	return data
}

// WaitingEvent acknowledges a queue entry, distinguishing fresh joins.
type WaitingEvent struct {
	Type          string `json:"type"`
	Message       string `json:"message"`
	AlreadyQueued bool   `json:"already_queued"`
}

// Waiting builds the queue acknowledgment event.
func Waiting(alreadyQueued bool) WaitingEvent {
	message := "Waiting for another player..."
	if alreadyQueued {
		message = "Already in queue, waiting for another player..."
	}
	return WaitingEvent{Type: EventWaiting, Message: message, AlreadyQueued: alreadyQueued}
}

// GameStartEvent announces a freshly created match to both players.
type GameStartEvent struct {
	Type    string     `json:"type"`
	RoomID  string     `json:"room_id"`
	Player1 PlayerInfo `json:"player1"`
	Player2 PlayerInfo `json:"player2"`
}

// GameStart builds the match announcement event.
func GameStart(roomID string, player1, player2 PlayerInfo) GameStartEvent {
	return GameStartEvent{Type: EventGameStart, RoomID: roomID, Player1: player1, Player2: player2}
}

// PaddleEvent relays one player's paddle position to the room.
type PaddleEvent struct {
	Type     string  `json:"type"`
	Player   string  `json:"player"`
	Position float64 `json:"paddle_position"`
}

// UpdatePaddle builds a paddle relay event.
func UpdatePaddle(player string, position float64) PaddleEvent {
	return PaddleEvent{Type: EventUpdatePaddle, Player: player, Position: position}
}

// BallEvent carries the authoritative ball position for one tick.
type BallEvent struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// UpdateBall builds a ball position event.
func UpdateBall(x, y float64) BallEvent {
	return BallEvent{Type: EventUpdateBall, X: x, Y: y}
}

// ScoreEvent carries both running scores after a point.
type ScoreEvent struct {
	Type   string `json:"type"`
	Score1 int    `json:"score1"`
	Score2 int    `json:"score2"`
}

// UpdateScore builds a score event.
func UpdateScore(score1, score2 int) ScoreEvent {
	return ScoreEvent{Type: EventUpdateScore, Score1: score1, Score2: score2}
}

// GameOverEvent announces the final result of a match.
type GameOverEvent struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	WinnerID string `json:"winner_id"`
	Score1   int    `json:"score1"`
	Score2   int    `json:"score2"`
	Forfeit  bool   `json:"forfeit,omitempty"`
}

// GameOver builds the terminal match event.
func GameOver(roomID, winnerID string, score1, score2 int, forfeit bool) GameOverEvent {
	return GameOverEvent{Type: EventGameOver, RoomID: roomID, WinnerID: winnerID, Score1: score1, Score2: score2, Forfeit: forfeit}
}

// DisconnectEvent notifies the room that a player connection vanished.
type DisconnectEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// PlayerDisconnected builds the disconnect notice.
func PlayerDisconnected(userID string) DisconnectEvent {
	return DisconnectEvent{Type: EventPlayerDisconnected, UserID: userID}
}

// TournamentInfoEvent carries the roster state of a bracket lobby.
type TournamentInfoEvent struct {
	Type            string       `json:"type"`
	Token           string       `json:"token"`
	Participants    []PlayerInfo `json:"participants"`
	CreatorID       string       `json:"creator"`
	ShowStartButton bool         `json:"show_start_button"`
}

// TournamentInfo builds a roster broadcast for a bracket lobby.
func TournamentInfo(token string, participants []PlayerInfo, creatorID string, showStart bool) TournamentInfoEvent {
	return TournamentInfoEvent{
		Type:            EventTournamentInfo,
		Token:           token,
		Participants:    participants,
		CreatorID:       creatorID,
		ShowStartButton: showStart,
	}
}

// MatchAssignmentEvent is unicast to one player when their bracket match begins.
type MatchAssignmentEvent struct {
	Type       string `json:"type"`
	MatchID    string `json:"match_id"`
	OpponentID string `json:"opponent_id"`
	UserID     string `json:"user_id"`
}

// MatchAssignment builds the per-player bracket match notice.
func MatchAssignment(matchID, opponentID, userID string) MatchAssignmentEvent {
	return MatchAssignmentEvent{Type: EventMatchAssignment, MatchID: matchID, OpponentID: opponentID, UserID: userID}
}

// CountdownEvent carries one tick of the pre-final countdown.
type CountdownEvent struct {
	Type         string `json:"type"`
	Seconds      int    `json:"seconds"`
	FinalMatchID string `json:"final_match_id"`
}

// CountdownToFinal builds a pre-final countdown tick.
func CountdownToFinal(seconds int, finalMatchID string) CountdownEvent {
	return CountdownEvent{Type: EventCountdownToFinal, Seconds: seconds, FinalMatchID: finalMatchID}
}

// MatchResult summarizes one bracket slot for the results payload.
type MatchResult struct {
	Players []PlayerInfo `json:"players"`
	Winner  *PlayerInfo  `json:"winner,omitempty"`
	Score1  int          `json:"score1"`
	Score2  int          `json:"score2"`
}

// TournamentResultsEvent aggregates all three bracket matches.
type TournamentResultsEvent struct {
	Type    string `json:"type"`
	Results struct {
		Match1 MatchResult `json:"match1"`
		Match2 MatchResult `json:"match2"`
		Final  MatchResult `json:"final"`
	} `json:"results"`
}

// TournamentResults builds the aggregated bracket results payload.
func TournamentResults(match1, match2, final MatchResult) TournamentResultsEvent {
	event := TournamentResultsEvent{Type: EventTournamentResults}
	event.Results.Match1 = match1
	event.Results.Match2 = match2
	event.Results.Final = final
	return event
}

// ErrorEvent rejects a client action with a descriptive message.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Errorf builds an error event.
func Errorf(message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: message}
}

// UserStatusEvent reports one user's online state.
type UserStatusEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// UserStatus builds a single-user presence event.
func UserStatus(userID, status string) UserStatusEvent {
	return UserStatusEvent{Type: EventUserStatus, UserID: userID, Status: status}
}

// AllUsersStatusEvent lists every user currently online.
type AllUsersStatusEvent struct {
	Type        string   `json:"type"`
	UsersStatus []string `json:"users_status"`
}

// AllUsersStatus builds the full online roster event.
func AllUsersStatus(online []string) AllUsersStatusEvent {
	return AllUsersStatusEvent{Type: EventAllUsersStatus, UsersStatus: online}
}
