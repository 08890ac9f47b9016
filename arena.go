package main

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"paddleserve/broker/internal/config"
	"paddleserve/broker/internal/game"
	"paddleserve/broker/internal/group"
	"paddleserve/broker/internal/logging"
	"paddleserve/broker/internal/matchmaking"
	"paddleserve/broker/internal/presence"
	"paddleserve/broker/internal/protocol"
	"paddleserve/broker/internal/tournament"
)

// statusGroup is the fan-out group shared by every presence subscriber.
const statusGroup = "status"

// ErrPlayerUnreachable is returned when a bracket match cannot open because a
// seeded player has no live connection.
var ErrPlayerUnreachable = errors.New("seeded player has no live connection")

// Conn is the connection surface the arena needs: identity, outbound frames
// and policy closure. *Client implements it.
type Conn interface {
	UserID() string
	Send(payload []byte) bool
	CloseWithCode(code int, reason string)
}

// Identities resolves public player info for broadcasts.
type Identities interface {
	Lookup(ctx context.Context, userID string) (protocol.PlayerInfo, error)
}

// Presence is the online-status collaborator.
type Presence interface {
	Connect(ctx context.Context, userID string) bool
	Disconnect(ctx context.Context, userID string) bool
	Status(ctx context.Context, userID string) string
	Online(ctx context.Context) []string
}

// membership ties a player to their live match room.
type membership struct {
	roomID  string
	bracket bool
}

// Arena is the coordinating service binding connections, matchmaking, match
// sessions and tournaments. Its own mutex guards only the session and
// membership maps; sessions, queue, registries and hub each carry their own
// lock and are never called while the arena mutex is held.
type Arena struct {
	cfg      *config.Config
	log      *logging.Logger
	hub      *group.Hub
	game     *matchmaking.Registry
	lobby    *matchmaking.Registry
	queue    *matchmaking.Queue
	presence Presence
	ids      Identities
	recorder game.Recorder

	tournaments *tournament.Registry

	baseCtx context.Context

	mu       sync.Mutex
	sessions map[string]*game.Session
	members  map[string]membership
}

// NewArena wires the coordinating service. The lobby registry backs the
// tournament reachability checks; archiver receives finished brackets.
func NewArena(ctx context.Context, cfg *config.Config, logger *logging.Logger, tracker Presence, ids Identities, recorder game.Recorder, archiver tournament.Archiver) *Arena {
	if logger == nil {
		logger = logging.L()
	}
	arena := &Arena{
		cfg:      cfg,
		log:      logger,
		hub:      group.NewHub(),
		game:     matchmaking.NewRegistry(),
		lobby:    matchmaking.NewRegistry(),
		queue:    matchmaking.NewQueue(),
		presence: tracker,
		ids:      ids,
		recorder: recorder,
		baseCtx:  ctx,
		sessions: make(map[string]*game.Session),
		members:  make(map[string]membership),
	}
	arena.tournaments = tournament.NewRegistry(
		arena.hub, arena.lobby, ids, arena, archiver,
		tournament.Config{CountdownFrom: cfg.CountdownFrom, WinScore: cfg.BracketWinScore},
		tournament.WithLogger(logger),
	)
	return arena
}

// resolvePlayer looks up public info, degrading to a placeholder on failure.
func (a *Arena) resolvePlayer(ctx context.Context, userID string) protocol.PlayerInfo {
	if a.ids != nil {
		if info, err := a.ids.Lookup(ctx, userID); err == nil {
			return info
		}
	}
	return protocol.PlaceholderPlayer(userID)
}

// --- casual play ---------------------------------------------------------

// JoinQueue registers the gameplay connection, evicting any prior socket for
// the same user, and enters the matchmaking queue. A queued user never holds
// an active room, so joining while a match is live settles that match first.
func (a *Arena) JoinQueue(ctx context.Context, client Conn) {
	userID := client.UserID()
	if displaced := a.game.Register(client); displaced != nil {
		//1.- Last login wins; the superseded socket is told why it died.
		if prior, ok := displaced.(Conn); ok {
			prior.CloseWithCode(protocol.CloseSuperseded, "superseded by a newer connection")
		}
	}

	a.mu.Lock()
	member, active := a.members[userID]
	session := a.sessions[member.roomID]
	a.mu.Unlock()
	if active && session != nil {
		if member.bracket {
			//2.- Bracket matches run over the tournament socket; queueing
			// cannot abandon one, so the caller waits it out instead.
			client.Send(protocol.Encode(protocol.Errorf("finish your tournament match before queueing")))
			return
		}
		//3.- Evicting the old gameplay socket abandons its live match. The
		// match ends the way a disconnect ends it, clearing the room before
		// the caller re-enters the queue.
		a.hub.Broadcast(member.roomID, protocol.Encode(protocol.PlayerDisconnected(userID)))
		session.Forfeit(userID)
	}

	newlyQueued := a.queue.Enqueue(userID)
	client.Send(protocol.Encode(protocol.Waiting(!newlyQueued)))
	a.matchWaiting(ctx)
}

// matchWaiting drains the queue into match sessions while pairings exist.
func (a *Arena) matchWaiting(ctx context.Context) {
	for {
		player1, player2, ok := a.queue.TryMatch()
		if !ok {
			return
		}
		conn1, ok1 := a.game.Lookup(player1)
		conn2, ok2 := a.game.Lookup(player2)
		if !ok1 || !ok2 {
			//1.- A socket vanished between queueing and matching. Both ids
			// rejoin at the back and matching resumes on the next trigger,
			// so the survivor just keeps waiting.
			a.queue.PushBack(player1, player2)
			return
		}
		a.startCasual(ctx, player1, player2, conn1, conn2)
	}
}

// startCasual creates a casual session, subscribes both players to its room
// group and starts the simulation.
func (a *Arena) startCasual(ctx context.Context, player1, player2 string, conn1, conn2 matchmaking.Conn) {
	roomID := uuid.NewString()
	session := game.NewSession(roomID, player1, player2,
		game.Config{
			TickInterval: a.cfg.TickInterval,
			ScorePause:   a.cfg.ScorePause,
			WinScore:     a.cfg.CasualWinScore,
		},
		a.hub, a.recorder,
		game.WithSessionLogger(a.log),
		game.WithOnFinish(func(result game.Result) {
			a.finishMatch(result, "", "")
		}),
	)

	a.mu.Lock()
	a.sessions[roomID] = session
	a.members[player1] = membership{roomID: roomID}
	a.members[player2] = membership{roomID: roomID}
	a.mu.Unlock()

	a.hub.Join(roomID, conn1)
	a.hub.Join(roomID, conn2)
	a.hub.Broadcast(roomID, protocol.Encode(protocol.GameStart(roomID,
		a.resolvePlayer(ctx, player1), a.resolvePlayer(ctx, player2))))

	if err := session.Start(a.baseCtx); err != nil {
		a.log.Error("match start failed",
			logging.String("room_id", roomID),
			logging.Error(err))
	}
}

// finishMatch tears down the bookkeeping for a completed session and, for
// bracket matches, feeds the result back into the tournament.
func (a *Arena) finishMatch(result game.Result, token string, key tournament.MatchKey) {
	a.mu.Lock()
	delete(a.sessions, result.RoomID)
	for _, id := range []string{result.Player1ID, result.Player2ID} {
		if member, ok := a.members[id]; ok && member.roomID == result.RoomID {
			delete(a.members, id)
		}
	}
	a.mu.Unlock()
	a.hub.Drop(result.RoomID)

	if token != "" {
		if err := a.tournaments.ReportMatchResult(context.Background(), token, key, result.WinnerID, result.Score1, result.Score2); err != nil {
			a.log.Warn("bracket result report failed",
				logging.String("token", token),
				logging.Error(err))
		}
	}
}

// MovePaddle relays a paddle update into the player's current session.
func (a *Arena) MovePaddle(client Conn, position float64) {
	userID := client.UserID()
	a.mu.Lock()
	member, ok := a.members[userID]
	session := a.sessions[member.roomID]
	a.mu.Unlock()
	if !ok || session == nil {
		client.Send(protocol.Encode(protocol.Errorf("no active match")))
		return
	}
	if err := session.MovePaddle(userID, position); err != nil {
		client.Send(protocol.Encode(protocol.Errorf(err.Error())))
	}
}

// LeaveGame handles a gameplay socket going away: the queue entry is dropped
// and any casual match the user owns is forfeited to the opponent.
func (a *Arena) LeaveGame(ctx context.Context, client Conn) {
	userID := client.UserID()
	if !a.game.Unregister(userID, client) {
		//1.- A newer socket displaced this one; its state is not ours to tear
		// down.
		return
	}
	a.queue.Remove(userID)

	a.mu.Lock()
	member, ok := a.members[userID]
	session := a.sessions[member.roomID]
	a.mu.Unlock()
	if ok && !member.bracket && session != nil {
		a.hub.Broadcast(member.roomID, protocol.Encode(protocol.PlayerDisconnected(userID)))
		session.Forfeit(userID)
	}
	//2.- A freed slot may complete a waiting pair.
	a.matchWaiting(ctx)
}

// --- tournaments ---------------------------------------------------------

// JoinLobby registers a tournament socket, mirroring the gameplay eviction
// policy.
func (a *Arena) JoinLobby(client Conn) {
	if displaced := a.lobby.Register(client); displaced != nil {
		if prior, ok := displaced.(Conn); ok {
			prior.CloseWithCode(protocol.CloseSuperseded, "superseded by a newer connection")
		}
	}
}

// CreateTournament opens a bracket room with the caller as creator.
func (a *Arena) CreateTournament(ctx context.Context, client Conn) {
	if _, err := a.tournaments.Create(ctx, client.UserID(), client); err != nil {
		client.Send(protocol.Encode(protocol.Errorf(err.Error())))
	}
}

// JoinTournament adds the caller to an open bracket room.
func (a *Arena) JoinTournament(ctx context.Context, client Conn, token string) {
	if _, err := a.tournaments.Join(ctx, client.UserID(), client, token); err != nil {
		client.Send(protocol.Encode(protocol.Errorf(err.Error())))
	}
}

// StartTournament seeds the semifinals of the caller's bracket room.
func (a *Arena) StartTournament(ctx context.Context, client Conn, token string) {
	if err := a.tournaments.Start(ctx, client.UserID(), token); err != nil {
		client.Send(protocol.Encode(protocol.Errorf(err.Error())))
	}
}

// LeaveLobby handles a tournament socket going away. The registry forfeits
// the departing player's open bracket match through Forfeit below.
func (a *Arena) LeaveLobby(ctx context.Context, client Conn) {
	userID := client.UserID()
	if !a.lobby.Unregister(userID, client) {
		return
	}
	a.tournaments.Leave(ctx, userID)
}

// Launch implements the bracket match engine: it starts a session whose
// result flows back into the tournament slot when it finishes.
func (a *Arena) Launch(roomID, token string, key tournament.MatchKey, player1ID, player2ID string) error {
	conn1, ok1 := a.lobby.Lookup(player1ID)
	conn2, ok2 := a.lobby.Lookup(player2ID)
	if !ok1 || !ok2 {
		//1.- An unreachable player cannot open the match; their eventual
		// disconnect cleanup settles the slot by walkover.
		return ErrPlayerUnreachable
	}
	//2.- The bracket pre-allocates room ids so countdown events can carry
	// them; reuse the allocation instead of minting another.
	a.launchSeeded(roomID, token, key, player1ID, player2ID, conn1, conn2)
	return nil
}

func (a *Arena) launchSeeded(roomID, token string, key tournament.MatchKey, player1ID, player2ID string, conn1, conn2 matchmaking.Conn) {
	session := game.NewSession(roomID, player1ID, player2ID,
		game.Config{
			TickInterval: a.cfg.TickInterval,
			ScorePause:   a.cfg.ScorePause,
			WinScore:     a.cfg.BracketWinScore,
		},
		a.hub, a.recorder,
		game.WithSessionLogger(a.log),
		game.WithOnFinish(func(result game.Result) {
			a.finishMatch(result, token, key)
		}),
	)

	a.mu.Lock()
	a.sessions[roomID] = session
	a.members[player1ID] = membership{roomID: roomID, bracket: true}
	a.members[player2ID] = membership{roomID: roomID, bracket: true}
	a.mu.Unlock()

	a.hub.Join(roomID, conn1)
	a.hub.Join(roomID, conn2)
	ctx := context.Background()
	a.hub.Broadcast(roomID, protocol.Encode(protocol.GameStart(roomID,
		a.resolvePlayer(ctx, player1ID), a.resolvePlayer(ctx, player2ID))))

	if err := session.Start(a.baseCtx); err != nil {
		a.log.Error("bracket match start failed",
			logging.String("room_id", roomID),
			logging.Error(err))
	}
}

// Forfeit implements the bracket engine's cancellation hook. It reports
// whether a live session absorbed the forfeit; the tournament records a
// direct walkover otherwise.
func (a *Arena) Forfeit(roomID, leaverID string) bool {
	a.mu.Lock()
	session := a.sessions[roomID]
	a.mu.Unlock()
	if session == nil {
		return false
	}
	a.hub.Broadcast(roomID, protocol.Encode(protocol.PlayerDisconnected(leaverID)))
	_, ok := session.Forfeit(leaverID)
	return ok
}

// --- presence ------------------------------------------------------------

// JoinStatus subscribes a status socket and announces the user coming online.
func (a *Arena) JoinStatus(ctx context.Context, client Conn) {
	a.hub.Join(statusGroup, client)
	if a.presence != nil && a.presence.Connect(ctx, client.UserID()) {
		a.hub.Broadcast(statusGroup, protocol.Encode(protocol.UserStatus(client.UserID(), presence.StatusOnline)))
	}
}

// LeaveStatus drops a status socket and announces the user going offline once
// their last connection is gone.
func (a *Arena) LeaveStatus(ctx context.Context, client Conn) {
	a.hub.Leave(statusGroup, client.UserID())
	if a.presence != nil && a.presence.Disconnect(ctx, client.UserID()) {
		a.hub.Broadcast(statusGroup, protocol.Encode(protocol.UserStatus(client.UserID(), presence.StatusOffline)))
	}
}

// SendAllStatuses answers a full-roster presence request.
func (a *Arena) SendAllStatuses(ctx context.Context, client Conn) {
	var online []string
	if a.presence != nil {
		online = a.presence.Online(ctx)
	}
	client.Send(protocol.Encode(protocol.AllUsersStatus(online)))
}

// SendUserStatus answers a single-user presence request.
func (a *Arena) SendUserStatus(ctx context.Context, client Conn, userID string) {
	status := presence.StatusOffline
	if a.presence != nil {
		status = a.presence.Status(ctx, userID)
	}
	client.Send(protocol.Encode(protocol.UserStatus(userID, status)))
}

// Shutdown stops every live session.
func (a *Arena) Shutdown() {
	a.mu.Lock()
	sessions := make([]*game.Session, 0, len(a.sessions))
	for _, session := range a.sessions {
		sessions = append(sessions, session)
	}
	a.mu.Unlock()
	for _, session := range sessions {
		session.Stop()
	}
}
