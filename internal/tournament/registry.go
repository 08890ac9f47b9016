package tournament

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"paddleserve/broker/internal/group"
	"paddleserve/broker/internal/logging"
	"paddleserve/broker/internal/protocol"
)

var (
	// ErrUnknownToken is returned when no room matches the join code.
	ErrUnknownToken = errors.New("unknown tournament token")
	// ErrRoomNotJoinable rejects joins once a bracket has started.
	ErrRoomNotJoinable = errors.New("tournament has already started")
	// ErrRoomFull rejects joins beyond the bracket size.
	ErrRoomFull = errors.New("tournament is full")
	// ErrAlreadyJoined rejects duplicate joins by the same user.
	ErrAlreadyJoined = errors.New("already a participant of this tournament")
	// ErrNotCreator rejects a start request from anyone but the creator.
	ErrNotCreator = errors.New("only the creator may start the tournament")
	// ErrNotReady rejects starting an under-filled bracket.
	ErrNotReady = errors.New("tournament needs exactly four participants")
)

// Connections reports whether a user still has a live connection.
type Connections interface {
	Connected(userID string) bool
}

// Identities resolves public player info for rosters and results.
type Identities interface {
	Lookup(ctx context.Context, userID string) (protocol.PlayerInfo, error)
}

// Engine starts and forfeits the match sessions behind bracket slots. Launch
// must arrange for the slot result to be reported back via
// ReportMatchResult once the session ends.
type Engine interface {
	Launch(roomID, token string, key MatchKey, player1ID, player2ID string) error
	Forfeit(roomID, leaverID string) bool
}

// Archiver writes one finished bracket to the external ledger.
type Archiver interface {
	Archive(ctx context.Context, playerIDs [4]string, scoreSemi1, scoreSemi2, scoreFinal string) error
}

// Config carries the bracket tunables.
type Config struct {
	CountdownFrom int
	WinScore      int
}

func (c Config) withDefaults() Config {
	if c.CountdownFrom <= 0 {
		c.CountdownFrom = 5
	}
	if c.WinScore <= 0 {
		c.WinScore = 3
	}
	return c
}

// Option configures optional Registry behaviour at construction time.
type Option func(*Registry)

// WithLogger attaches a logger to the registry.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.log = logger
		}
	}
}

// WithSleeper overrides the countdown pacing, primarily for tests. The
// function reports false when the wait was cancelled.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(r *Registry) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithTokenSource overrides join-code generation for deterministic tests.
func WithTokenSource(source func() string) Option {
	return func(r *Registry) {
		if source != nil {
			r.newToken = source
		}
	}
}

// Registry owns every bracket room. Map access is guarded by its own mutex;
// room state by each room's mutex. Neither lock is ever held while the other
// room's lock or an engine call is pending, which keeps lock ordering acyclic.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	byUser map[string]string

	hub      *group.Hub
	conns    Connections
	ids      Identities
	engine   Engine
	archiver Archiver
	cfg      Config
	log      *logging.Logger
	sleep    func(ctx context.Context, d time.Duration) bool
	newToken func() string
	now      func() time.Time
}

// NewRegistry constructs an empty tournament registry.
func NewRegistry(hub *group.Hub, conns Connections, ids Identities, engine Engine, archiver Archiver, cfg Config, opts ...Option) *Registry {
	registry := &Registry{
		rooms:    make(map[string]*Room),
		byUser:   make(map[string]string),
		hub:      hub,
		conns:    conns,
		ids:      ids,
		engine:   engine,
		archiver: archiver,
		cfg:      cfg.withDefaults(),
		log:      logging.L(),
		sleep:    defaultSleep,
		newToken: newToken,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry
}

func defaultSleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// groupKey namespaces tournament fan-out groups away from match rooms.
func groupKey(token string) string { return "tournament:" + token }

// Lookup returns the room for a token.
func (r *Registry) Lookup(token string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[token]
	return room, ok
}

// RoomOf returns the token of the room the user currently belongs to.
func (r *Registry) RoomOf(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.byUser[userID]
	return token, ok
}

// Create opens a new bracket room with the caller as creator, leaving any
// room they previously belonged to.
func (r *Registry) Create(ctx context.Context, userID string, conn group.Sender) (*Room, error) {
	if userID == "" {
		return nil, errors.New("user id must not be empty")
	}
	//1.- A user belongs to at most one room, so vacate the old one first.
	r.Leave(ctx, userID)

	r.mu.Lock()
	token := r.newToken()
	for _, taken := r.rooms[token]; taken; _, taken = r.rooms[token] {
		token = r.newToken()
	}
	room := newRoom(token, userID, r.now())
	r.rooms[token] = room
	r.byUser[userID] = token
	r.mu.Unlock()

	r.hub.Join(groupKey(token), conn)
	r.broadcastRoster(ctx, room)
	r.log.Info("tournament created", logging.String("token", token), logging.String("creator_id", userID))
	return room, nil
}

// Join adds the caller to an open room identified by token.
func (r *Registry) Join(ctx context.Context, userID string, conn group.Sender, token string) (*Room, error) {
	room, ok := r.Lookup(token)
	if !ok {
		return nil, ErrUnknownToken
	}

	room.mu.Lock()
	if room.containsLocked(userID) {
		room.mu.Unlock()
		return nil, ErrAlreadyJoined
	}
	room.mu.Unlock()

	//1.- Vacate any other room only after the basic checks pass.
	r.Leave(ctx, userID)

	room.mu.Lock()
	switch {
	case room.status != StatusWaiting:
		room.mu.Unlock()
		return nil, ErrRoomNotJoinable
	case len(room.participants) >= MaxPlayers:
		room.mu.Unlock()
		return nil, ErrRoomFull
	}
	room.participants = append(room.participants, userID)
	room.mu.Unlock()

	r.mu.Lock()
	r.byUser[userID] = token
	r.mu.Unlock()

	r.hub.Join(groupKey(token), conn)
	r.broadcastRoster(ctx, room)
	return room, nil
}

// Start seeds the two semifinals from the ordered roster and launches both
// match sessions. Only the creator of a full, waiting room may start it.
func (r *Registry) Start(ctx context.Context, userID, token string) error {
	room, ok := r.Lookup(token)
	if !ok {
		return ErrUnknownToken
	}

	room.mu.Lock()
	switch {
	case room.creatorID != userID:
		room.mu.Unlock()
		return ErrNotCreator
	case room.status != StatusWaiting:
		room.mu.Unlock()
		return ErrRoomNotJoinable
	case len(room.participants) != MaxPlayers:
		room.mu.Unlock()
		return ErrNotReady
	}
	//1.- Partition the ordered roster into the two semifinal pairings.
	room.match1 = MatchSlot{Players: [2]string{room.participants[0], room.participants[1]}, RoomID: uuid.NewString()}
	room.match2 = MatchSlot{Players: [2]string{room.participants[2], room.participants[3]}, RoomID: uuid.NewString()}
	if err := room.advanceLocked(StatusInProgress); err != nil {
		room.mu.Unlock()
		return err
	}
	match1, match2 := room.match1, room.match2
	room.mu.Unlock()

	//2.- Launch both sessions and tell each player who they face. The match
	// notice is a unicast because opponents differ per player.
	r.launchSlot(token, KeyMatch1, match1)
	r.launchSlot(token, KeyMatch2, match2)
	r.log.Info("tournament started", logging.String("token", token))
	return nil
}

func (r *Registry) launchSlot(token string, key MatchKey, slot MatchSlot) {
	if err := r.engine.Launch(slot.RoomID, token, key, slot.Players[0], slot.Players[1]); err != nil {
		r.log.Error("bracket match launch failed",
			logging.String("token", token),
			logging.String("match_key", string(key)),
			logging.Error(err))
		return
	}
	r.hub.Unicast(groupKey(token), slot.Players[0], protocol.Encode(protocol.MatchAssignment(slot.RoomID, slot.Players[1], slot.Players[0])))
	r.hub.Unicast(groupKey(token), slot.Players[1], protocol.Encode(protocol.MatchAssignment(slot.RoomID, slot.Players[0], slot.Players[1])))
}

// ReportMatchResult records the outcome of one bracket slot. Reporting a slot
// that already has a winner is silently ignored, which makes the engine
// callback and disconnect-forfeit paths safe to race.
func (r *Registry) ReportMatchResult(ctx context.Context, token string, key MatchKey, winnerID string, score1, score2 int) error {
	room, ok := r.Lookup(token)
	if !ok {
		return ErrUnknownToken
	}

	room.mu.Lock()
	slot := room.slot(key)
	if slot == nil {
		room.mu.Unlock()
		return fmt.Errorf("unknown match key %q", key)
	}
	if slot.Winner != "" {
		room.mu.Unlock()
		return nil
	}
	if !slot.contains(winnerID) {
		room.mu.Unlock()
		return fmt.Errorf("winner %q is not part of %s", winnerID, key)
	}
	slot.Winner = winnerID
	slot.Score1 = score1
	slot.Score2 = score2

	finished := false
	startFinal := false
	if key == KeyFinal {
		finished = room.advanceLocked(StatusFinished) == nil
	} else if room.status == StatusInProgress && room.match1.Winner != "" && room.match2.Winner != "" {
		startFinal = true
	}
	room.mu.Unlock()

	if finished {
		r.finalize(ctx, room)
	}
	if startFinal {
		r.startFinal(ctx, room)
	}
	return nil
}

// startFinal seeds the final from the semifinal winners and spawns the
// countdown task.
func (r *Registry) startFinal(ctx context.Context, room *Room) {
	room.mu.Lock()
	if room.status != StatusInProgress {
		room.mu.Unlock()
		return
	}
	if err := room.advanceLocked(StatusFinal); err != nil {
		room.mu.Unlock()
		return
	}
	room.final = MatchSlot{
		Players: [2]string{room.match1.Winner, room.match2.Winner},
		RoomID:  uuid.NewString(),
	}
	countdownCtx, cancel := context.WithCancel(context.Background())
	room.countdownStop = cancel
	final := room.final
	token := room.token
	room.mu.Unlock()

	go r.runCountdown(countdownCtx, room, token, final)
}

// runCountdown broadcasts descending ticks, re-checking finalist reachability
// before every one so a disconnect aborts within a second.
func (r *Registry) runCountdown(ctx context.Context, room *Room, token string, final MatchSlot) {
	for seconds := r.cfg.CountdownFrom; seconds >= 1; seconds-- {
		p1ok := r.conns.Connected(final.Players[0])
		p2ok := r.conns.Connected(final.Players[1])
		if !p1ok || !p2ok {
			r.resolveFinalForfeit(ctx, room, p1ok, p2ok)
			return
		}
		r.hub.Broadcast(groupKey(token), protocol.Encode(protocol.CountdownToFinal(seconds, final.RoomID)))
		if !r.sleep(ctx, time.Second) {
			return
		}
	}
	//1.- One last reachability check before committing to the launch.
	p1ok := r.conns.Connected(final.Players[0])
	p2ok := r.conns.Connected(final.Players[1])
	if !p1ok || !p2ok {
		r.resolveFinalForfeit(ctx, room, p1ok, p2ok)
		return
	}
	r.launchSlot(token, KeyFinal, final)
}

// resolveFinalForfeit settles the final without playing it: the reachable
// finalist wins at the full threshold, or nobody wins if both are gone.
func (r *Registry) resolveFinalForfeit(ctx context.Context, room *Room, p1ok, p2ok bool) {
	room.mu.Lock()
	if room.status == StatusFinished || room.final.Winner != "" {
		room.mu.Unlock()
		return
	}
	switch {
	case p1ok && !p2ok:
		room.final.Winner = room.final.Players[0]
		room.final.Score1 = r.cfg.WinScore
		room.final.Score2 = 0
	case p2ok && !p1ok:
		room.final.Winner = room.final.Players[1]
		room.final.Score1 = 0
		room.final.Score2 = r.cfg.WinScore
	default:
		// Both finalists vanished: finished with no winner, no archival.
	}
	_ = room.advanceLocked(StatusFinished)
	room.mu.Unlock()

	r.finalize(ctx, room)
}

// Leave removes the user from whichever room they belong to, forfeiting their
// current match when the bracket is underway and deleting the room once empty.
func (r *Registry) Leave(ctx context.Context, userID string) {
	r.mu.Lock()
	token, ok := r.byUser[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byUser, userID)
	room := r.rooms[token]
	r.mu.Unlock()
	if room == nil {
		return
	}

	r.hub.Leave(groupKey(token), userID)

	room.mu.Lock()
	room.removeParticipantLocked(userID)
	empty := len(room.participants) == 0
	status := room.status
	//1.- Find the departing player's undecided match, preferring the final.
	var forfeitKey MatchKey
	var forfeitSlot MatchSlot
	if status == StatusInProgress || status == StatusFinal {
		for _, key := range []MatchKey{KeyFinal, KeyMatch1, KeyMatch2} {
			slot := room.slot(key)
			if slot.seeded() && slot.Winner == "" && slot.contains(userID) {
				forfeitKey = key
				forfeitSlot = *slot
				break
			}
		}
	}
	stop := room.countdownStop
	room.mu.Unlock()

	if forfeitKey != "" {
		//2.- Prefer the engine-level forfeit so the live session's score and
		// the bracket winner stay consistent; the session's finish callback
		// reports the result back here.
		if !r.engine.Forfeit(forfeitSlot.RoomID, userID) {
			//3.- No live session (countdown window or launch failure): record
			// the walkover directly.
			winner := forfeitSlot.opponentOf(userID)
			score1, score2 := r.cfg.WinScore, 0
			if forfeitSlot.Players[1] == winner {
				score1, score2 = 0, r.cfg.WinScore
			}
			if err := r.ReportMatchResult(ctx, token, forfeitKey, winner, score1, score2); err != nil {
				r.log.Warn("walkover report failed", logging.String("token", token), logging.Error(err))
			}
		}
	}

	if empty {
		if stop != nil {
			stop()
		}
		r.mu.Lock()
		delete(r.rooms, token)
		r.mu.Unlock()
		r.hub.Drop(groupKey(token))
		r.log.Info("tournament room deleted", logging.String("token", token))
		return
	}

	if status == StatusWaiting {
		r.broadcastRoster(ctx, room)
	}
}

// broadcastRoster sends every member a personalized roster view; only the
// creator sees the start control.
func (r *Registry) broadcastRoster(ctx context.Context, room *Room) {
	snapshot := room.Snapshot()
	participants := make([]protocol.PlayerInfo, 0, len(snapshot.Participants))
	for _, id := range snapshot.Participants {
		participants = append(participants, r.resolvePlayer(ctx, id))
	}
	for _, id := range snapshot.Participants {
		event := protocol.TournamentInfo(snapshot.Token, participants, snapshot.CreatorID, id == snapshot.CreatorID)
		r.hub.Unicast(groupKey(snapshot.Token), id, protocol.Encode(event))
	}
}

// resolvePlayer looks up public info, degrading to a placeholder on failure.
func (r *Registry) resolvePlayer(ctx context.Context, userID string) protocol.PlayerInfo {
	if r.ids != nil {
		if info, err := r.ids.Lookup(ctx, userID); err == nil {
			return info
		}
	}
	return protocol.PlaceholderPlayer(userID)
}

// finalize aggregates the bracket results, broadcasts them and archives the
// bracket to the ledger exactly once.
func (r *Registry) finalize(ctx context.Context, room *Room) {
	room.mu.Lock()
	if room.archived {
		room.mu.Unlock()
		return
	}
	room.archived = true
	if room.countdownStop != nil {
		room.countdownStop()
		room.countdownStop = nil
	}
	snapshot := Snapshot{
		Token:     room.token,
		CreatorID: room.creatorID,
		Status:    room.status,
		Match1:    room.match1,
		Match2:    room.match2,
		Final:     room.final,
	}
	room.mu.Unlock()

	results := protocol.TournamentResults(
		r.slotResult(ctx, snapshot.Match1),
		r.slotResult(ctx, snapshot.Match2),
		r.slotResult(ctx, snapshot.Final),
	)
	r.hub.Broadcast(groupKey(snapshot.Token), protocol.Encode(results))
	r.log.Info("tournament finished",
		logging.String("token", snapshot.Token),
		logging.String("winner_id", snapshot.Final.Winner))

	//1.- Archival is best-effort and must never block the state transition.
	if r.archiver == nil || snapshot.Final.Winner == "" || !snapshot.Match1.seeded() || !snapshot.Match2.seeded() {
		return
	}
	players := [4]string{
		snapshot.Match1.Players[0], snapshot.Match1.Players[1],
		snapshot.Match2.Players[0], snapshot.Match2.Players[1],
	}
	scoreSemi1 := fmt.Sprintf("%d-%d", snapshot.Match1.Score1, snapshot.Match1.Score2)
	scoreSemi2 := fmt.Sprintf("%d-%d", snapshot.Match2.Score1, snapshot.Match2.Score2)
	scoreFinal := fmt.Sprintf("%d-%d", snapshot.Final.Score1, snapshot.Final.Score2)
	go func() {
		archiveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.archiver.Archive(archiveCtx, players, scoreSemi1, scoreSemi2, scoreFinal); err != nil {
			r.log.Error("tournament archival failed",
				logging.String("token", snapshot.Token),
				logging.Error(err))
		}
	}()
}

func (r *Registry) slotResult(ctx context.Context, slot MatchSlot) protocol.MatchResult {
	result := protocol.MatchResult{Score1: slot.Score1, Score2: slot.Score2}
	for _, id := range slot.Players {
		if id == "" {
			continue
		}
		result.Players = append(result.Players, r.resolvePlayer(ctx, id))
	}
	if slot.Winner != "" {
		winner := r.resolvePlayer(ctx, slot.Winner)
		result.Winner = &winner
	}
	return result
}
