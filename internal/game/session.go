package game

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"paddleserve/broker/internal/logging"
	"paddleserve/broker/internal/protocol"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice for one room.
	ErrAlreadyStarted = errors.New("simulation already started")
	// ErrNotRunning rejects mutations outside the running state.
	ErrNotRunning = errors.New("match is not running")
	// ErrNotParticipant rejects paddle moves from users outside the match.
	ErrNotParticipant = errors.New("user is not a participant of this match")
)

// Broadcaster fans a payload out to every subscriber of a room.
type Broadcaster interface {
	Broadcast(roomID string, payload []byte)
}

// Recorder receives best-effort persistence calls. Implementations must not
// block the simulation: failures are theirs to log and swallow.
type Recorder interface {
	SaveMatch(ctx context.Context, roomID, player1ID, player2ID string, score1, score2 int, active bool)
	RecordGameResult(ctx context.Context, userID string, pointsScored int, won bool)
}

// Status tracks the session lifecycle.
type Status int

const (
	// StatusPending means the session exists but the loop has not started.
	StatusPending Status = iota
	// StatusRunning means the simulation loop is ticking.
	StatusRunning
	// StatusFinished is terminal; no further mutation is accepted.
	StatusFinished
)

// Result is the immutable outcome of a finished match.
type Result struct {
	RoomID    string
	Player1ID string
	Player2ID string
	WinnerID  string
	Score1    int
	Score2    int
	Forfeit   bool
}

// Config carries the per-session simulation tunables.
type Config struct {
	TickInterval time.Duration
	ScorePause   time.Duration
	WinScore     int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 20 * time.Millisecond
	}
	if c.ScorePause < 0 {
		c.ScorePause = 0
	}
	if c.WinScore <= 0 {
		c.WinScore = 5
	}
	return c
}

// SessionOption configures optional Session behaviour at construction time.
type SessionOption func(*Session)

// WithCoinFlip overrides the serve-direction randomness, primarily for tests.
func WithCoinFlip(flip func() bool) SessionOption {
	return func(s *Session) {
		if flip != nil {
			s.coin = flip
		}
	}
}

// WithSessionLogger attaches a logger to the session.
func WithSessionLogger(logger *logging.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithOnFinish registers a callback invoked exactly once with the final result.
func WithOnFinish(fn func(Result)) SessionOption {
	return func(s *Session) {
		if fn != nil {
			s.onFinish = fn
		}
	}
}

// Session owns the authoritative state of one match and the goroutine that
// advances it. All mutation is linearized through its mutex so paddle moves,
// simulation ticks and forfeits cannot interleave partially.
type Session struct {
	mu     sync.Mutex
	id     string
	p1, p2 string
	state  State
	status Status
	cancel context.CancelFunc
	done   chan struct{}

	cfg       Config
	coin      func() bool
	broadcast Broadcaster
	recorder  Recorder
	log       *logging.Logger
	onFinish  func(Result)
}

// NewSession constructs a pending session for the two players.
func NewSession(roomID, player1ID, player2ID string, cfg Config, broadcaster Broadcaster, recorder Recorder, opts ...SessionOption) *Session {
	session := &Session{
		id:        roomID,
		p1:        player1ID,
		p2:        player2ID,
		state:     NewState(),
		cfg:       cfg.withDefaults(),
		coin:      func() bool { return rand.Intn(2) == 0 },
		broadcast: broadcaster,
		recorder:  recorder,
		log:       logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(session)
		}
	}
	session.log = session.log.With(logging.String("room_id", roomID))
	return session
}

// RoomID returns the room identifier.
func (s *Session) RoomID() string { return s.id }

// Players returns both participant ids in order.
func (s *Session) Players() (string, string) { return s.p1, s.p2 }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Scores returns the current score pair.
func (s *Session) Scores() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Score1, s.state.Score2
}

// Snapshot copies the full match state for observers and tests.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the simulation loop. Exactly one loop may ever run per
// session; a second call fails.
func (s *Session) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("session is nil")
	}
	s.mu.Lock()
	if s.status != StatusPending {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.status = StatusRunning
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.run(runCtx, done)
	return nil
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pause, finished := s.advance(ctx)
			if finished {
				return
			}
			if pause {
				//1.- Rest after a point so clients can show the reset, while
				// staying responsive to cancellation.
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.cfg.ScorePause):
				}
			}
		}
	}
}

// advance performs one tick: step the physics under the lock, then emit the
// resulting events outside it.
func (s *Session) advance(ctx context.Context) (pauseAfter, finished bool) {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return false, true
	}
	outcome := s.state.Step()
	ball := s.state.Ball
	score1, score2 := s.state.Score1, s.state.Score2
	scored := outcome == OutcomePoint1 || outcome == OutcomePoint2
	var result *Result
	if scored {
		if score1 >= s.cfg.WinScore || score2 >= s.cfg.WinScore {
			result = s.finishLocked(false)
		} else {
			//2.- Re-serve from the center with a fresh random direction.
			s.state.Serve(s.coin(), s.coin())
		}
	}
	s.mu.Unlock()

	if scored {
		s.broadcast.Broadcast(s.id, protocol.Encode(protocol.UpdateScore(score1, score2)))
		if s.recorder != nil {
			s.recorder.SaveMatch(ctx, s.id, s.p1, s.p2, score1, score2, result == nil)
		}
	} else {
		s.broadcast.Broadcast(s.id, protocol.Encode(protocol.UpdateBall(ball.X, ball.Y)))
	}
	if result != nil {
		s.completed(ctx, *result)
		return false, true
	}
	return scored, false
}

// finishLocked flips the session into its terminal state and freezes the
// result. Callers must hold the mutex and check the status beforehand.
func (s *Session) finishLocked(forfeit bool) *Result {
	s.status = StatusFinished
	winner := s.p1
	if s.state.Score2 > s.state.Score1 {
		winner = s.p2
	}
	return &Result{
		RoomID:    s.id,
		Player1ID: s.p1,
		Player2ID: s.p2,
		WinnerID:  winner,
		Score1:    s.state.Score1,
		Score2:    s.state.Score2,
		Forfeit:   forfeit,
	}
}

// completed emits the terminal events and persistence calls for a result.
func (s *Session) completed(ctx context.Context, result Result) {
	s.broadcast.Broadcast(s.id, protocol.Encode(protocol.GameOver(result.RoomID, result.WinnerID, result.Score1, result.Score2, result.Forfeit)))
	if s.recorder != nil {
		s.recorder.SaveMatch(ctx, result.RoomID, result.Player1ID, result.Player2ID, result.Score1, result.Score2, false)
		s.recorder.RecordGameResult(ctx, result.Player1ID, result.Score1, result.WinnerID == result.Player1ID)
		s.recorder.RecordGameResult(ctx, result.Player2ID, result.Score2, result.WinnerID == result.Player2ID)
	}
	s.log.Info("match finished",
		logging.String("winner_id", result.WinnerID),
		logging.Int("score1", result.Score1),
		logging.Int("score2", result.Score2),
		logging.Bool("forfeit", result.Forfeit))
	if s.onFinish != nil {
		s.onFinish(result)
	}
}

// MovePaddle applies a paddle position from one of the two participants and
// relays it verbatim to the room. Positions are clamped into the court; the
// identity is verified but the value itself is trusted.
func (s *Session) MovePaddle(userID string, position float64) error {
	if s == nil {
		return ErrNotRunning
	}
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	clamped := clamp01(position)
	var tag string
	switch userID {
	case s.p1:
		s.state.Paddle1Y = clamped
		tag = "player1"
	case s.p2:
		s.state.Paddle2Y = clamped
		tag = "player2"
	default:
		s.mu.Unlock()
		return ErrNotParticipant
	}
	s.mu.Unlock()

	s.broadcast.Broadcast(s.id, protocol.Encode(protocol.UpdatePaddle(tag, clamped)))
	return nil
}

// Forfeit ends the match in favour of the leaver's opponent at the full win
// threshold. It is idempotent: once a session is finished further forfeits
// report false and change nothing.
func (s *Session) Forfeit(leaverID string) (Result, bool) {
	if s == nil {
		return Result{}, false
	}
	s.mu.Lock()
	if s.status == StatusFinished {
		s.mu.Unlock()
		return Result{}, false
	}
	if leaverID != s.p1 && leaverID != s.p2 {
		s.mu.Unlock()
		return Result{}, false
	}
	//1.- Deterministic forfeit scoring: winner at threshold, leaver at zero.
	if leaverID == s.p1 {
		s.state.Score1 = 0
		s.state.Score2 = s.cfg.WinScore
	} else {
		s.state.Score1 = s.cfg.WinScore
		s.state.Score2 = 0
	}
	result := s.finishLocked(true)
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	//2.- Stop the loop and wait for it to observe cancellation so no tick can
	// run after teardown.
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.completed(context.Background(), *result)
	return *result, true
}

// Stop cancels the simulation loop without declaring a winner, used on server
// shutdown.
func (s *Session) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.status == StatusRunning {
		s.status = StatusFinished
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
