package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paddleserve/broker/internal/config"
	"paddleserve/broker/internal/logging"
	"paddleserve/broker/internal/protocol"
)

type stubConn struct {
	mu        sync.Mutex
	id        string
	frames    [][]byte
	closeCode int
}

func newStubConn(id string) *stubConn { return &stubConn{id: id} }

func (s *stubConn) UserID() string { return s.id }

func (s *stubConn) Send(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, payload)
	return true
}

func (s *stubConn) CloseWithCode(code int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCode = code
}

func (s *stubConn) closedWith() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode
}

func (s *stubConn) eventsOfType(t *testing.T, eventType string) []map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []map[string]any
	for _, payload := range s.frames {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(payload, &decoded))
		if decoded["type"] == eventType {
			matched = append(matched, decoded)
		}
	}
	return matched
}

func (s *stubConn) hasEvent(t *testing.T, eventType string) bool {
	t.Helper()
	return len(s.eventsOfType(t, eventType)) > 0
}

func testArena(t *testing.T) *Arena {
	t.Helper()
	cfg := &config.Config{
		TickInterval:    5 * time.Millisecond,
		ScorePause:      0,
		CasualWinScore:  5,
		BracketWinScore: 3,
		CountdownFrom:   1,
	}
	arena := NewArena(context.Background(), cfg, logging.NewTestLogger(), nil, nil, nil, nil)
	t.Cleanup(arena.Shutdown)
	return arena
}

func TestCasualMatchLifecycle(t *testing.T) {
	arena := testArena(t)
	ctx := context.Background()
	alice := newStubConn("alice")
	bob := newStubConn("bob")

	arena.JoinQueue(ctx, alice)
	waits := alice.eventsOfType(t, protocol.EventWaiting)
	require.Len(t, waits, 1)
	assert.NotEqual(t, true, waits[0]["already_queued"])

	arena.JoinQueue(ctx, bob)
	require.True(t, alice.hasEvent(t, protocol.EventGameStart))
	require.True(t, bob.hasEvent(t, protocol.EventGameStart))

	//1.- Paddle moves fan out to the whole room.
	arena.MovePaddle(alice, 0.7)
	paddles := bob.eventsOfType(t, protocol.EventUpdatePaddle)
	require.NotEmpty(t, paddles)
	assert.Equal(t, "player1", paddles[0]["player"])
	assert.Equal(t, 0.7, paddles[0]["paddle_position"])

	//2.- A mid-match disconnect forfeits at the full casual threshold.
	arena.LeaveGame(ctx, alice)
	require.True(t, bob.hasEvent(t, protocol.EventPlayerDisconnected))
	overs := bob.eventsOfType(t, protocol.EventGameOver)
	require.Len(t, overs, 1)
	assert.Equal(t, "bob", overs[0]["winner_id"])
	assert.Equal(t, float64(5), overs[0]["score2"])
	assert.Equal(t, float64(0), overs[0]["score1"])
}

func TestDuplicateLoginEvictsOlderSocket(t *testing.T) {
	arena := testArena(t)
	ctx := context.Background()
	first := newStubConn("alice")
	second := newStubConn("alice")

	arena.JoinQueue(ctx, first)
	arena.JoinQueue(ctx, second)

	assert.Equal(t, protocol.CloseSuperseded, first.closedWith())
	assert.Equal(t, 0, second.closedWith())

	//1.- The stale socket's disconnect must not disturb the new one's state.
	arena.LeaveGame(ctx, first)
	waits := second.eventsOfType(t, protocol.EventWaiting)
	require.Len(t, waits, 1)
	assert.Equal(t, true, waits[0]["already_queued"])
}

func TestRequeueDuringLiveMatchForfeitsIt(t *testing.T) {
	arena := testArena(t)
	ctx := context.Background()
	alice := newStubConn("alice")
	bob := newStubConn("bob")

	arena.JoinQueue(ctx, alice)
	arena.JoinQueue(ctx, bob)
	require.True(t, bob.hasEvent(t, protocol.EventGameStart))

	//1.- A fresh alice login while her match is live evicts the old socket
	// and settles that match by forfeit before she re-enters the queue.
	again := newStubConn("alice")
	arena.JoinQueue(ctx, again)
	assert.Equal(t, protocol.CloseSuperseded, alice.closedWith())
	overs := bob.eventsOfType(t, protocol.EventGameOver)
	require.Len(t, overs, 1)
	assert.Equal(t, "bob", overs[0]["winner_id"])

	//2.- The re-queued alice holds no room, so the next arrival pairs with
	// her into the only live session.
	carol := newStubConn("carol")
	arena.JoinQueue(ctx, carol)
	require.True(t, again.hasEvent(t, protocol.EventGameStart))
	require.True(t, carol.hasEvent(t, protocol.EventGameStart))
	arena.mu.Lock()
	live := len(arena.sessions)
	arena.mu.Unlock()
	assert.Equal(t, 1, live)
}

func TestVanishedOpponentRequeuesBoth(t *testing.T) {
	arena := testArena(t)
	ctx := context.Background()
	alice := newStubConn("alice")

	arena.JoinQueue(ctx, alice)
	//1.- Bob queued but his socket was never registered (gone before the
	// match trigger). Both ids rejoin the queue and alice keeps waiting.
	arena.queue.Enqueue("bob")
	arena.matchWaiting(ctx)
	assert.False(t, alice.hasEvent(t, protocol.EventGameStart))
	assert.Equal(t, 2, arena.queue.Len())

	//2.- Bob's socket arriving completes the pairing.
	bob := newStubConn("bob")
	arena.JoinQueue(ctx, bob)
	assert.True(t, alice.hasEvent(t, protocol.EventGameStart))
	assert.True(t, bob.hasEvent(t, protocol.EventGameStart))
	assert.Equal(t, 0, arena.queue.Len())
}

func TestBracketForfeitsCascadeToResults(t *testing.T) {
	arena := testArena(t)
	ctx := context.Background()
	conns := map[string]*stubConn{}
	for _, id := range []string{"alice", "bob", "carol", "dave"} {
		conns[id] = newStubConn(id)
		arena.JoinLobby(conns[id])
	}

	arena.CreateTournament(ctx, conns["alice"])
	token, ok := arena.tournaments.RoomOf("alice")
	require.True(t, ok)
	for _, id := range []string{"bob", "carol", "dave"} {
		arena.JoinTournament(ctx, conns[id], token)
	}
	arena.StartTournament(ctx, conns["alice"], token)
	require.True(t, conns["bob"].hasEvent(t, protocol.EventMatchAssignment))

	//1.- Both semifinals resolve by walkover when the losers disconnect.
	arena.LeaveLobby(ctx, conns["bob"])
	arena.LeaveLobby(ctx, conns["carol"])

	//2.- The survivors are reachable, so the countdown runs and the final
	// launches; alice leaving then hands dave the title.
	require.Eventually(t, func() bool {
		return conns["dave"].hasEvent(t, protocol.EventCountdownToFinal)
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(conns["dave"].eventsOfType(t, protocol.EventGameStart)) > 1
	}, 3*time.Second, 10*time.Millisecond)

	arena.LeaveLobby(ctx, conns["alice"])
	require.Eventually(t, func() bool {
		return conns["dave"].hasEvent(t, protocol.EventTournamentResults)
	}, 3*time.Second, 10*time.Millisecond)

	results := conns["dave"].eventsOfType(t, protocol.EventTournamentResults)
	require.Len(t, results, 1)
	payload, err := json.Marshal(results[0]["results"])
	require.NoError(t, err)
	var decoded struct {
		Final struct {
			Winner *protocol.PlayerInfo `json:"winner"`
			Score1 int                  `json:"score1"`
			Score2 int                  `json:"score2"`
		} `json:"final"`
	}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.NotNil(t, decoded.Final.Winner)
	assert.Equal(t, "dave", decoded.Final.Winner.ID)
	assert.Equal(t, "Player dave", decoded.Final.Winner.DisplayName)
}
