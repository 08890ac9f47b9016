package tournament

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paddleserve/broker/internal/group"
	"paddleserve/broker/internal/logging"
	"paddleserve/broker/internal/protocol"
)

type fakeSender struct {
	mu     sync.Mutex
	userID string
	sent   [][]byte
}

func newFakeSender(userID string) *fakeSender { return &fakeSender{userID: userID} }

func (f *fakeSender) UserID() string { return f.userID }

func (f *fakeSender) Send(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return true
}

func (f *fakeSender) eventsOfType(t *testing.T, eventType string) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []map[string]any
	for _, payload := range f.sent {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(payload, &decoded))
		if decoded["type"] == eventType {
			matched = append(matched, decoded)
		}
	}
	return matched
}

type launchRecord struct {
	roomID  string
	key     MatchKey
	player1 string
	player2 string
}

type fakeEngine struct {
	mu       sync.Mutex
	launches chan launchRecord
	forfeits []string
	liveOnly map[string]bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{launches: make(chan launchRecord, 8), liveOnly: make(map[string]bool)}
}

func (f *fakeEngine) Launch(roomID, token string, key MatchKey, player1ID, player2ID string) error {
	f.launches <- launchRecord{roomID: roomID, key: key, player1: player1ID, player2: player2ID}
	return nil
}

func (f *fakeEngine) Forfeit(roomID, leaverID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forfeits = append(f.forfeits, roomID+":"+leaverID)
	return f.liveOnly[roomID]
}

func (f *fakeEngine) waitLaunch(t *testing.T) launchRecord {
	t.Helper()
	select {
	case record := <-f.launches:
		return record
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a match launch")
		return launchRecord{}
	}
}

type fakeConns struct {
	mu      sync.Mutex
	offline map[string]bool
}

func newFakeConns() *fakeConns { return &fakeConns{offline: make(map[string]bool)} }

func (f *fakeConns) setOffline(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline[userID] = true
}

func (f *fakeConns) Connected(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.offline[userID]
}

type archiveCall struct {
	players [4]string
	semi1   string
	semi2   string
	final   string
}

type fakeArchiver struct {
	mu    sync.Mutex
	calls chan archiveCall
	count int
}

func newFakeArchiver() *fakeArchiver { return &fakeArchiver{calls: make(chan archiveCall, 4)} }

func (f *fakeArchiver) Archive(_ context.Context, playerIDs [4]string, semi1, semi2, final string) error {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
	f.calls <- archiveCall{players: playerIDs, semi1: semi1, semi2: semi2, final: final}
	return nil
}

func (f *fakeArchiver) waitCall(t *testing.T) archiveCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for archival")
		return archiveCall{}
	}
}

type placeholderIdentities struct{}

func (placeholderIdentities) Lookup(_ context.Context, userID string) (protocol.PlayerInfo, error) {
	return protocol.PlayerInfo{}, fmt.Errorf("no identity store")
}

type harness struct {
	registry *Registry
	hub      *group.Hub
	conns    *fakeConns
	engine   *fakeEngine
	archiver *fakeArchiver
	senders  map[string]*fakeSender
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		hub:      group.NewHub(),
		conns:    newFakeConns(),
		engine:   newFakeEngine(),
		archiver: newFakeArchiver(),
		senders:  make(map[string]*fakeSender),
	}
	tokens := 0
	h.registry = NewRegistry(h.hub, h.conns, placeholderIdentities{}, h.engine, h.archiver,
		Config{CountdownFrom: 3, WinScore: 3},
		WithLogger(logging.NewTestLogger()),
		WithSleeper(func(ctx context.Context, _ time.Duration) bool { return ctx.Err() == nil }),
		WithTokenSource(func() string {
			tokens++
			return fmt.Sprintf("TOKEN%03d", tokens)
		}),
	)
	return h
}

func (h *harness) sender(userID string) *fakeSender {
	if s, ok := h.senders[userID]; ok {
		return s
	}
	s := newFakeSender(userID)
	h.senders[userID] = s
	return s
}

// fullRoom creates a room with alice as creator and three joined players.
func (h *harness) fullRoom(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	room, err := h.registry.Create(ctx, "alice", h.sender("alice"))
	require.NoError(t, err)
	for _, id := range []string{"bob", "carol", "dave"} {
		_, err := h.registry.Join(ctx, id, h.sender(id), room.Token())
		require.NoError(t, err)
	}
	return room.Token()
}

func TestCreateAndJoinRoster(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	room, err := h.registry.Create(ctx, "alice", h.sender("alice"))
	require.NoError(t, err)
	require.Equal(t, "TOKEN001", room.Token())

	_, err = h.registry.Join(ctx, "bob", h.sender("bob"), "NOPE1234")
	require.ErrorIs(t, err, ErrUnknownToken)

	_, err = h.registry.Join(ctx, "bob", h.sender("bob"), room.Token())
	require.NoError(t, err)
	_, err = h.registry.Join(ctx, "bob", h.sender("bob"), room.Token())
	require.ErrorIs(t, err, ErrAlreadyJoined)

	for _, id := range []string{"carol", "dave"} {
		_, err := h.registry.Join(ctx, id, h.sender(id), room.Token())
		require.NoError(t, err)
	}
	_, err = h.registry.Join(ctx, "eve", h.sender("eve"), room.Token())
	require.ErrorIs(t, err, ErrRoomFull)

	//1.- Only the creator's roster view carries the start control.
	aliceInfos := h.sender("alice").eventsOfType(t, protocol.EventTournamentInfo)
	require.NotEmpty(t, aliceInfos)
	last := aliceInfos[len(aliceInfos)-1]
	assert.Equal(t, true, last["show_start_button"])
	assert.Len(t, last["participants"], 4)

	bobInfos := h.sender("bob").eventsOfType(t, protocol.EventTournamentInfo)
	require.NotEmpty(t, bobInfos)
	assert.NotEqual(t, true, bobInfos[len(bobInfos)-1]["show_start_button"])
}

func TestStartSeedsSemifinalsInJoinOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token := h.fullRoom(t)

	require.ErrorIs(t, h.registry.Start(ctx, "bob", token), ErrNotCreator)
	require.NoError(t, h.registry.Start(ctx, "alice", token))
	require.ErrorIs(t, h.registry.Start(ctx, "alice", token), ErrRoomNotJoinable)

	first := h.engine.waitLaunch(t)
	second := h.engine.waitLaunch(t)
	pairings := map[MatchKey][2]string{
		first.key:  {first.player1, first.player2},
		second.key: {second.player1, second.player2},
	}
	assert.Equal(t, [2]string{"alice", "bob"}, pairings[KeyMatch1])
	assert.Equal(t, [2]string{"carol", "dave"}, pairings[KeyMatch2])

	room, ok := h.registry.Lookup(token)
	require.True(t, ok)
	assert.Equal(t, StatusInProgress, room.Snapshot().Status)

	//1.- Each player learns their own match id and opponent.
	notices := h.sender("carol").eventsOfType(t, protocol.EventMatchAssignment)
	require.Len(t, notices, 1)
	assert.Equal(t, "dave", notices[0]["opponent_id"])
}

func TestStartRequiresFullRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	room, err := h.registry.Create(ctx, "alice", h.sender("alice"))
	require.NoError(t, err)
	_, err = h.registry.Join(ctx, "bob", h.sender("bob"), room.Token())
	require.NoError(t, err)

	require.ErrorIs(t, h.registry.Start(ctx, "alice", room.Token()), ErrNotReady)
}

func TestBracketRunsToArchivedResults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token := h.fullRoom(t)
	require.NoError(t, h.registry.Start(ctx, "alice", token))
	semi1 := h.engine.waitLaunch(t)
	semi2 := h.engine.waitLaunch(t)

	require.NoError(t, h.registry.ReportMatchResult(ctx, token, semi1.key, "alice", 3, 1))
	//1.- A duplicate report must not disturb the recorded slot.
	require.NoError(t, h.registry.ReportMatchResult(ctx, token, semi1.key, "bob", 0, 3))
	require.NoError(t, h.registry.ReportMatchResult(ctx, token, semi2.key, "dave", 2, 3))

	final := h.engine.waitLaunch(t)
	assert.Equal(t, KeyFinal, final.key)
	assert.Equal(t, "alice", final.player1)
	assert.Equal(t, "dave", final.player2)

	//2.- Every participant saw the countdown announcing the final match id.
	ticks := h.sender("bob").eventsOfType(t, protocol.EventCountdownToFinal)
	require.Len(t, ticks, 3)
	assert.Equal(t, float64(3), ticks[0]["seconds"])
	assert.Equal(t, final.roomID, ticks[0]["final_match_id"])

	require.NoError(t, h.registry.ReportMatchResult(ctx, token, KeyFinal, "dave", 1, 3))

	call := h.archiver.waitCall(t)
	assert.Equal(t, [4]string{"alice", "bob", "carol", "dave"}, call.players)
	assert.Equal(t, "3-1", call.semi1)
	assert.Equal(t, "2-3", call.semi2)
	assert.Equal(t, "1-3", call.final)

	results := h.sender("carol").eventsOfType(t, protocol.EventTournamentResults)
	require.Len(t, results, 1)

	room, ok := h.registry.Lookup(token)
	require.True(t, ok)
	assert.Equal(t, StatusFinished, room.Snapshot().Status)
}

func TestCountdownForfeitsUnreachableFinalist(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token := h.fullRoom(t)
	require.NoError(t, h.registry.Start(ctx, "alice", token))
	semi1 := h.engine.waitLaunch(t)
	semi2 := h.engine.waitLaunch(t)

	require.NoError(t, h.registry.ReportMatchResult(ctx, token, semi1.key, "alice", 3, 0))
	//1.- Dave wins his semifinal but vanishes before the countdown starts.
	h.conns.setOffline("dave")
	require.NoError(t, h.registry.ReportMatchResult(ctx, token, semi2.key, "dave", 0, 3))

	call := h.archiver.waitCall(t)
	assert.Equal(t, "3-0", call.final)

	room, ok := h.registry.Lookup(token)
	require.True(t, ok)
	snapshot := room.Snapshot()
	assert.Equal(t, StatusFinished, snapshot.Status)
	assert.Equal(t, "alice", snapshot.Final.Winner)
	assert.Equal(t, 3, snapshot.Final.Score1)
	assert.Equal(t, 0, snapshot.Final.Score2)
	select {
	case record := <-h.engine.launches:
		t.Fatalf("unexpected launch of %s", record.key)
	default:
	}
}

func TestCountdownWithBothFinalistsGoneSkipsArchival(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token := h.fullRoom(t)
	require.NoError(t, h.registry.Start(ctx, "alice", token))
	semi1 := h.engine.waitLaunch(t)
	semi2 := h.engine.waitLaunch(t)

	h.conns.setOffline("alice")
	h.conns.setOffline("dave")
	require.NoError(t, h.registry.ReportMatchResult(ctx, token, semi1.key, "alice", 3, 0))
	require.NoError(t, h.registry.ReportMatchResult(ctx, token, semi2.key, "dave", 0, 3))

	room, ok := h.registry.Lookup(token)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		snapshot := room.Snapshot()
		return snapshot.Status == StatusFinished
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, room.Snapshot().Final.Winner)
	select {
	case <-h.archiver.calls:
		t.Fatal("bracket with no winner must not be archived")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLeaveWhileWaitingTransfersCreator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	room, err := h.registry.Create(ctx, "alice", h.sender("alice"))
	require.NoError(t, err)
	_, err = h.registry.Join(ctx, "bob", h.sender("bob"), room.Token())
	require.NoError(t, err)

	h.registry.Leave(ctx, "alice")

	snapshot := room.Snapshot()
	assert.Equal(t, []string{"bob"}, snapshot.Participants)
	assert.Equal(t, "bob", snapshot.CreatorID)
	infos := h.sender("bob").eventsOfType(t, protocol.EventTournamentInfo)
	require.NotEmpty(t, infos)
	assert.Equal(t, true, infos[len(infos)-1]["show_start_button"])

	//1.- The last departure deletes the room entirely.
	h.registry.Leave(ctx, "bob")
	_, ok := h.registry.Lookup(room.Token())
	assert.False(t, ok)
}

func TestLeaveDuringSemifinalRecordsWalkover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token := h.fullRoom(t)
	require.NoError(t, h.registry.Start(ctx, "alice", token))
	h.engine.waitLaunch(t)
	h.engine.waitLaunch(t)

	//1.- No live session is registered for the fake rooms, so the registry
	// records the walkover itself.
	h.conns.setOffline("bob")
	h.registry.Leave(ctx, "bob")

	room, ok := h.registry.Lookup(token)
	require.True(t, ok)
	snapshot := room.Snapshot()
	assert.Equal(t, "alice", snapshot.Match1.Winner)
	assert.Equal(t, 3, snapshot.Match1.Score1)
	assert.Equal(t, 0, snapshot.Match1.Score2)
	assert.NotContains(t, snapshot.Participants, "bob")
}

func TestLeaveDelegatesToLiveSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token := h.fullRoom(t)
	require.NoError(t, h.registry.Start(ctx, "alice", token))
	semi1 := h.engine.waitLaunch(t)
	h.engine.waitLaunch(t)

	h.engine.mu.Lock()
	h.engine.liveOnly[semi1.roomID] = true
	h.engine.mu.Unlock()

	aliceRoom := semi1.roomID
	if semi1.key != KeyMatch1 {
		t.Fatalf("expected first launch to be match1, got %s", semi1.key)
	}
	h.registry.Leave(ctx, "alice")

	h.engine.mu.Lock()
	forfeits := append([]string(nil), h.engine.forfeits...)
	h.engine.mu.Unlock()
	require.Contains(t, forfeits, aliceRoom+":alice")

	//1.- The slot stays open until the session reports the result back.
	room, ok := h.registry.Lookup(token)
	require.True(t, ok)
	assert.Empty(t, room.Snapshot().Match1.Winner)
}

func TestCreateLeavesPreviousRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.registry.Create(ctx, "alice", h.sender("alice"))
	require.NoError(t, err)
	_, err = h.registry.Join(ctx, "bob", h.sender("bob"), first.Token())
	require.NoError(t, err)

	second, err := h.registry.Create(ctx, "bob", newFakeSender("bob"))
	require.NoError(t, err)
	require.NotEqual(t, first.Token(), second.Token())

	assert.Equal(t, StatusWaiting, first.Snapshot().Status)
	assert.NotContains(t, first.Snapshot().Participants, "bob")
	token, ok := h.registry.RoomOf("bob")
	require.True(t, ok)
	assert.Equal(t, second.Token(), token)
}
