// Package tournament implements 4-player single-elimination brackets: lobby
// rooms joined by token, two semifinals, a countdown and a final, with
// forfeit handling for every stage.
package tournament

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// Status enumerates the bracket lifecycle. Transitions are strictly forward.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusFinal      Status = "final"
	StatusFinished   Status = "finished"
)

// rank orders statuses so transitions can be validated as monotonic.
func (s Status) rank() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusInProgress:
		return 1
	case StatusFinal:
		return 2
	case StatusFinished:
		return 3
	default:
		return -1
	}
}

// MatchKey names the three bracket slots.
type MatchKey string

const (
	KeyMatch1 MatchKey = "match1"
	KeyMatch2 MatchKey = "match2"
	KeyFinal  MatchKey = "final"
)

// MaxPlayers is the fixed bracket size.
const MaxPlayers = 4

// tokenLength matches the join codes the reference client accepts.
const tokenLength = 8

// tokenAlphabet avoids easily-confused characters in join codes.
const tokenAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// MatchSlot is one bracket match: its pairing, live session and result.
type MatchSlot struct {
	Players [2]string
	RoomID  string
	Winner  string
	Score1  int
	Score2  int
}

func (m *MatchSlot) contains(userID string) bool {
	return m != nil && userID != "" && (m.Players[0] == userID || m.Players[1] == userID)
}

func (m *MatchSlot) opponentOf(userID string) string {
	if m == nil {
		return ""
	}
	if m.Players[0] == userID {
		return m.Players[1]
	}
	if m.Players[1] == userID {
		return m.Players[0]
	}
	return ""
}

// seeded reports whether both pairing slots are populated.
func (m *MatchSlot) seeded() bool {
	return m != nil && m.Players[0] != "" && m.Players[1] != ""
}

// Room is one bracket lobby and its three match slots. All mutation goes
// through its mutex; the registry never holds two room locks at once.
type Room struct {
	mu sync.Mutex

	token        string
	creatorID    string
	participants []string
	status       Status
	createdAt    time.Time

	match1 MatchSlot
	match2 MatchSlot
	final  MatchSlot

	countdownStop func()
	archived      bool
}

func newRoom(token, creatorID string, now time.Time) *Room {
	return &Room{
		token:        token,
		creatorID:    creatorID,
		participants: []string{creatorID},
		status:       StatusWaiting,
		createdAt:    now,
	}
}

// Token returns the room's join code.
func (r *Room) Token() string { return r.token }

// slot resolves a match key to its slot pointer. Callers hold the lock.
func (r *Room) slot(key MatchKey) *MatchSlot {
	switch key {
	case KeyMatch1:
		return &r.match1
	case KeyMatch2:
		return &r.match2
	case KeyFinal:
		return &r.final
	default:
		return nil
	}
}

// advanceLocked moves the status forward, refusing any regression.
func (r *Room) advanceLocked(next Status) error {
	if next.rank() < r.status.rank() {
		return fmt.Errorf("status cannot regress from %s to %s", r.status, next)
	}
	r.status = next
	return nil
}

// containsLocked reports participant membership.
func (r *Room) containsLocked(userID string) bool {
	for _, id := range r.participants {
		if id == userID {
			return true
		}
	}
	return false
}

// removeParticipantLocked drops the user, transferring creatorship to the
// longest-standing remaining participant when the creator departs.
func (r *Room) removeParticipantLocked(userID string) {
	for i, id := range r.participants {
		if id == userID {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			break
		}
	}
	if r.creatorID == userID && len(r.participants) > 0 {
		r.creatorID = r.participants[0]
	}
}

// Snapshot is a consistent copy of the room for observers and tests.
type Snapshot struct {
	Token        string
	CreatorID    string
	Participants []string
	Status       Status
	Match1       MatchSlot
	Match2       MatchSlot
	Final        MatchSlot
}

// Snapshot copies the room state under its lock.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Token:        r.token,
		CreatorID:    r.creatorID,
		Participants: append([]string(nil), r.participants...),
		Status:       r.status,
		Match1:       r.match1,
		Match2:       r.match2,
		Final:        r.final,
	}
}

// newToken draws a fresh join code. Collisions are the caller's problem.
func newToken() string {
	var buf [tokenLength]byte
	if _, err := rand.Read(buf[:]); err != nil {
		//1.- Degrade to a time-derived code when the entropy source fails.
		return fmt.Sprintf("%08X", time.Now().UnixNano()&0xFFFFFFFF)[:tokenLength]
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf[:])
}
