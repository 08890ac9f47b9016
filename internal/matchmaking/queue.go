// Package matchmaking tracks live connections and pairs queued players into
// matches.
package matchmaking

import "sync"

// Queue is the FIFO waiting line for casual play. Entries are user ids;
// re-enqueueing an id already present is a no-op.
type Queue struct {
	mu      sync.Mutex
	waiting []string
}

// NewQueue constructs an empty waiting queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends the user unless already queued, reporting whether the entry
// is new.
func (q *Queue) Enqueue(userID string) bool {
	if q == nil || userID == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.waiting {
		if id == userID {
			return false
		}
	}
	q.waiting = append(q.waiting, userID)
	return true
}

// Remove deletes the user from the queue if present, preserving order.
func (q *Queue) Remove(userID string) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, id := range q.waiting {
		if id == userID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return true
		}
	}
	return false
}

// TryMatch pops the head as player1 and scans the remainder in order for the
// first distinct id as player2, removing both. When every remaining entry
// equals the head no match occurs and the queue is left unchanged. The scan
// protects against self-matching after duplicate enqueue races.
func (q *Queue) TryMatch() (player1, player2 string, ok bool) {
	if q == nil {
		return "", "", false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiting) < 2 {
		return "", "", false
	}
	player1 = q.waiting[0]
	//1.- Scan past the head for the first id that is not the head itself.
	for i := 1; i < len(q.waiting); i++ {
		if q.waiting[i] == player1 {
			continue
		}
		player2 = q.waiting[i]
		//2.- Remove the scanned entry first so the head index stays valid.
		q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
		q.waiting = q.waiting[1:]
		return player1, player2, true
	}
	return "", "", false
}

// PushBack reinserts ids at the tail, used when a matched player turned out to
// be disconnected and both sides go back to waiting.
func (q *Queue) PushBack(userIDs ...string) {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		duplicate := false
		for _, existing := range q.waiting {
			if existing == id {
				duplicate = true
				break
			}
		}
		if !duplicate {
			q.waiting = append(q.waiting, id)
		}
	}
}

// Len reports the number of queued users.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Contains reports whether the user is currently queued.
func (q *Queue) Contains(userID string) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.waiting {
		if id == userID {
			return true
		}
	}
	return false
}

// snapshot returns a copy of the queue contents for tests.
func (q *Queue) snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.waiting...)
}
