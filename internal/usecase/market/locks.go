package market

import "sync"

// userLocks serializes ledger operations per user. Operations for different
// users proceed in parallel; two operations for the same user never overlap.
// Entries are reference counted and removed once the last holder releases,
// so the map does not grow with the all-time user population.
type userLocks struct {
	mu    sync.Mutex
	users map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{users: make(map[string]*userLock)}
}

// lock blocks until the per-user mutex is held and returns the unlock func.
func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	ul, ok := l.users[userID]
	if !ok {
		ul = &userLock{}
		l.users[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()

	return func() {
		ul.mu.Unlock()

		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.users, userID)
		}
		l.mu.Unlock()
	}
}
