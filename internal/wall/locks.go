package wall

import (
	"sync"

	"github.com/confessio/backend/internal/board"
)

// boardLocks hands out one mutex per board key so mutations and their
// broadcasts serialize per board without boards blocking each other. Entries
// are reference counted and dropped once unused, keeping the table bounded by
// the number of boards active at any instant.
type boardLocks struct {
	mu    sync.Mutex
	locks map[board.Key]*boardLock
}

type boardLock struct {
	mutex sync.Mutex
	refs  int
}

func newBoardLocks() *boardLocks {
	return &boardLocks{locks: make(map[board.Key]*boardLock)}
}

func (l *boardLocks) lock(key board.Key) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &boardLock{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mutex.Lock()
}

func (l *boardLocks) unlock(key board.Key) {
	l.mu.Lock()
	entry := l.locks[key]
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()

	entry.mutex.Unlock()
}
