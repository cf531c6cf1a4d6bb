package wall

import (
	"context"
	"sync"

	"github.com/confessio/backend/internal/board"
)

// Snapshot is the full ordered, capped list of a board's current notes. It is
// always sent whole; clients reconcile by replacing their state with the
// latest snapshot.
type Snapshot struct {
	BoardKey board.Key
	Notes    []board.Note
}

// Rooms tracks which live connections are currently inside which board and
// fans snapshots out to them. Membership is purely ephemeral; it is rebuilt
// from scratch on process restart.
type Rooms struct {
	mu         sync.RWMutex
	members    map[board.Key]map[int64]*roomMember
	nextID     int64
	bufferSize int
}

type roomMember struct {
	id     int64
	stream chan Snapshot
}

// NewRooms constructs an empty registry.
func NewRooms() *Rooms {
	return &Rooms{
		members:    make(map[board.Key]map[int64]*roomMember),
		bufferSize: 16,
	}
}

// Subscribe registers a connection in the board's room and returns its
// snapshot stream. The subscription ends when ctx is cancelled (transport
// disconnect) or when the returned cleanup runs, whichever happens first.
func (r *Rooms) Subscribe(ctx context.Context, key board.Key) (<-chan Snapshot, func()) {
	member := &roomMember{
		id:     r.nextSequence(),
		stream: make(chan Snapshot, r.bufferSize),
	}
	r.register(key, member)
	cleanup := func() {
		r.unregister(key, member.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return member.stream, cleanup
}

// Broadcast delivers the snapshot to every connection currently joined to the
// board. Members of other boards are never touched. Sends are non-blocking; a
// member whose buffer is full misses this snapshot and catches up on the next
// one, since every broadcast carries the full state.
func (r *Rooms) Broadcast(key board.Key, snapshot Snapshot) {
	r.mu.RLock()
	members := r.members[key]
	if len(members) == 0 {
		r.mu.RUnlock()
		return
	}
	copies := make([]*roomMember, 0, len(members))
	for _, member := range members {
		copies = append(copies, member)
	}
	r.mu.RUnlock()
	for _, member := range copies {
		select {
		case member.stream <- snapshot:
		default:
		}
	}
}

// Members reports how many connections are joined to the board.
func (r *Rooms) Members(key board.Key) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[key])
}

func (r *Rooms) nextSequence() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

func (r *Rooms) register(key board.Key, member *roomMember) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[key]; !ok {
		r.members[key] = make(map[int64]*roomMember)
	}
	r.members[key][member.id] = member
}

func (r *Rooms) unregister(key board.Key, memberID int64) {
	r.mu.Lock()
	members := r.members[key]
	if members != nil {
		delete(members, memberID)
		if len(members) == 0 {
			delete(r.members, key)
		}
	}
	r.mu.Unlock()
}
