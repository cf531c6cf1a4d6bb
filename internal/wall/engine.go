package wall

import (
	"context"
	"errors"
	"time"

	"github.com/confessio/backend/internal/board"
	"github.com/confessio/backend/internal/identity"
	"github.com/confessio/backend/internal/metrics"
	"github.com/confessio/backend/internal/moderation"
	"go.uber.org/zap"
)

const defaultSweepInterval = 10 * time.Minute

var (
	errMissingStore      = errors.New("board store dependency required")
	errMissingRooms      = errors.New("room registry dependency required")
	errMissingIdentity   = errors.New("identity generator dependency required")
	errMissingModeration = errors.New("moderation issuer dependency required")
	noOpLogger           = zap.NewNop()
)

// EngineConfig describes the collaborators of the synchronization engine.
type EngineConfig struct {
	Store         *board.Store
	Rooms         *Rooms
	Identity      *identity.Generator
	Moderation    *moderation.Issuer
	SweepInterval time.Duration
	Logger        *zap.Logger
	Clock         func() time.Time
}

// Engine orchestrates the board store, room registry and identity generator.
// All mutations of one board serialize through a per-board lock together with
// the broadcast they produce, so every member of a room observes snapshots in
// a single order. Boards never block each other.
type Engine struct {
	store         *board.Store
	rooms         *Rooms
	identity      *identity.Generator
	moderation    *moderation.Issuer
	sweepInterval time.Duration
	logger        *zap.Logger
	clock         func() time.Time
	locks         *boardLocks
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Rooms == nil {
		return nil, errMissingRooms
	}
	if cfg.Identity == nil {
		return nil, errMissingIdentity
	}
	if cfg.Moderation == nil {
		return nil, errMissingModeration
	}

	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		store:         cfg.Store,
		rooms:         cfg.Rooms,
		identity:      cfg.Identity,
		moderation:    cfg.Moderation,
		sweepInterval: interval,
		logger:        logger,
		clock:         clock,
		locks:         newBoardLocks(),
	}, nil
}

// Join registers the connection in the board's room and returns the current
// snapshot for the requester only, plus the stream of future broadcasts. The
// cleanup leaves the room; it also runs automatically when ctx is cancelled.
func (e *Engine) Join(ctx context.Context, rawKey string) (Snapshot, <-chan Snapshot, func(), error) {
	key, err := board.NewKey(rawKey)
	if err != nil {
		return Snapshot{}, nil, nil, err
	}

	// The board lock spans subscribe and list so no broadcast can slot in
	// between them: the first update a joiner receives is never older than
	// its init snapshot.
	e.locks.lock(key)
	stream, cleanup := e.rooms.Subscribe(ctx, key)
	notes, err := e.store.List(ctx, key)
	e.locks.unlock(key)
	if err != nil {
		cleanup()
		return Snapshot{}, nil, nil, err
	}

	return Snapshot{BoardKey: key, Notes: notes}, stream, cleanup, nil
}

// Post validates and persists a new confession, then broadcasts the updated
// snapshot to the whole room including the poster. Validation failures are
// dropped silently; the protocol defines no error event for them. Only
// persistence failures surface, and only to the poster.
func (e *Engine) Post(ctx context.Context, rawKey, text string) error {
	key, err := board.NewKey(rawKey)
	if err != nil {
		metrics.NotesRejected.WithLabelValues("invalid_board_key").Inc()
		return nil
	}

	alias, accent := e.identity.Next()

	e.locks.lock(key)
	defer e.locks.unlock(key)

	if _, err := e.store.Append(ctx, key, text, alias, accent); err != nil {
		switch {
		case errors.Is(err, board.ErrEmptyText):
			metrics.NotesRejected.WithLabelValues("empty_text").Inc()
			return nil
		case errors.Is(err, board.ErrTextTooLong):
			metrics.NotesRejected.WithLabelValues("text_too_long").Inc()
			return nil
		default:
			e.logger.Error("confession append failed",
				zap.String("board_key", key.String()),
				zap.Error(err))
			return err
		}
	}
	metrics.NotesPosted.Inc()

	return e.broadcastLocked(ctx, key)
}

// Login exchanges the moderation secret for a short-lived moderator token.
func (e *Engine) Login(secret string) (string, int64, error) {
	return e.moderation.Login(secret)
}

// DeleteNote removes a single note on behalf of a moderator and rebroadcasts
// the board. A wrong credential mutates nothing and broadcasts nothing; a
// missing note id is a successful no-op.
func (e *Engine) DeleteNote(ctx context.Context, rawKey, noteID, credential string) error {
	if !e.moderation.Authorize(credential) {
		return moderation.ErrUnauthorized
	}
	key, err := board.NewKey(rawKey)
	if err != nil {
		return err
	}

	e.locks.lock(key)
	defer e.locks.unlock(key)

	removed, err := e.store.DeleteByID(ctx, key, noteID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	return e.broadcastLocked(ctx, key)
}

// ClearBoard removes every note on the board on behalf of a moderator and
// broadcasts the resulting empty snapshot.
func (e *Engine) ClearBoard(ctx context.Context, rawKey, credential string) error {
	if !e.moderation.Authorize(credential) {
		return moderation.ErrUnauthorized
	}
	key, err := board.NewKey(rawKey)
	if err != nil {
		return err
	}

	e.locks.lock(key)
	defer e.locks.unlock(key)

	if err := e.store.Clear(ctx, key); err != nil {
		return err
	}
	return e.broadcastLocked(ctx, key)
}

// RunSweeper drives the periodic retention sweep until ctx is cancelled.
// Failures are logged per cycle; the ticker keeps running.
func (e *Engine) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	e.logger.Info("retention sweeper started", zap.Duration("interval", e.sweepInterval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			e.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single retention pass. Boards with live viewers receive a
// fresh snapshot so a wall evicted mid-view empties without a rejoin.
func (e *Engine) SweepOnce(ctx context.Context) {
	evicted, err := e.store.SweepExpired(ctx, e.clock())
	if err != nil {
		e.logger.Error("retention sweep failed", zap.Error(err))
		return
	}
	if len(evicted) == 0 {
		return
	}
	metrics.SweepEvictedBoards.Add(float64(len(evicted)))
	e.logger.Info("retention sweep evicted boards", zap.Int("boards", len(evicted)))

	for _, key := range evicted {
		if e.rooms.Members(key) == 0 {
			continue
		}
		e.locks.lock(key)
		if err := e.broadcastLocked(ctx, key); err != nil {
			e.logger.Error("post-sweep broadcast failed",
				zap.String("board_key", key.String()),
				zap.Error(err))
		}
		e.locks.unlock(key)
	}
}

// broadcastLocked lists the board and fans the snapshot out. Callers hold the
// board lock, which is what keeps list results and broadcast order aligned.
func (e *Engine) broadcastLocked(ctx context.Context, key board.Key) error {
	notes, err := e.store.List(ctx, key)
	if err != nil {
		return err
	}
	e.rooms.Broadcast(key, Snapshot{BoardKey: key, Notes: notes})
	metrics.Broadcasts.Inc()
	return nil
}
