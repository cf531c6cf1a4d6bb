package wall

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/confessio/backend/internal/board"
	"github.com/confessio/backend/internal/identity"
	"github.com/confessio/backend/internal/moderation"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testSecret = "wall-secret"

// fakeClock is shared by the store and the engine so tests can move both
// sides of the retention window together.
type fakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:wall_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&board.Note{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &fakeClock{current: time.Unix(1700000000, 0).UTC()}
	store, err := board.NewStore(board.StoreConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: board.NewUUIDProvider(),
		Policy:     board.DefaultPolicy(),
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	issuer, err := moderation.NewIssuer(moderation.IssuerConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}

	engine, err := NewEngine(EngineConfig{
		Store:      store,
		Rooms:      NewRooms(),
		Identity:   identity.NewGenerator(),
		Moderation: issuer,
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}
	return engine, clock
}

func receiveSnapshot(t *testing.T, stream <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snapshot := <-stream:
		return snapshot
	case <-time.After(time.Second):
		t.Fatal("expected snapshot within deadline")
		return Snapshot{}
	}
}

func expectNoSnapshot(t *testing.T, stream <-chan Snapshot) {
	t.Helper()
	select {
	case snapshot := <-stream:
		t.Fatalf("unexpected snapshot: %#v", snapshot)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestJoinNewBoardYieldsEmptySnapshot(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshot, _, cleanup, err := engine.Join(ctx, "abc1234")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	defer cleanup()

	if len(snapshot.Notes) != 0 {
		t.Fatalf("expected empty board, got %d notes", len(snapshot.Notes))
	}
}

func TestJoinRejectsBlankBoardKey(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, _, _, err := engine.Join(context.Background(), "   ")
	if !errors.Is(err, board.ErrInvalidBoardKey) {
		t.Fatalf("expected ErrInvalidBoardKey, got %v", err)
	}
}

func TestPostBroadcastsToWholeRoom(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, streamX, cleanupX, err := engine.Join(ctx, "abc1234")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	defer cleanupX()
	_, streamY, cleanupY, err := engine.Join(ctx, "abc1234")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	defer cleanupY()

	if err := engine.Post(ctx, "abc1234", "hello"); err != nil {
		t.Fatalf("unexpected post error: %v", err)
	}

	for _, stream := range []<-chan Snapshot{streamX, streamY} {
		snapshot := receiveSnapshot(t, stream)
		if len(snapshot.Notes) != 1 {
			t.Fatalf("expected 1 note, got %d", len(snapshot.Notes))
		}
		note := snapshot.Notes[0]
		if note.Text != "hello" {
			t.Fatalf("unexpected text %q", note.Text)
		}
		if note.NoteID == "" || note.Identity == "" || note.Accent == "" {
			t.Fatalf("expected assigned identity fields, got %#v", note)
		}
	}
}

func TestPostDoesNotReachOtherBoards(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshotZ, streamZ, cleanupZ, err := engine.Join(ctx, "other99")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	defer cleanupZ()
	if len(snapshotZ.Notes) != 0 {
		t.Fatalf("expected empty snapshot for other board, got %d notes", len(snapshotZ.Notes))
	}

	if err := engine.Post(ctx, "abc1234", "hello"); err != nil {
		t.Fatalf("unexpected post error: %v", err)
	}

	expectNoSnapshot(t, streamZ)
}

func TestPostValidationFailuresAreSilent(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, stream, cleanup, err := engine.Join(ctx, "abc1234")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	defer cleanup()

	if err := engine.Post(ctx, "abc1234", "   "); err != nil {
		t.Fatalf("expected silent drop, got %v", err)
	}
	if err := engine.Post(ctx, "  ", "orphan"); err != nil {
		t.Fatalf("expected silent drop for invalid board key, got %v", err)
	}

	expectNoSnapshot(t, stream)
}

func TestIdentityIsAssignedOncePerNote(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, stream, cleanup, err := engine.Join(ctx, "abc1234")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	defer cleanup()

	if err := engine.Post(ctx, "abc1234", "first"); err != nil {
		t.Fatalf("unexpected post error: %v", err)
	}
	first := receiveSnapshot(t, stream)

	if err := engine.Post(ctx, "abc1234", "second"); err != nil {
		t.Fatalf("unexpected post error: %v", err)
	}
	second := receiveSnapshot(t, stream)

	// The earlier note keeps the identity it was created with; rebroadcasts
	// never re-roll aliases or accents.
	var firstNote, sameNote board.Note
	firstNote = first.Notes[0]
	for _, note := range second.Notes {
		if note.NoteID == firstNote.NoteID {
			sameNote = note
		}
	}
	if sameNote.NoteID == "" {
		t.Fatal("expected first note present in second snapshot")
	}
	if sameNote.Identity != firstNote.Identity || sameNote.Accent != firstNote.Accent {
		t.Fatalf("identity fields changed across broadcasts: %#v vs %#v", firstNote, sameNote)
	}
}

func TestModerationWrongSecretMutatesNothing(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, stream, cleanup, err := engine.Join(ctx, "abc1234")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	defer cleanup()

	if err := engine.Post(ctx, "abc1234", "keep me"); err != nil {
		t.Fatalf("unexpected post error: %v", err)
	}
	posted := receiveSnapshot(t, stream)
	noteID := posted.Notes[0].NoteID

	if err := engine.DeleteNote(ctx, "abc1234", noteID, "wrong-secret"); !errors.Is(err, moderation.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.ClearBoard(ctx, "abc1234", "wrong-secret"); !errors.Is(err, moderation.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	expectNoSnapshot(t, stream)

	rejoined, _, rejoinCleanup, err := engine.Join(ctx, "abc1234")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	defer rejoinCleanup()
	if len(rejoined.Notes) != 1 {
		t.Fatalf("expected board unchanged, got %d notes", len(rejoined.Notes))
	}
}

func TestModerationDeleteAndClearBroadcast(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, stream, cleanup, err := engine.Join(ctx, "abc1234")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	defer cleanup()

	if err := engine.Post(ctx, "abc1234", "first"); err != nil {
		t.Fatalf("unexpected post error: %v", err)
	}
	receiveSnapshot(t, stream)
	if err := engine.Post(ctx, "abc1234", "second"); err != nil {
		t.Fatalf("unexpected post error: %v", err)
	}
	snapshot := receiveSnapshot(t, stream)
	if len(snapshot.Notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(snapshot.Notes))
	}

	if err := engine.DeleteNote(ctx, "abc1234", snapshot.Notes[0].NoteID, testSecret); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	afterDelete := receiveSnapshot(t, stream)
	if len(afterDelete.Notes) != 1 {
		t.Fatalf("expected 1 note after delete, got %d", len(afterDelete.Notes))
	}

	if err := engine.ClearBoard(ctx, "abc1234", testSecret); err != nil {
		t.Fatalf("unexpected clear error: %v", err)
	}
	afterClear := receiveSnapshot(t, stream)
	if len(afterClear.Notes) != 0 {
		t.Fatalf("expected empty board after clear, got %d notes", len(afterClear.Notes))
	}
}

func TestModerationDeleteMissingNoteIsNoop(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, stream, cleanup, err := engine.Join(ctx, "abc1234")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	defer cleanup()

	if err := engine.DeleteNote(ctx, "abc1234", "no-such-note", testSecret); err != nil {
		t.Fatalf("expected missing note delete to succeed, got %v", err)
	}
	expectNoSnapshot(t, stream)
}

func TestLoginRoundTrip(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, _, err := engine.Login("wrong"); !errors.Is(err, moderation.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	token, _, err := engine.Login(testSecret)
	if err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}

	if err := engine.Post(ctx, "abc1234", "moderate me"); err != nil {
		t.Fatalf("unexpected post error: %v", err)
	}
	if err := engine.ClearBoard(ctx, "abc1234", token); err != nil {
		t.Fatalf("expected issued token to authorize clear, got %v", err)
	}
}

func TestJoinSnapshotNeverNewerThanQueuedUpdates(t *testing.T) {
	dsn := fmt.Sprintf("file:wall_join_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&board.Note{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := board.NewStore(board.StoreConfig{
		Database:   db,
		IDProvider: board.NewUUIDProvider(),
		Policy:     board.DefaultPolicy(),
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	issuer, err := moderation.NewIssuer(moderation.IssuerConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	engine, err := NewEngine(EngineConfig{
		Store:      store,
		Rooms:      NewRooms(),
		Identity:   identity.NewGenerator(),
		Moderation: issuer,
	})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}

	// Park the join's list query so concurrent posts get every chance to
	// slip in between subscribing and snapshotting.
	parked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	err = db.Callback().Query().Before("gorm:query").Register("park_first_list", func(tx *gorm.DB) {
		once.Do(func() {
			close(parked)
			<-release
		})
	})
	if err != nil {
		t.Fatalf("failed to register query callback: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type joinResult struct {
		snapshot Snapshot
		stream   <-chan Snapshot
		cleanup  func()
		err      error
	}
	joined := make(chan joinResult, 1)
	go func() {
		snapshot, stream, cleanup, err := engine.Join(ctx, "abc1234")
		joined <- joinResult{snapshot: snapshot, stream: stream, cleanup: cleanup, err: err}
	}()

	select {
	case <-parked:
	case <-time.After(time.Second):
		t.Fatal("join never reached its list query")
	}

	posted := make(chan error, 2)
	go func() { posted <- engine.Post(ctx, "abc1234", "first") }()
	go func() { posted <- engine.Post(ctx, "abc1234", "second") }()

	// The board lock makes the posts wait for the join to finish.
	select {
	case err := <-posted:
		t.Fatalf("post completed while a join held the board: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	var result joinResult
	select {
	case result = <-joined:
	case <-time.After(2 * time.Second):
		t.Fatal("join did not complete")
	}
	if result.err != nil {
		t.Fatalf("unexpected join error: %v", result.err)
	}
	defer result.cleanup()

	if len(result.snapshot.Notes) != 0 {
		t.Fatalf("expected join to snapshot the board before the posts, got %d notes", len(result.snapshot.Notes))
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-posted:
			if err != nil {
				t.Fatalf("unexpected post error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("post did not complete")
		}
	}

	// Updates queued on the stream must only ever move the board forward.
	seen := len(result.snapshot.Notes)
	for i := 0; i < 2; i++ {
		update := receiveSnapshot(t, result.stream)
		if len(update.Notes) < seen {
			t.Fatalf("snapshot went backwards: had %d notes, received %d", seen, len(update.Notes))
		}
		seen = len(update.Notes)
	}
	if seen != 2 {
		t.Fatalf("expected final snapshot with 2 notes, got %d", seen)
	}
}

func TestSweepBroadcastsEvictedBoardsToLiveRooms(t *testing.T) {
	engine, clock := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Post(ctx, "stale99", "forgotten soon"); err != nil {
		t.Fatalf("unexpected post error: %v", err)
	}

	_, stream, cleanup, err := engine.Join(ctx, "stale99")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	defer cleanup()

	clock.Advance(25 * time.Hour)
	engine.SweepOnce(ctx)

	snapshot := receiveSnapshot(t, stream)
	if len(snapshot.Notes) != 0 {
		t.Fatalf("expected empty snapshot after sweep, got %d notes", len(snapshot.Notes))
	}

	rejoined, _, rejoinCleanup, err := engine.Join(ctx, "stale99")
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	defer rejoinCleanup()
	if len(rejoined.Notes) != 0 {
		t.Fatalf("expected board empty on rejoin, got %d notes", len(rejoined.Notes))
	}
}
