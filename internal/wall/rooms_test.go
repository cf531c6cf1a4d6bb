package wall

import (
	"context"
	"testing"
	"time"

	"github.com/confessio/backend/internal/board"
)

func TestRoomsBroadcastReachesMember(t *testing.T) {
	rooms := NewRooms()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := rooms.Subscribe(ctx, board.Key("abc1234"))
	defer cleanup()

	snapshot := Snapshot{
		BoardKey: board.Key("abc1234"),
		Notes:    []board.Note{{NoteID: "note-1", Text: "hello"}},
	}
	rooms.Broadcast(board.Key("abc1234"), snapshot)

	select {
	case received := <-stream:
		if received.BoardKey != board.Key("abc1234") {
			t.Fatalf("unexpected board key %s", received.BoardKey)
		}
		if len(received.Notes) != 1 || received.Notes[0].NoteID != "note-1" {
			t.Fatalf("unexpected notes %#v", received.Notes)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected snapshot within deadline")
	}
}

func TestRoomsIsolateBoards(t *testing.T) {
	rooms := NewRooms()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otherCtx, otherCancel := context.WithCancel(context.Background())
	defer otherCancel()

	streamA, cleanupA := rooms.Subscribe(ctx, board.Key("abc1234"))
	defer cleanupA()
	streamB, cleanupB := rooms.Subscribe(otherCtx, board.Key("other99"))
	defer cleanupB()

	rooms.Broadcast(board.Key("other99"), Snapshot{BoardKey: board.Key("other99")})

	select {
	case <-streamA:
		t.Fatal("did not expect snapshot for unrelated board")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case snapshot := <-streamB:
		if snapshot.BoardKey != board.Key("other99") {
			t.Fatalf("expected other99 snapshot, got %s", snapshot.BoardKey)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected snapshot for subscribed board")
	}
}

func TestRoomsMembershipEndsOnContextCancel(t *testing.T) {
	rooms := NewRooms()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := rooms.Subscribe(ctx, board.Key("abc1234"))
	defer cleanup()

	if got := rooms.Members(board.Key("abc1234")); got != 1 {
		t.Fatalf("expected 1 member, got %d", got)
	}

	cancel()

	deadline := time.After(time.Second)
	for rooms.Members(board.Key("abc1234")) != 0 {
		select {
		case <-deadline:
			t.Fatal("expected membership to end after context cancel")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRoomsCleanupIsIdempotent(t *testing.T) {
	rooms := NewRooms()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, cleanup := rooms.Subscribe(ctx, board.Key("abc1234"))
	cleanup()
	cleanup()

	if got := rooms.Members(board.Key("abc1234")); got != 0 {
		t.Fatalf("expected empty room, got %d members", got)
	}
}
