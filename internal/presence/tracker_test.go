package presence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/pdutra/cardex/internal/bus"
	"github.com/pdutra/cardex/internal/store"
	"go.uber.org/zap"
)

type fakeBackend struct {
	upserts []store.Participant
	err     error
}

func (f *fakeBackend) UpsertParticipant(_ context.Context, p *store.Participant) error {
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, *p)
	return nil
}

func newTestTracker(t *testing.T, fb *fakeBackend) *Tracker {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "cardex.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewTracker(db, fb, bus.New(), "user-a", zap.NewNop())
}

func TestSetTypingWritesLocalAndRemote(t *testing.T) {
	fb := &fakeBackend{}
	tr := newTestTracker(t, fb)

	if err := tr.SetTyping(context.Background(), "t1", true); err != nil {
		t.Fatalf("SetTyping() error = %v", err)
	}

	rows, err := tr.Participants("t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || !rows[0].IsTyping {
		t.Errorf("cached rows = %+v, want one typing row", rows)
	}
	if len(fb.upserts) != 1 || !fb.upserts[0].IsTyping {
		t.Errorf("remote upserts = %+v", fb.upserts)
	}
}

func TestTypingFalsePersistsAfterTrue(t *testing.T) {
	fb := &fakeBackend{}
	tr := newTestTracker(t, fb)
	ctx := context.Background()

	if err := tr.SetTyping(ctx, "t1", true); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetTyping(ctx, "t1", false); err != nil {
		t.Fatal(err)
	}

	rows, err := tr.Participants("t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].IsTyping {
		t.Error("typing = true after explicit false, must stay false until changed")
	}
}

func TestSetTypingKeepsLocalRowOnRemoteFailure(t *testing.T) {
	fb := &fakeBackend{err: errors.New("backend down")}
	tr := newTestTracker(t, fb)

	if err := tr.SetTyping(context.Background(), "t1", true); err == nil {
		t.Fatal("SetTyping() should surface the remote failure")
	}

	rows, err := tr.Participants("t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || !rows[0].IsTyping {
		t.Errorf("local row missing after remote failure: %+v", rows)
	}
}

func TestMarkOnlineAndOffline(t *testing.T) {
	fb := &fakeBackend{}
	tr := newTestTracker(t, fb)
	ctx := context.Background()

	if err := tr.MarkOnline(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	rows, _ := tr.Participants("t1")
	if rows[0].PresenceStatus != "online" {
		t.Errorf("status = %q, want online", rows[0].PresenceStatus)
	}
	first := rows[0].LastSeen

	if err := tr.MarkOffline(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	rows, _ = tr.Participants("t1")
	if rows[0].PresenceStatus != "offline" {
		t.Errorf("status = %q, want offline", rows[0].PresenceStatus)
	}
	if rows[0].IsTyping {
		t.Error("going offline must clear typing")
	}
	if rows[0].LastSeen < first {
		t.Error("last_seen went backwards")
	}
}
