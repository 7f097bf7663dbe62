package tradesession

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pdutra/cardex/internal/backend"
	"github.com/pdutra/cardex/internal/bus"
	"github.com/pdutra/cardex/internal/notify"
	"github.com/pdutra/cardex/internal/store"
	"github.com/pdutra/cardex/internal/trade"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, _ string) error {
	f.mu.Lock()
	f.calls++
	delay, err := f.delay, f.err
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

// fakeNotifier backs Subscribe with a real registry so handle lifecycle
// behaves exactly as in the daemon.
type fakeNotifier struct {
	registry *notify.Registry
	subErr   error
	opens    int
	releases int
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{registry: notify.NewRegistry()}
}

func (f *fakeNotifier) Subscribe(_ context.Context, channel string, _ notify.Filter) (*notify.Handle, error) {
	return f.registry.Open(channel, func() (func() error, error) {
		if f.subErr != nil {
			return nil, f.subErr
		}
		f.opens++
		return func() error { f.releases++; return nil }, nil
	})
}

type fakePresence struct {
	online  []string
	offline []string
}

func (f *fakePresence) MarkOnline(_ context.Context, tradeID string) error {
	f.online = append(f.online, tradeID)
	return nil
}

func (f *fakePresence) MarkOffline(_ context.Context, tradeID string) error {
	f.offline = append(f.offline, tradeID)
	return nil
}

type stubOfferBackend struct{}

func (stubOfferBackend) FetchOffer(_ context.Context, _ string) (*store.Offer, error) {
	return nil, errors.New("not found")
}

func (stubOfferBackend) FetchOffers(_ context.Context, _ backend.OfferFilter) ([]store.Offer, error) {
	return nil, nil
}

func (stubOfferBackend) UpdateOfferStatus(_ context.Context, _, _, _ string) error {
	return nil
}

type fixture struct {
	db       *store.DB
	bus      *bus.Bus
	refresh  *fakeRefresher
	notifier *fakeNotifier
	presence *fakePresence
	coord    *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "cardex.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	b := bus.New()
	f := &fixture{
		db:       db,
		bus:      b,
		refresh:  &fakeRefresher{},
		notifier: newFakeNotifier(),
		presence: &fakePresence{},
	}
	offers := trade.NewService(db, stubOfferBackend{}, "user-b", zap.NewNop())
	f.coord = NewCoordinator(db, f.refresh, f.notifier, f.presence, offers, b, zap.NewNop())
	return f
}

func seedOffer(t *testing.T, db *store.DB, status string) {
	t.Helper()
	err := db.UpsertOffer(&store.Offer{
		ID:             "t1",
		InitiatorID:    "user-a",
		RecipientID:    "user-b",
		Status:         status,
		CashAdjustment: decimal.Zero,
		CreatedAt:      1000,
		ExpiresAt:      time.Now().Add(time.Hour).UnixMilli(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpenLoadsSubscribesAndAnnounces(t *testing.T) {
	f := newFixture(t)

	sess, err := f.coord.Open(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if sess.State() != StateOpen {
		t.Errorf("state = %s, want open", sess.State())
	}
	if f.refresh.calls != 1 {
		t.Errorf("refresh calls = %d, want 1", f.refresh.calls)
	}
	if !f.notifier.registry.Active("trade:t1") {
		t.Error("no live subscription for trade channel")
	}
	if len(f.presence.online) != 1 || f.presence.online[0] != "t1" {
		t.Errorf("presence online = %v", f.presence.online)
	}
}

func TestOpenTwiceKeepsOneSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.coord.Open(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.coord.Open(ctx, "t1"); err != nil {
		t.Fatal(err)
	}

	if n := f.notifier.registry.Len(); n != 1 {
		t.Errorf("live subscriptions = %d, want 1", n)
	}
	if f.notifier.opens != 2 || f.notifier.releases != 1 {
		t.Errorf("opens = %d releases = %d, want 2 and 1", f.notifier.opens, f.notifier.releases)
	}
	if len(f.coord.Sessions()) != 1 {
		t.Errorf("sessions = %d, want 1", len(f.coord.Sessions()))
	}
}

func TestConcurrentOpensThenCloseLeavesNoSubscription(t *testing.T) {
	f := newFixture(t)
	f.refresh.delay = 20 * time.Millisecond
	ctx := context.Background()

	// Racing Opens for one trade must serialize: the session left in the
	// coordinator has to own the live handle, or Close leaks it.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.coord.Open(ctx, "t1"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if n := f.notifier.registry.Len(); n != 1 {
		t.Fatalf("live subscriptions after racing opens = %d, want 1", n)
	}
	if err := f.coord.Close(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if n := f.notifier.registry.Len(); n != 0 {
		t.Errorf("live subscriptions after close = %d, want 0 (leaked handle)", n)
	}
	if f.notifier.opens != f.notifier.releases {
		t.Errorf("opens = %d releases = %d, every subscription must be released",
			f.notifier.opens, f.notifier.releases)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.coord.Open(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.coord.Close(ctx, "t1"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if n := f.notifier.registry.Len(); n != 0 {
		t.Errorf("live subscriptions after close = %d, want 0", n)
	}
	if sess.State() != StateClosed {
		t.Errorf("state = %s, want closed", sess.State())
	}
	if f.coord.Get("t1") != nil {
		t.Error("session still registered after close")
	}
	if len(f.presence.offline) != 1 {
		t.Errorf("presence offline = %v", f.presence.offline)
	}
}

func TestCloseWithoutSessionIsNoOp(t *testing.T) {
	f := newFixture(t)
	if err := f.coord.Close(context.Background(), "t1"); err != nil {
		t.Errorf("Close() on missing session = %v, want nil", err)
	}
}

func TestOpenDegradedWhenSubscribeFails(t *testing.T) {
	f := newFixture(t)
	f.notifier.subErr = errors.New("notifier down")

	sess, err := f.coord.Open(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Open() error = %v, degraded open must succeed", err)
	}
	if sess.State() != StateDegraded {
		t.Errorf("state = %s, want degraded", sess.State())
	}
	if f.notifier.registry.Len() != 0 {
		t.Error("failed subscribe left a registry entry")
	}
	// The session is still served and presence still announced.
	if f.coord.Get("t1") == nil {
		t.Error("degraded session not registered")
	}
	if len(f.presence.online) != 1 {
		t.Error("presence not announced for degraded session")
	}
}

func TestOpenFailsWhenInitialLoadFails(t *testing.T) {
	f := newFixture(t)
	f.refresh.err = errors.New("backend down")

	if _, err := f.coord.Open(context.Background(), "t1"); err == nil {
		t.Fatal("Open() should fail when the initial load fails")
	}
	if f.coord.Get("t1") != nil {
		t.Error("failed open left a registered session")
	}
	if len(f.presence.online) != 0 {
		t.Error("presence announced for failed session")
	}
	if f.notifier.registry.Len() != 0 {
		t.Error("failed open left a subscription")
	}
}

func TestViewMergesCachedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedOffer(t, f.db, "pending")
	if err := f.db.UpsertParticipant(&store.Participant{TradeID: "t1", UserID: "user-a", PresenceStatus: "online", LastSeen: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := f.db.UpsertMessage(&store.Message{TradeID: "t1", MsgID: "s1", SenderID: "user-a", Body: "hi", Status: "received", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.coord.Open(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	view, err := f.coord.View("t1")
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if view.Offer == nil || view.Offer.ID != "t1" {
		t.Errorf("view offer = %+v", view.Offer)
	}
	if len(view.Participants) != 1 || len(view.Messages) != 1 {
		t.Errorf("view slices = %d participants, %d messages", len(view.Participants), len(view.Messages))
	}
	// Acting user is the recipient: accept and reject apply, cancel does not.
	if len(view.Actions) != 2 || view.Actions[0] != "accept" || view.Actions[1] != "reject" {
		t.Errorf("actions = %v, want [accept reject]", view.Actions)
	}
}

func TestViewActionsEmptyForSettledOffer(t *testing.T) {
	f := newFixture(t)
	seedOffer(t, f.db, "accepted")

	if _, err := f.coord.Open(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	view, err := f.coord.View("t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Actions) != 0 {
		t.Errorf("actions = %v, want none for a settled offer", view.Actions)
	}
}

func TestViewWithoutSession(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coord.View("t1"); !errors.Is(err, ErrNoSession) {
		t.Errorf("View() error = %v, want ErrNoSession", err)
	}
}

func TestSettledTradeClosesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedOffer(t, f.db, "pending")

	f.coord.Start()
	defer f.coord.Stop()

	if _, err := f.coord.Open(ctx, "t1"); err != nil {
		t.Fatal(err)
	}

	// The offer settles and the ingestion engine announces the update.
	seedOffer(t, f.db, "accepted")
	f.bus.Publish(bus.Event{Kind: "trade.updated", TradeID: "t1", Timestamp: time.Now()})

	deadline := time.After(2 * time.Second)
	for f.coord.Get("t1") != nil {
		select {
		case <-deadline:
			t.Fatal("session not closed after trade settled")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if f.notifier.registry.Len() != 0 {
		t.Error("subscription still live after auto close")
	}
}

func TestStateMachineEdges(t *testing.T) {
	m := NewMachine()
	if m.Current() != StateClosed {
		t.Fatalf("initial state = %s", m.Current())
	}
	if err := m.Transition(StateOpen); err == nil {
		t.Error("closed -> open must be invalid")
	}
	if err := m.Transition(StateOpening); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(StateDegraded); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(StateOpen); err != nil {
		t.Errorf("degraded -> open should be valid (resubscribe): %v", err)
	}
	if err := m.Transition(StateClosed); err != nil {
		t.Fatal(err)
	}
}
