package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/streambot/backend/command"
	"github.com/onnwee/streambot/backend/telemetry"
)

func init() { telemetry.Init() }

var errBadCursor = errors.New("page token invalid")

// fakeAPI scripts poll responses keyed by cursor.
type fakeAPI struct {
	mu         sync.Mutex
	primes     int
	polls      []string // cursors seen by Poll, in order
	pages      map[string]*Page
	pollErr  map[string]error
	primeErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{pages: map[string]*Page{}, pollErr: map[string]error{}}
}

func (f *fakeAPI) Prime(ctx context.Context, chatID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.primeErr != nil {
		return "", f.primeErr
	}
	f.primes++
	return fmt.Sprintf("primed-%d", f.primes), nil
}

func (f *fakeAPI) Poll(ctx context.Context, chatID, cursor string) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = append(f.polls, cursor)
	if err, ok := f.pollErr[cursor]; ok {
		return nil, err
	}
	if p, ok := f.pages[cursor]; ok {
		return p, nil
	}
	return &Page{NextCursor: cursor}, nil
}

func (f *fakeAPI) Send(ctx context.Context, chatID, text string) error { return nil }

type memStore struct {
	mu sync.Mutex
	rt map[string]*Runtime
}

func newMemStore(accounts ...string) *memStore {
	s := &memStore{rt: map[string]*Runtime{}}
	for _, a := range accounts {
		s.rt[a] = &Runtime{LiveChatID: "chat-" + a}
	}
	return s
}

func (s *memStore) GetAccountRuntime(_ context.Context, id string) (*Runtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rt, ok := s.rt[id]; ok {
		cp := *rt
		return &cp, nil
	}
	return &Runtime{}, nil
}

func (s *memStore) SaveAccountRuntime(_ context.Context, id string, rt *Runtime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rt
	s.rt[id] = &cp
	return nil
}

type dispatchRecorder struct {
	mu   sync.Mutex
	msgs []command.Message
}

func (r *dispatchRecorder) dispatch(_ context.Context, msg command.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *dispatchRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func textItem(text string, at time.Time) Item {
	return Item{Kind: KindTextMessage, Text: text, AuthorDisplayName: "viewer", AuthorID: "u1", PublishedAt: at}
}

func newTestEngine(api *fakeAPI, store *memStore, rec *dispatchRecorder) *Engine {
	e := NewEngine(api, store, rec.dispatch)
	e.IsInvalidCursor = func(err error) bool { return errors.Is(err, errBadCursor) }
	e.FallbackDelay = 70 * time.Millisecond
	e.RecoveryDelay = 10 * time.Millisecond
	return e
}

func TestPrimeIsIdempotent(t *testing.T) {
	api := newFakeAPI()
	store := newMemStore("a")
	rec := &dispatchRecorder{}
	e := newTestEngine(api, store, rec)
	ctx := context.Background()

	if err := e.Prime(ctx, "a"); err != nil {
		t.Fatalf("prime 1: %v", err)
	}
	if err := e.Prime(ctx, "a"); err != nil {
		t.Fatalf("prime 2: %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("prime dispatched %d items, want 0", rec.count())
	}
	rt, _ := store.GetAccountRuntime(ctx, "a")
	if !rt.Primed || rt.Cursor != "primed-2" {
		t.Fatalf("runtime after prime = %+v", rt)
	}
}

func TestPollOnceDispatchesTextItems(t *testing.T) {
	api := newFakeAPI()
	store := newMemStore("a")
	rec := &dispatchRecorder{}
	e := newTestEngine(api, store, rec)
	now := time.Now().UTC()

	api.pages[""] = &Page{
		Items: []Item{
			textItem("!ping", now.Add(time.Second)),
			{Kind: "superChatEvent", Text: "$5", PublishedAt: now.Add(time.Second)},
			textItem("hello", now.Add(2 * time.Second)),
		},
		NextCursor:     "c1",
		SuggestedDelay: 1500 * time.Millisecond,
	}

	res, err := e.PollOnce(context.Background(), "a")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Received != 3 || res.Handled != 2 {
		t.Errorf("received=%d handled=%d, want 3/2", res.Received, res.Handled)
	}
	if res.NextDelay != 1500*time.Millisecond {
		t.Errorf("delay = %v, want server hint 1.5s", res.NextDelay)
	}
	rt, _ := store.GetAccountRuntime(context.Background(), "a")
	if rt.Cursor != "c1" {
		t.Errorf("cursor not advanced: %q", rt.Cursor)
	}
	if rec.count() != 2 {
		t.Fatalf("dispatched = %d", rec.count())
	}
	if got := rec.msgs[0]; got.Platform != "youtube" || got.Text != "!ping" {
		t.Errorf("message = %+v", got)
	}
}

func TestPollOnceDropsHistoryBeforeStart(t *testing.T) {
	api := newFakeAPI()
	store := newMemStore("a")
	rec := &dispatchRecorder{}
	e := newTestEngine(api, store, rec)

	api.pages[""] = &Page{
		Items: []Item{
			textItem("old backlog", e.startedAt.Add(-time.Minute)),
			textItem("fresh", e.startedAt.Add(time.Second)),
		},
		NextCursor: "c1",
	}

	res, err := e.PollOnce(context.Background(), "a")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Handled != 1 || rec.count() != 1 {
		t.Fatalf("handled=%d dispatched=%d, want 1/1", res.Handled, rec.count())
	}
	if rec.msgs[0].Text != "fresh" {
		t.Errorf("dispatched %q, want the fresh item", rec.msgs[0].Text)
	}
}

func TestPollOnceFallbackDelayWhenNoHint(t *testing.T) {
	api := newFakeAPI()
	store := newMemStore("a")
	rec := &dispatchRecorder{}
	e := newTestEngine(api, store, rec)
	api.pages[""] = &Page{NextCursor: "c1"}

	res, err := e.PollOnce(context.Background(), "a")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.NextDelay != e.FallbackDelay {
		t.Errorf("delay = %v, want fallback %v", res.NextDelay, e.FallbackDelay)
	}
}

func TestPollOnceInvalidCursorReprimesExactlyOnce(t *testing.T) {
	api := newFakeAPI()
	store := newMemStore("a")
	store.rt["a"].Cursor = "stale"
	rec := &dispatchRecorder{}
	e := newTestEngine(api, store, rec)

	api.pollErr["stale"] = errBadCursor
	api.pages["primed-1"] = &Page{
		Items:      []Item{textItem("!ping", time.Now().UTC().Add(time.Second))},
		NextCursor: "c2",
	}

	res, err := e.PollOnce(context.Background(), "a")
	if err != nil {
		t.Fatalf("poll after re-prime: %v", err)
	}
	if api.primes != 1 {
		t.Fatalf("primes = %d, want exactly 1", api.primes)
	}
	if len(api.polls) != 2 || api.polls[0] != "stale" || api.polls[1] != "primed-1" {
		t.Fatalf("polls = %v, want [stale primed-1]", api.polls)
	}
	if res.Handled != 1 {
		t.Errorf("handled = %d", res.Handled)
	}
	rt, _ := store.GetAccountRuntime(context.Background(), "a")
	if rt.Cursor != "c2" {
		t.Errorf("cursor = %q, want c2", rt.Cursor)
	}
}

func TestPollOnceInvalidCursorOnRetryGivesUp(t *testing.T) {
	api := newFakeAPI()
	store := newMemStore("a")
	store.rt["a"].Cursor = "stale"
	rec := &dispatchRecorder{}
	e := newTestEngine(api, store, rec)

	api.pollErr["stale"] = errBadCursor
	api.pollErr["primed-1"] = errBadCursor

	if _, err := e.PollOnce(context.Background(), "a"); err == nil {
		t.Fatal("expected error when retry also fails")
	}
	if api.primes != 1 {
		t.Fatalf("primes = %d, re-prime must happen exactly once per poll", api.primes)
	}
}

func TestPollOnceOtherErrorKeepsCursor(t *testing.T) {
	api := newFakeAPI()
	store := newMemStore("a")
	store.rt["a"].Cursor = "keep"
	rec := &dispatchRecorder{}
	e := newTestEngine(api, store, rec)
	api.pollErr["keep"] = errors.New("network blip")

	res, err := e.PollOnce(context.Background(), "a")
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if res.NextDelay != e.RecoveryDelay {
		t.Errorf("delay = %v, want recovery delay", res.NextDelay)
	}
	if api.primes != 0 {
		t.Error("transient error must not re-prime")
	}
	rt, _ := store.GetAccountRuntime(context.Background(), "a")
	if rt.Cursor != "keep" {
		t.Errorf("cursor changed on error: %q", rt.Cursor)
	}
}

func TestPollLoopRetriesAndCancels(t *testing.T) {
	api := newFakeAPI()
	store := newMemStore("a")
	rec := &dispatchRecorder{}
	e := newTestEngine(api, store, rec)
	e.FallbackDelay = 5 * time.Millisecond
	e.RecoveryDelay = 5 * time.Millisecond
	api.pollErr[""] = errors.New("flaky")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.PollLoop(ctx, "a")
		close(done)
	}()

	// Let it spin through a few error cycles, then cancel.
	time.Sleep(40 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poll loop did not stop on cancel")
	}

	api.mu.Lock()
	cycles := len(api.polls)
	api.mu.Unlock()
	if cycles < 2 {
		t.Fatalf("loop aborted after %d cycles; must retry on error", cycles)
	}
}
