package command

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/streambot/backend/telemetry"
)

func init() { telemetry.Init() }

// recorder captures replies sent through a context transport.
type recorder struct {
	platform string
	sent     []string
}

func (r *recorder) Type() string { return r.platform }
func (r *recorder) Send(_ context.Context, text string) error {
	r.sent = append(r.sent, text)
	return nil
}

type fakeCustomStore struct {
	template string
	scope    string
	ok       bool
	err      error
}

func (f *fakeCustomStore) GetCustomCommand(context.Context, string, string) (string, string, bool, error) {
	return f.template, f.scope, f.ok, f.err
}

type fakeCountStore struct {
	template string
	count    int64
	ok       bool
	calls    int
}

func (f *fakeCountStore) IncrementCountCommand(context.Context, string, string, string) (string, int64, bool, error) {
	f.calls++
	f.count++
	return f.template, f.count, f.ok, nil
}

func testMessage(text string, tr Transport) Message {
	return Message{
		Text:      text,
		Author:    "viewer",
		AuthorID:  "u1",
		Platform:  "youtube",
		AccountID: "acct",
		ChannelID: "chan",
		Transport: tr,
	}
}

func TestDispatchDottedFormExactlyOnce(t *testing.T) {
	var calls int
	var gotArgs []string
	upgrade := &Command{Name: "upgrade", Handler: func(c *Context) {
		calls++
		gotArgs = c.Args
	}}
	d := &Dispatcher{Registry: NewRegistry(testModule("racing", upgrade)), Prefix: "!"}

	d.Dispatch(context.Background(), testMessage("!racing.upgrade tires", &recorder{}))

	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	if len(gotArgs) != 1 || gotArgs[0] != "tires" {
		t.Errorf("args = %v, want [tires]", gotArgs)
	}
}

func TestDispatchSpaceForm(t *testing.T) {
	var gotArgs []string
	upgrade := &Command{Name: "upgrade", Handler: func(c *Context) { gotArgs = c.Args }}
	d := &Dispatcher{Registry: NewRegistry(testModule("racing", upgrade)), Prefix: "!"}

	d.Dispatch(context.Background(), testMessage("!racing upgrade tires wide", nil))

	if len(gotArgs) != 2 || gotArgs[0] != "tires" || gotArgs[1] != "wide" {
		t.Errorf("args = %v, want [tires wide]", gotArgs)
	}
}

func TestDispatchSpaceFormCaseInsensitive(t *testing.T) {
	// Module and command tokens match case-insensitively in every syntax;
	// only the real arguments keep their case.
	var calls int
	var gotArgs []string
	upgrade := &Command{Name: "upgrade", Handler: func(c *Context) {
		calls++
		gotArgs = c.Args
	}}
	d := &Dispatcher{Registry: NewRegistry(testModule("racing", upgrade)), Prefix: "!"}

	d.Dispatch(context.Background(), testMessage("!racing Upgrade Tires", nil))

	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	if len(gotArgs) != 1 || gotArgs[0] != "Tires" {
		t.Errorf("args = %v, want [Tires]", gotArgs)
	}
}

func TestDispatchFlatForm(t *testing.T) {
	// No module named "joke", but module "league" registers command "joke" flatly.
	var calls int
	joke := &Command{Name: "joke", Handler: func(*Context) { calls++ }}
	d := &Dispatcher{Registry: NewRegistry(testModule("league", joke)), Prefix: "!"}

	d.Dispatch(context.Background(), testMessage("!joke", nil))

	if calls != 1 {
		t.Fatalf("flat handler calls = %d, want 1", calls)
	}
}

func TestDispatchBareModuleTokenFallsThroughToFlat(t *testing.T) {
	// "racing" is both a module name and a flat command registered by "stats".
	// A bare module token with no matching subcommand resolves via the flat tier.
	var flatCalls int
	upgrade := &Command{Name: "upgrade", Handler: func(*Context) { t.Fatal("module tier should not fire") }}
	racingStat := &Command{Name: "racing", Handler: func(*Context) { flatCalls++ }}
	d := &Dispatcher{
		Registry: NewRegistry(testModule("racing", upgrade), testModule("stats", racingStat)),
		Prefix:   "!",
	}

	d.Dispatch(context.Background(), testMessage("!racing", nil))

	if flatCalls != 1 {
		t.Fatalf("flat calls = %d, want 1", flatCalls)
	}
}

func TestDispatchNoPrefixZeroSideEffects(t *testing.T) {
	var calls int
	cmd := &Command{Name: "ping", Handler: func(*Context) { calls++ }}
	counts := &fakeCountStore{template: "{count}", ok: true}
	d := &Dispatcher{Registry: NewRegistry(testModule("general", cmd)), Prefix: "!", Counts: counts}

	d.Dispatch(context.Background(), testMessage("ping without prefix", nil))

	if calls != 0 || counts.calls != 0 {
		t.Fatalf("expected zero side effects, handler=%d store=%d", calls, counts.calls)
	}
}

func TestDispatchNoMatchIsNoOp(t *testing.T) {
	d := &Dispatcher{Registry: NewRegistry(), Prefix: "!"}
	// Must not panic or reply.
	d.Dispatch(context.Background(), testMessage("!unknown thing", nil))
}

func TestDispatchDisabledModuleIgnored(t *testing.T) {
	var calls int
	cmd := &Command{Name: "upgrade", Handler: func(*Context) { calls++ }}
	d := &Dispatcher{
		Registry: NewRegistry(testModule("racing", cmd)),
		Prefix:   "!",
		Disabled: func(accountID, platform, module string) bool { return module == "racing" },
	}

	d.Dispatch(context.Background(), testMessage("!racing.upgrade", nil))
	d.Dispatch(context.Background(), testMessage("!upgrade", nil))

	if calls != 0 {
		t.Fatalf("disabled module handler calls = %d, want 0", calls)
	}
}

func TestDispatchMiddlewareOrderAndHalt(t *testing.T) {
	var order []string
	mod := testModule("mod", &Command{
		Name: "cmd",
		Middleware: []Middleware{func(c *Context, proceed func()) {
			order = append(order, "command")
			proceed()
		}},
		Handler: func(*Context) { order = append(order, "handler") },
	})
	mod.Middleware = []Middleware{func(c *Context, proceed func()) {
		order = append(order, "module")
		proceed()
	}}
	d := &Dispatcher{Registry: NewRegistry(mod), Prefix: "!"}

	d.Dispatch(context.Background(), testMessage("!mod.cmd", nil))

	want := []string{"module", "command", "handler"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestDispatchAdminGateSilentHalt(t *testing.T) {
	var calls int
	rec := &recorder{platform: "youtube"}
	mod := testModule("mod", &Command{
		Name:       "purge",
		Middleware: []Middleware{RequireAdmin},
		Handler:    func(*Context) { calls++ },
	})
	d := &Dispatcher{Registry: NewRegistry(mod), Prefix: "!"}

	msg := testMessage("!mod.purge", rec)
	msg.IsAdmin = false
	d.Dispatch(context.Background(), msg)

	if calls != 0 {
		t.Fatal("admin gate did not halt the chain")
	}
	if len(rec.sent) != 0 {
		t.Fatalf("admin gate replied: %v", rec.sent)
	}

	msg.IsAdmin = true
	d.Dispatch(context.Background(), msg)
	if calls != 1 {
		t.Fatalf("admin call count = %d, want 1", calls)
	}
}

func TestDispatchPanicSwallowed(t *testing.T) {
	rec := &recorder{platform: "youtube"}
	mod := testModule("mod", &Command{Name: "boom", Handler: func(*Context) { panic("bug") }})
	d := &Dispatcher{Registry: NewRegistry(mod), Prefix: "!"}

	d.Dispatch(context.Background(), testMessage("!mod.boom", rec))

	if len(rec.sent) != 0 {
		t.Fatalf("internal error leaked to chat: %v", rec.sent)
	}
}

func TestDispatchCustomCommandScope(t *testing.T) {
	store := &fakeCustomStore{template: "welcome to {channel}", scope: "youtube", ok: true}
	d := &Dispatcher{Registry: NewRegistry(), Prefix: "!", Custom: store}

	rec := &recorder{platform: "youtube"}
	msg := testMessage("!welcome", rec)
	msg.Vars = map[string]string{"channel": "the stream"}
	d.Dispatch(context.Background(), msg)

	if len(rec.sent) != 1 || rec.sent[0] != "welcome to the stream" {
		t.Fatalf("sent = %v", rec.sent)
	}

	// Same command on the wrong platform: ignored.
	rec2 := &recorder{platform: "discord"}
	msg2 := msg
	msg2.Platform = "discord"
	msg2.Transport = rec2
	d.Dispatch(context.Background(), msg2)
	if len(rec2.sent) != 0 {
		t.Fatalf("scope not enforced: %v", rec2.sent)
	}
}

func TestDispatchCustomCommandScopeBoth(t *testing.T) {
	store := &fakeCustomStore{template: "hi", scope: "both", ok: true}
	d := &Dispatcher{Registry: NewRegistry(), Prefix: "!", Custom: store}

	for _, platform := range []string{"youtube", "discord"} {
		rec := &recorder{platform: platform}
		msg := testMessage("!hi", rec)
		msg.Platform = platform
		d.Dispatch(context.Background(), msg)
		if len(rec.sent) != 1 {
			t.Errorf("platform %s: sent = %v", platform, rec.sent)
		}
	}
}

func TestDispatchCountCommandAdminOnly(t *testing.T) {
	store := &fakeCountStore{template: "fallen {count} times", ok: true}
	d := &Dispatcher{Registry: NewRegistry(), Prefix: "!", Counts: store}

	// Non-admin: silent, not even an increment.
	rec := &recorder{platform: "youtube"}
	d.Dispatch(context.Background(), testMessage("!falls", rec))
	if store.calls != 0 || len(rec.sent) != 0 {
		t.Fatalf("non-admin count command ran: calls=%d sent=%v", store.calls, rec.sent)
	}

	// Admin: increments and substitutes the counter.
	msg := testMessage("!falls", rec)
	msg.IsAdmin = true
	d.Dispatch(context.Background(), msg)
	d.Dispatch(context.Background(), msg)
	if store.calls != 2 {
		t.Fatalf("increments = %d, want 2", store.calls)
	}
	if len(rec.sent) != 2 || rec.sent[0] != "fallen 1 times" || rec.sent[1] != "fallen 2 times" {
		t.Fatalf("sent = %v", rec.sent)
	}
}

func TestDispatchCountCommandDisabled(t *testing.T) {
	store := &fakeCountStore{template: "fallen {count} times", ok: true}
	d := &Dispatcher{
		Registry: NewRegistry(),
		Prefix:   "!",
		Counts:   store,
		Disabled: func(accountID, platform, module string) bool { return module == "falls" },
	}

	rec := &recorder{platform: "youtube"}
	msg := testMessage("!falls", rec)
	msg.IsAdmin = true
	d.Dispatch(context.Background(), msg)

	if store.calls != 0 {
		t.Fatalf("disabled count command incremented: calls=%d", store.calls)
	}
	if len(rec.sent) != 0 {
		t.Fatalf("disabled count command replied: %v", rec.sent)
	}
}

func TestDispatchRegisteredBeatsCustom(t *testing.T) {
	var calls int
	cmd := &Command{Name: "welcome", Handler: func(*Context) { calls++ }}
	store := &fakeCustomStore{template: "should not fire", scope: "both", ok: true}
	d := &Dispatcher{Registry: NewRegistry(testModule("general", cmd)), Prefix: "!", Custom: store}

	rec := &recorder{platform: "youtube"}
	d.Dispatch(context.Background(), testMessage("!welcome", rec))

	if calls != 1 || len(rec.sent) != 0 {
		t.Fatalf("flat tier should win over custom: calls=%d sent=%v", calls, rec.sent)
	}
}

func TestDispatchCustomStoreErrorSwallowed(t *testing.T) {
	store := &fakeCustomStore{err: errors.New("db down")}
	d := &Dispatcher{Registry: NewRegistry(), Prefix: "!", Custom: store}
	rec := &recorder{platform: "youtube"}
	d.Dispatch(context.Background(), testMessage("!welcome", rec))
	if len(rec.sent) != 0 {
		t.Fatalf("error leaked to chat: %v", rec.sent)
	}
}
