package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sydlexius/pushhook/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeNotifier records sends and returns a canned outcome.
type fakeNotifier struct {
	name     provider.Name
	validate func(provider.Message) error
	send     func(context.Context, provider.Message) (json.RawMessage, error)

	mu    sync.Mutex
	calls []provider.Message
}

func (f *fakeNotifier) Name() provider.Name { return f.name }

func (f *fakeNotifier) Validate(msg provider.Message) error {
	if f.validate != nil {
		return f.validate(msg)
	}
	return nil
}

func (f *fakeNotifier) Send(ctx context.Context, _ provider.Credentials, msg provider.Message) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.mu.Unlock()
	if f.send != nil {
		return f.send(ctx, msg)
	}
	return json.RawMessage(`{"status":1}`), nil
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var allCreds = provider.StaticCredentials{
	provider.NamePushover: {"app_token": "a", "user_key": "u"},
	provider.NameTelegram: {"bot_token": "b", "chat_id": "c"},
}

func newDispatcher(notifiers ...provider.Notifier) *Dispatcher {
	reg := provider.NewRegistry()
	for _, n := range notifiers {
		reg.Register(n)
	}
	return New(reg, allCreds, testLogger())
}

func TestDispatch_AllSucceed(t *testing.T) {
	po := &fakeNotifier{name: provider.NamePushover}
	tg := &fakeNotifier{name: provider.NameTelegram, send: func(context.Context, provider.Message) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	}}
	d := newDispatcher(po, tg)

	res := d.Dispatch(context.Background(), []provider.Name{"pushover", "telegram"}, provider.Message{Text: "hi"})
	if !res.OK {
		t.Fatalf("OK = false, errors %v", res.Errors())
	}
	if len(res.Outcomes) != 2 || res.Outcomes[0].Provider != provider.NamePushover || res.Outcomes[1].Provider != provider.NameTelegram {
		t.Errorf("outcome order = %+v", res.Outcomes)
	}
	if len(res.Errors()) != 0 {
		t.Errorf("Errors = %v, want none", res.Errors())
	}
}

func TestDispatch_PartialFailureIsOK(t *testing.T) {
	po := &fakeNotifier{name: provider.NamePushover}
	tg := &fakeNotifier{name: provider.NameTelegram, send: func(context.Context, provider.Message) (json.RawMessage, error) {
		return nil, &provider.ErrTransport{Provider: provider.NameTelegram, StatusCode: 401, Errors: []string{"Unauthorized"}}
	}}
	d := newDispatcher(po, tg)

	res := d.Dispatch(context.Background(), []provider.Name{"pushover", "telegram"}, provider.Message{Text: "hi"})
	if !res.OK {
		t.Fatal("expected OK with one success")
	}
	o, _ := res.Outcome(provider.NameTelegram)
	if o.OK() {
		t.Error("expected telegram outcome to fail")
	}
	errs := res.Errors()
	if len(errs) != 1 || errs[0] != "telegram: status 401: Unauthorized" {
		t.Errorf("Errors = %v", errs)
	}
}

func TestDispatch_UnknownProviderCountsAsFailure(t *testing.T) {
	d := newDispatcher(&fakeNotifier{name: provider.NamePushover})

	res := d.Dispatch(context.Background(), []provider.Name{"sms"}, provider.Message{Text: "hi"})
	if res.OK {
		t.Fatal("expected failure for unknown provider only")
	}
	o, ok := res.Outcome("sms")
	if !ok {
		t.Fatal("expected an outcome for sms")
	}
	var unknown *provider.ErrUnknownProvider
	if !errors.As(o.Err, &unknown) {
		t.Errorf("expected *ErrUnknownProvider, got %v", o.Err)
	}

	mixed := d.Dispatch(context.Background(), []provider.Name{"sms", "pushover"}, provider.Message{Text: "hi"})
	if !mixed.OK {
		t.Error("expected OK when a known provider succeeds alongside an unknown one")
	}
}

func TestDispatch_ValidationFailureSkipsSend(t *testing.T) {
	po := &fakeNotifier{name: provider.NamePushover, validate: func(m provider.Message) error {
		if m.Priority == 2 && (m.Retry == 0 || m.Expire == 0) {
			return &provider.ErrValidation{Provider: provider.NamePushover, Fields: []string{"retry", "expire"}, Reason: "priority=2 requires retry and expire"}
		}
		return nil
	}}
	tg := &fakeNotifier{name: provider.NameTelegram}
	d := newDispatcher(po, tg)

	res := d.Dispatch(context.Background(), []provider.Name{"pushover", "telegram"}, provider.Message{Text: "hi", Priority: 2})
	if po.callCount() != 0 {
		t.Errorf("pushover Send calls = %d, want 0", po.callCount())
	}
	if tg.callCount() != 1 {
		t.Errorf("telegram Send calls = %d, want 1", tg.callCount())
	}
	if !res.OK {
		t.Error("expected OK: telegram ignores priority")
	}
	o, _ := res.Outcome(provider.NamePushover)
	var vErr *provider.ErrValidation
	if !errors.As(o.Err, &vErr) {
		t.Errorf("expected *ErrValidation, got %v", o.Err)
	}
}

func TestDispatch_MissingCredentials(t *testing.T) {
	reg := provider.NewRegistry()
	po := &fakeNotifier{name: provider.NamePushover}
	reg.Register(po)
	d := New(reg, provider.StaticCredentials{}, testLogger())

	res := d.Dispatch(context.Background(), []provider.Name{"pushover"}, provider.Message{Text: "hi"})
	if res.OK {
		t.Fatal("expected failure without credentials")
	}
	var credErr *provider.ErrCredential
	if !errors.As(res.Outcomes[0].Err, &credErr) {
		t.Errorf("expected *ErrCredential, got %v", res.Outcomes[0].Err)
	}
	if po.callCount() != 0 {
		t.Error("Send must not run without credentials")
	}
}

func TestDispatch_DuplicateNamesSentOnce(t *testing.T) {
	po := &fakeNotifier{name: provider.NamePushover}
	d := newDispatcher(po)

	res := d.Dispatch(context.Background(), []provider.Name{"pushover", "pushover"}, provider.Message{Text: "hi"})
	if len(res.Outcomes) != 1 {
		t.Errorf("outcomes = %d, want 1", len(res.Outcomes))
	}
	if po.callCount() != 1 {
		t.Errorf("calls = %d, want 1", po.callCount())
	}
}

func TestDispatch_NoDeduplicationAcrossCalls(t *testing.T) {
	po := &fakeNotifier{name: provider.NamePushover}
	d := newDispatcher(po)

	for range 3 {
		d.Dispatch(context.Background(), []provider.Name{"pushover"}, provider.Message{Text: "same"})
	}
	if po.callCount() != 3 {
		t.Errorf("calls = %d, want 3 identical sends", po.callCount())
	}
}

func TestDispatch_RunsConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	slow := func(context.Context, provider.Message) (json.RawMessage, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return json.RawMessage(`{}`), nil
	}
	d := newDispatcher(
		&fakeNotifier{name: provider.NamePushover, send: slow},
		&fakeNotifier{name: provider.NameTelegram, send: slow},
	)

	done := make(chan *Result, 1)
	go func() {
		done <- d.Dispatch(context.Background(), []provider.Name{"pushover", "telegram"}, provider.Message{Text: "hi"})
	}()

	deadline := time.After(2 * time.Second)
	for peak.Load() < 2 {
		select {
		case <-deadline:
			close(release)
			t.Fatal("providers did not run concurrently")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(release)
	if res := <-done; !res.OK {
		t.Error("expected OK")
	}
}

func TestDispatch_CallerCancellationDoesNotAbortSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	po := &fakeNotifier{name: provider.NamePushover, send: func(sendCtx context.Context, _ provider.Message) (json.RawMessage, error) {
		cancel()
		select {
		case <-sendCtx.Done():
			return nil, sendCtx.Err()
		case <-time.After(20 * time.Millisecond):
			return json.RawMessage(`{}`), nil
		}
	}}
	d := newDispatcher(po)

	if res := d.Dispatch(ctx, []provider.Name{"pushover"}, provider.Message{Text: "hi"}); !res.OK {
		t.Errorf("send aborted by caller cancellation: %v", res.Errors())
	}
}

func TestDispatch_TimeoutBoundsSend(t *testing.T) {
	po := &fakeNotifier{name: provider.NamePushover, send: func(ctx context.Context, _ provider.Message) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, &provider.ErrTransport{Provider: provider.NamePushover, Cause: ctx.Err()}
	}}
	d := newDispatcher(po)
	d.SetTimeout(20 * time.Millisecond)

	res := d.Dispatch(context.Background(), []provider.Name{"pushover"}, provider.Message{Text: "hi"})
	if res.OK {
		t.Fatal("expected timeout failure")
	}
	if !errors.Is(res.Outcomes[0].Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want deadline exceeded", res.Outcomes[0].Err)
	}
}

func TestDispatch_PanicIsIsolated(t *testing.T) {
	d := newDispatcher(
		&fakeNotifier{name: provider.NamePushover, send: func(context.Context, provider.Message) (json.RawMessage, error) {
			panic("boom")
		}},
		&fakeNotifier{name: provider.NameTelegram},
	)
	res := d.Dispatch(context.Background(), []provider.Name{"pushover", "telegram"}, provider.Message{Text: "hi"})
	if !res.OK {
		t.Fatal("expected telegram success despite pushover panic")
	}
	if o, _ := res.Outcome(provider.NamePushover); o.OK() {
		t.Error("expected pushover failure")
	}
}

func TestResultJSON(t *testing.T) {
	success := &Result{OK: true, Outcomes: []Outcome{
		{Provider: provider.NameTelegram, Result: json.RawMessage(`{"ok":true}`)},
		{Provider: provider.NamePushover, Result: json.RawMessage(`{"status":1}`)},
	}}
	got, err := json.Marshal(success)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"ok":true,"results":{"telegram":{"ok":true,"result":{"ok":true}},"pushover":{"ok":true,"result":{"status":1}}}}`
	if string(got) != want {
		t.Errorf("success JSON =\n%s\nwant\n%s", got, want)
	}

	failure := &Result{Outcomes: []Outcome{
		{Provider: provider.NamePushover, Err: &provider.ErrValidation{Provider: provider.NamePushover, Reason: "priority=2 requires retry and expire"}},
	}}
	got, err = json.Marshal(failure)
	if err != nil {
		t.Fatal(err)
	}
	want = `{"ok":false,"results":{"pushover":{"ok":false,"error":"priority=2 requires retry and expire"},"error":["pushover: priority=2 requires retry and expire"]}}`
	if string(got) != want {
		t.Errorf("failure JSON =\n%s\nwant\n%s", got, want)
	}

	rejected, err := json.Marshal(Rejected(&ValidationError{Field: "priority", Reason: "must be an integer"}))
	if err != nil {
		t.Fatal(err)
	}
	want = `{"ok":false,"results":{"error":["priority: must be an integer"]}}`
	if string(rejected) != want {
		t.Errorf("rejected JSON = %s, want %s", rejected, want)
	}
	if !strings.Contains(string(rejected), `"ok":false`) {
		t.Error("rejected must not be ok")
	}
}
