package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sydlexius/pushhook/internal/provider"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 10 * time.Second

// Outcome is one provider's share of a dispatch.
type Outcome struct {
	Provider provider.Name
	Result   json.RawMessage // upstream body on success
	Err      error
}

// OK reports whether the provider accepted the message.
func (o Outcome) OK() bool { return o.Err == nil }

// MarshalJSON renders {"ok":true,"result":...} or {"ok":false,"error":"..."}.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Err != nil {
		return json.Marshal(struct {
			OK    bool   `json:"ok"`
			Error string `json:"error"`
		}{false, provider.Detail(o.Err)})
	}
	result := o.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return json.Marshal(struct {
		OK     bool            `json:"ok"`
		Result json.RawMessage `json:"result"`
	}{true, result})
}

// Result aggregates every provider outcome of one trigger.
type Result struct {
	// OK is true when at least one provider succeeded.
	OK bool
	// Outcomes is ordered by first occurrence in the requested provider list.
	Outcomes []Outcome
	// Global holds a request-level failure that stopped the dispatch before
	// any provider was contacted.
	Global error
}

// Rejected builds the result for a request that failed before fan-out.
func Rejected(err error) *Result {
	return &Result{Global: err}
}

// Outcome returns the outcome for name.
func (r *Result) Outcome(name provider.Name) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Provider == name {
			return o, true
		}
	}
	return Outcome{}, false
}

// Errors lists every failure as "<provider>: <reason>", or the bare reason
// for a request-level failure.
func (r *Result) Errors() []string {
	var out []string
	if r.Global != nil {
		out = append(out, r.Global.Error())
	}
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, fmt.Sprintf("%s: %s", o.Provider, provider.Detail(o.Err)))
		}
	}
	return out
}

// MarshalJSON renders the trigger response body. Provider keys keep dispatch
// order; on failure an "error" list is added alongside them.
func (r *Result) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"ok":`)
	if r.OK {
		buf.WriteString("true")
	} else {
		buf.WriteString("false")
	}
	buf.WriteString(`,"results":{`)
	for i, o := range r.Outcomes {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(o.Provider))
		if err != nil {
			return nil, err
		}
		val, err := o.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	if !r.OK {
		errs := r.Errors()
		if errs == nil {
			errs = []string{}
		}
		val, err := json.Marshal(errs)
		if err != nil {
			return nil, err
		}
		if len(r.Outcomes) > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`"error":`)
		buf.Write(val)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// Dispatcher fans a message out to providers concurrently. Each provider is
// an isolated failure domain: one failing never affects another's outcome.
type Dispatcher struct {
	registry *provider.Registry
	creds    provider.CredentialSource
	logger   *slog.Logger
	timeout  time.Duration
}

// New creates a Dispatcher with the default per-call timeout.
func New(registry *provider.Registry, creds provider.CredentialSource, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		creds:    creds,
		logger:   logger.With(slog.String("component", "dispatcher")),
		timeout:  DefaultTimeout,
	}
}

// SetTimeout overrides the per-provider call timeout.
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.timeout = timeout
	}
}

// Dispatch sends msg to every distinct provider in names. Sends outlive ctx
// cancellation so a disconnecting caller does not abort delivery; each send
// is bounded by the dispatcher timeout instead. Dispatch never deduplicates
// across calls.
func (d *Dispatcher) Dispatch(ctx context.Context, names []provider.Name, msg provider.Message) *Result {
	ctx = context.WithoutCancel(ctx)

	var distinct []provider.Name
	seen := make(map[provider.Name]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		distinct = append(distinct, n)
	}

	outcomes := make([]Outcome, len(distinct))
	var wg sync.WaitGroup
	for i, name := range distinct {
		outcomes[i].Provider = name

		n, creds, err := d.prepare(name, msg)
		if err != nil {
			outcomes[i].Err = err
			continue
		}

		wg.Add(1)
		go func(slot *Outcome) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slot.Err = fmt.Errorf("provider %s panicked: %v", name, r)
				}
			}()

			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			slot.Result, slot.Err = n.Send(sendCtx, creds, msg)
		}(&outcomes[i])
	}
	wg.Wait()

	res := &Result{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.OK() {
			res.OK = true
		}
		d.log(o)
	}
	return res
}

// prepare runs every check that can fail without a network call.
func (d *Dispatcher) prepare(name provider.Name, msg provider.Message) (provider.Notifier, provider.Credentials, error) {
	n := d.registry.Get(name)
	if n == nil {
		return nil, nil, &provider.ErrUnknownProvider{Provider: name}
	}
	if err := n.Validate(msg); err != nil {
		return nil, nil, err
	}
	creds, err := d.creds.ForProvider(name)
	if err != nil {
		return nil, nil, err
	}
	return n, creds, nil
}

func (d *Dispatcher) log(o Outcome) {
	if o.OK() {
		d.logger.Debug("notification sent", slog.String("provider", string(o.Provider)))
		return
	}
	d.logger.Warn("notification failed",
		slog.String("provider", string(o.Provider)),
		slog.String("error", o.Err.Error()),
	)
}
