package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solatis/aem/internal/aem"
	"github.com/solatis/aem/internal/kvstore"
	"github.com/solatis/aem/internal/transport"
	"github.com/solatis/aem/internal/types"
)

var t0 = time.Unix(1_700_000_000, 0)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	f     func()
	done  bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock and fires due timers on the caller's goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	pending := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.done:
		case !t.at.After(c.now):
			t.done = true
			due = append(due, t)
		default:
			pending = append(pending, t)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

type fakeTransport struct {
	mu         sync.Mutex
	configs    []types.RawConfiguration
	fetchErr   error
	fetchCalls int
	// fetchGate, when set, blocks FetchConfigurations until closed.
	fetchGate chan struct{}

	sendErr error
	batches chan []aem.ReportRequest

	catalogOK    bool
	catalogCalls int

	matched    []string
	matchCalls int
}

func newFakeTransport(configs ...string) *fakeTransport {
	ft := &fakeTransport{batches: make(chan []aem.ReportRequest, 16)}
	for _, c := range configs {
		ft.configs = append(ft.configs, types.RawConfiguration(c))
	}
	return ft
}

func (f *fakeTransport) FetchConfigurations(ctx context.Context, _ []string) ([]types.RawConfiguration, error) {
	f.mu.Lock()
	f.fetchCalls++
	gate := f.fetchGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs, f.fetchErr
}

func (f *fakeTransport) SendConversions(_ context.Context, reports []aem.ReportRequest) error {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.batches <- reports
	return nil
}

func (f *fakeTransport) CheckCatalog(context.Context, string, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalogCalls++
	return f.catalogOK, nil
}

func (f *fakeTransport) MatchRules(context.Context, transport.RuleMatchRequest) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matchCalls++
	return f.matched, nil
}

func (f *fakeTransport) calls() (fetch, catalog, match int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls, f.catalogCalls, f.matchCalls
}

// defaultConfig has a purchase rule (value 5, priority 10, USD >= 5) and an
// add to cart rule (value 2, priority 5).
func defaultConfig(validFrom int64) string {
	return fmt.Sprintf(`{
		"default_currency": "USD",
		"cutoff_time": 7,
		"valid_from": %d,
		"config_mode": "DEFAULT",
		"conversion_value_rules": [
			{"conversion_value": 5, "priority": 10, "events": [{"event_name": "purchase", "values": [{"currency": "USD", "amount": 5}]}]},
			{"conversion_value": 2, "priority": 5, "events": [{"event_name": "add_to_cart"}]}
		]
	}`, validFrom)
}

func deepLink(t *testing.T, fields map[string]any) string {
	t.Helper()
	data := map[string]any{"campaign_ids": "17", "acs_token": "token"}
	for k, v := range fields {
		data[k] = v
	}
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	return "fb123://open?" + aem.AppLinkDataParam + "=" + url.QueryEscape(string(payload))
}

type harness struct {
	reporter  *Reporter
	clock     *fakeClock
	transport *fakeTransport
	kv        kvstore.Store
	cancel    context.CancelFunc
	stopped   chan struct{}
}

func startReporter(t *testing.T, opts Options, ft *fakeTransport, kv kvstore.Store) *harness {
	t.Helper()
	clock, _ := opts.Clock.(*fakeClock)
	if clock == nil {
		clock = newFakeClock(t0)
		opts.Clock = clock
	}
	if kv == nil {
		kv = kvstore.NewMemoryStore()
	}

	h := &harness{
		reporter:  New(nil, opts, ft, kv),
		clock:     clock,
		transport: ft,
		kv:        kv,
		stopped:   make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.stopped)
		h.reporter.Run(ctx)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.stopped
}

// sync waits until every job queued so far has run.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	_, err := h.reporter.Invocations(context.Background())
	require.NoError(t, err)
}

func (h *harness) invocations(t *testing.T) []*aem.Invocation {
	t.Helper()
	invs, err := h.reporter.Invocations(context.Background())
	require.NoError(t, err)
	return invs
}

func waitRecord(t *testing.T, ch <-chan RecordResult) RecordResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for RecordEvent result")
		return RecordResult{}
	}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for refresh result")
		return nil
	}
}

func waitBatch(t *testing.T, ft *fakeTransport) []aem.ReportRequest {
	t.Helper()
	select {
	case batch := <-ft.batches:
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for aggregation batch")
		return nil
	}
}

func assertNoBatch(t *testing.T, ft *fakeTransport) {
	t.Helper()
	select {
	case batch := <-ft.batches:
		t.Fatalf("unexpected aggregation batch: %+v", batch)
	case <-time.After(50 * time.Millisecond):
	}
}

func purchase(amount float64) aem.Event {
	return aem.Event{Name: "purchase", Currency: "USD", Value: &amount, Params: types.Params{}}
}
