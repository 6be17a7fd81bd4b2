// Package reporter owns the mutable attribution state: the configuration
// store, the invocation list and the refresh/throttle timestamps.
//
// All state is touched by a single goroutine (Run). Public methods enqueue
// closures onto that goroutine; network calls run on their own goroutines
// and re-enter through the same queue before touching state, so no locks
// guard the state itself. Callers get results through channels.
package reporter

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/solatis/aem/internal/aem"
	"github.com/solatis/aem/internal/kvstore"
	"github.com/solatis/aem/internal/transport"
	"github.com/solatis/aem/internal/types"
)

// Defaults for Options fields left zero.
const (
	DefaultAggregationDelay   = 3 * time.Second
	DefaultRefreshInterval    = 24 * time.Hour
	DefaultCacheClearInterval = time.Hour
	DefaultRequestTimeout     = 30 * time.Second

	queueSize      = 256
	persistTimeout = 5 * time.Second
)

// Transport is the graph API as the reporter uses it.
type Transport interface {
	FetchConfigurations(ctx context.Context, businessIDs []string) ([]types.RawConfiguration, error)
	SendConversions(ctx context.Context, reports []aem.ReportRequest) error
	CheckCatalog(ctx context.Context, catalogID, contentID string) (bool, error)
	MatchRules(ctx context.Context, req transport.RuleMatchRequest) ([]string, error)
}

// Options configures a Reporter.
type Options struct {
	// AggregationDelay is the minimum gap between aggregation sends.
	AggregationDelay time.Duration
	// RefreshInterval is how long fetched configurations stay fresh.
	RefreshInterval time.Duration
	// CacheClearInterval schedules eviction while running.
	CacheClearInterval time.Duration
	// RequestTimeout bounds each graph API call.
	RequestTimeout time.Duration

	// ConversionFiltering enables the conversion filtering flag on reports
	// and the catalog check when CatalogMatching is also set.
	ConversionFiltering bool
	CatalogMatching     bool
	// ServerRuleMatch asks the server to evaluate advertiser rules for
	// business scoped invocations.
	ServerRuleMatch bool

	Tuning aem.Tuning

	// AdNetwork is optional.
	AdNetwork aem.AdNetworkReporter
	// Clock defaults to the system clock.
	Clock Clock
	// Rand draws consumption hours. Defaults to a randomly seeded source.
	Rand *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.AggregationDelay <= 0 {
		o.AggregationDelay = DefaultAggregationDelay
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}
	if o.CacheClearInterval <= 0 {
		o.CacheClearInterval = DefaultCacheClearInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Tuning == (aem.Tuning{}) {
		o.Tuning = aem.DefaultTuning()
	}
	if o.Clock == nil {
		o.Clock = systemClock{}
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return o
}

type job struct {
	run func()
	// cancel resolves the caller when the reporter stops before run.
	cancel func()
}

// Reporter is the attribution state machine. Create with New and start
// with Run; Run must be called exactly once.
type Reporter struct {
	log       *slog.Logger
	opts      Options
	clock     Clock
	transport Transport
	kv        kvstore.Store

	queue   chan job
	done    chan struct{}
	mu      sync.RWMutex
	stopped bool

	// Owned by the Run goroutine.
	bg             context.Context
	store          *aem.ConfigurationStore
	invocations    []*aem.Invocation
	lastRefresh    time.Time
	minAggregation time.Time
	refresh        *refreshCall
	aggregateTimer Timer
	inFlight       map[types.InvocationID]struct{}
}

// New creates a Reporter. State is loaded from kv when Run starts.
func New(log *slog.Logger, opts Options, t Transport, kv kvstore.Store) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	if t == nil {
		panic("reporter: transport cannot be nil")
	}
	if kv == nil {
		panic("reporter: store cannot be nil")
	}
	opts = opts.withDefaults()
	return &Reporter{
		log:       log.With(slog.String("component", "reporter")),
		opts:      opts,
		clock:     opts.Clock,
		transport: t,
		kv:        kv,
		queue:     make(chan job, queueSize),
		done:      make(chan struct{}),
		bg:        context.Background(),
		store:     aem.NewConfigurationStore(),
		inFlight:  make(map[types.InvocationID]struct{}),
	}
}

// Run loads persisted state, evicts stale entries and processes requests
// until ctx is cancelled. Network calls already in flight run to completion
// but their results are discarded.
func (r *Reporter) Run(ctx context.Context) error {
	// In-flight requests and persistence must outlive ctx.
	r.bg = context.WithoutCancel(ctx)

	r.load()
	r.clearCache()
	r.log.Info("reporter started",
		slog.Int("configurations", r.store.Len()),
		slog.Int("invocations", len(r.invocations)),
	)

	ticker := time.NewTicker(r.opts.CacheClearInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.stop()
			r.log.Info("reporter stopped")
			return nil
		case j := <-r.queue:
			j.run()
		case <-ticker.C:
			r.clearCache()
		}
	}
}

func (r *Reporter) stop() {
	close(r.done)
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	for {
		select {
		case j := <-r.queue:
			if j.cancel != nil {
				j.cancel()
			}
		default:
			if r.aggregateTimer != nil {
				r.aggregateTimer.Stop()
				r.aggregateTimer = nil
			}
			if call := r.refresh; call != nil {
				r.refresh = nil
				call.resolve(types.ErrReporterStopped)
			}
			return
		}
	}
}

// submit enqueues run on the state goroutine. It reports false, without
// calling cancel, when the reporter has stopped.
func (r *Reporter) submit(run, cancel func()) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return false
	}
	select {
	case r.queue <- job{run: run, cancel: cancel}:
		return true
	case <-r.done:
		return false
	}
}

// call runs fn on the state goroutine and waits for it.
func (r *Reporter) call(ctx context.Context, fn func()) error {
	errc := make(chan error, 1)
	ok := r.submit(
		func() { fn(); errc <- nil },
		func() { errc <- types.ErrReporterStopped },
	)
	if !ok {
		return types.ErrReporterStopped
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invocations returns copies of the current invocations, oldest first.
func (r *Reporter) Invocations(ctx context.Context) ([]*aem.Invocation, error) {
	var out []*aem.Invocation
	err := r.call(ctx, func() {
		out = make([]*aem.Invocation, len(r.invocations))
		for i, inv := range r.invocations {
			out[i] = inv.Clone()
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Configurations returns the current configurations grouped by mode.
// Configurations are immutable once stored, so they are shared.
func (r *Reporter) Configurations(ctx context.Context) ([]*aem.Configuration, error) {
	var out []*aem.Configuration
	err := r.call(ctx, func() {
		out = r.store.All()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// netContext returns a context for one graph API call.
func (r *Reporter) netContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.bg, r.opts.RequestTimeout)
}

func (r *Reporter) hasBusinessInvocation() bool {
	for _, inv := range r.invocations {
		if inv.BusinessID != "" {
			return true
		}
	}
	return false
}

// businessIDs returns the distinct business ids of the invocations.
func (r *Reporter) businessIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, inv := range r.invocations {
		if inv.BusinessID == "" {
			continue
		}
		if _, ok := seen[inv.BusinessID]; ok {
			continue
		}
		seen[inv.BusinessID] = struct{}{}
		ids = append(ids, inv.BusinessID)
	}
	return ids
}
