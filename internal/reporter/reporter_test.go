package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/aem/internal/aem"
	"github.com/solatis/aem/internal/codec"
	"github.com/solatis/aem/internal/kvstore"
	"github.com/solatis/aem/internal/types"
)

func TestRecordEvent_NoInvocations(t *testing.T) {
	ft := newFakeTransport(defaultConfig(100))
	h := startReporter(t, Options{}, ft, nil)

	res := waitRecord(t, h.reporter.RecordEvent(purchase(10)))
	require.NoError(t, res.Err)
	assert.False(t, res.Attributed)

	fetch, _, _ := ft.calls()
	assert.Zero(t, fetch, "no invocations means no refresh")
}

func TestRecordEvent_UpdatesAndAggregates(t *testing.T) {
	ft := newFakeTransport(defaultConfig(100))
	h := startReporter(t, Options{}, ft, nil)

	link, err := h.reporter.HandleDeepLink(deepLink(t, map[string]any{
		"shared_secret": "c2VjcmV0",
		"acs_config_id": "cfg1",
	}))
	require.NoError(t, err)
	assert.False(t, link.TestMode)

	res := waitRecord(t, h.reporter.RecordEvent(purchase(12)))
	require.NoError(t, res.Err)
	assert.True(t, res.Attributed)
	assert.True(t, res.Updated)
	assert.Equal(t, link.InvocationID, res.InvocationID)

	batch := waitBatch(t, ft)
	require.Len(t, batch, 1)
	report := batch[0]
	assert.Equal(t, "17", report.CampaignID)
	assert.Equal(t, 5, report.ConversionData)
	assert.Equal(t, aem.DelayFlow, report.DelayFlow)
	assert.GreaterOrEqual(t, report.ConsumptionHour, 24)
	assert.Less(t, report.ConsumptionHour, 48)
	assert.NotEmpty(t, report.HMAC)

	require.Eventually(t, func() bool {
		invs := h.invocations(t)
		return len(invs) == 1 && invs[0].IsAggregated
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRecordEvent_BelowThresholdDoesNotUpdate(t *testing.T) {
	ft := newFakeTransport(defaultConfig(100))
	h := startReporter(t, Options{}, ft, nil)

	_, err := h.reporter.HandleDeepLink(deepLink(t, nil))
	require.NoError(t, err)

	res := waitRecord(t, h.reporter.RecordEvent(purchase(1)))
	require.NoError(t, res.Err)
	assert.True(t, res.Attributed)
	assert.False(t, res.Updated)
	assertNoBatch(t, ft)
}

func TestRecordEvent_RefreshErrorSurfaces(t *testing.T) {
	ft := newFakeTransport()
	ft.fetchErr = errors.New("offline")
	h := startReporter(t, Options{}, ft, nil)

	_, err := h.reporter.HandleDeepLink(deepLink(t, nil))
	require.NoError(t, err)

	res := waitRecord(t, h.reporter.RecordEvent(purchase(12)))
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "offline")
}

func TestRecordEvent_ServerRuleMatch(t *testing.T) {
	brand := `{
		"default_currency": "USD", "cutoff_time": 7, "valid_from": 100,
		"config_mode": "BRAND", "advertiser_id": "biz",
		"param_rule": "{\"brand\":{\"eq\":\"never\"}}",
		"conversion_value_rules": [{"conversion_value": 3, "priority": 1, "events": [{"event_name": "purchase"}]}]
	}`
	ft := newFakeTransport(brand)
	ft.matched = []string{"biz"}
	h := startReporter(t, Options{ServerRuleMatch: true}, ft, nil)

	_, err := h.reporter.HandleDeepLink(deepLink(t, map[string]any{"advertiser_id": "biz"}))
	require.NoError(t, err)

	ev := purchase(1)
	ev.Params = types.Params{"brand": "acme"}
	res := waitRecord(t, h.reporter.RecordEvent(ev))
	require.NoError(t, res.Err)
	assert.True(t, res.Updated, "server match bypasses the local rule")

	_, _, match := ft.calls()
	assert.Equal(t, 1, match)
	invs := h.invocations(t)
	require.Len(t, invs, 1)
	assert.Equal(t, 3, invs[0].ConversionValue)
}

func TestRecordEvent_ServerRuleMatchExcludesBusiness(t *testing.T) {
	brand := `{
		"default_currency": "USD", "cutoff_time": 7, "valid_from": 100,
		"config_mode": "BRAND", "advertiser_id": "biz",
		"param_rule": "{\"brand\":{\"eq\":\"acme\"}}",
		"conversion_value_rules": [{"conversion_value": 3, "priority": 1, "events": [{"event_name": "purchase"}]}]
	}`
	ft := newFakeTransport(brand)
	ft.matched = []string{}
	h := startReporter(t, Options{ServerRuleMatch: true}, ft, nil)

	_, err := h.reporter.HandleDeepLink(deepLink(t, map[string]any{"advertiser_id": "biz"}))
	require.NoError(t, err)

	ev := purchase(1)
	ev.Params = types.Params{"brand": "acme"}
	res := waitRecord(t, h.reporter.RecordEvent(ev))
	require.NoError(t, res.Err)
	assert.False(t, res.Attributed)
}

func TestRecordEvent_CatalogBoost(t *testing.T) {
	ft := newFakeTransport(defaultConfig(100))
	ft.catalogOK = true
	h := startReporter(t, Options{ConversionFiltering: true, CatalogMatching: true}, ft, nil)

	// 13 mod 8 == 5 mod 8, so purchase is catalog optimized for this campaign.
	_, err := h.reporter.HandleDeepLink(deepLink(t, map[string]any{"campaign_ids": "13", "catalog_id": "cat1"}))
	require.NoError(t, err)

	ev := purchase(12)
	ev.Params = types.Params{"fb_content_id": "sku-1"}
	res := waitRecord(t, h.reporter.RecordEvent(ev))
	require.NoError(t, res.Err)
	require.True(t, res.Updated)

	_, catalog, _ := ft.calls()
	assert.Equal(t, 1, catalog)
	invs := h.invocations(t)
	require.Len(t, invs, 1)
	assert.Equal(t, 5, invs[0].ConversionValue)
	assert.Equal(t, 10+aem.DefaultTuning().PriorityBoost, invs[0].Priority)

	batch := waitBatch(t, ft)
	require.Len(t, batch, 1)
	require.NotNil(t, batch[0].IsConversionFiltering)
	assert.True(t, *batch[0].IsConversionFiltering)
}

func TestHandleDeepLink_Invalid(t *testing.T) {
	h := startReporter(t, Options{}, newFakeTransport(), nil)

	_, err := h.reporter.HandleDeepLink("fb123://open?foo=bar")
	assert.True(t, errors.Is(err, types.ErrInvalidDeepLink), "error = %v", err)
	assert.Empty(t, h.invocations(t))
}

func TestHandleDeepLink_TestModeSendsDebugReport(t *testing.T) {
	ft := newFakeTransport(defaultConfig(100))
	h := startReporter(t, Options{}, ft, nil)

	link, err := h.reporter.HandleDeepLink(deepLink(t, map[string]any{"test_deeplink": 1}))
	require.NoError(t, err)
	assert.True(t, link.TestMode)

	batch := waitBatch(t, ft)
	require.Len(t, batch, 1)
	assert.Equal(t, 0, batch[0].ConversionData)
	assert.Equal(t, 0, batch[0].ConsumptionHour)
	assert.Empty(t, h.invocations(t))
}

func TestRefreshConfigurations_Coalesced(t *testing.T) {
	ft := newFakeTransport(defaultConfig(100))
	ft.fetchGate = make(chan struct{})
	h := startReporter(t, Options{}, ft, nil)

	results := []<-chan error{
		h.reporter.RefreshConfigurations(true),
		h.reporter.RefreshConfigurations(true),
		h.reporter.RefreshConfigurations(false),
	}
	h.sync(t)
	close(ft.fetchGate)

	for _, ch := range results {
		assert.NoError(t, waitErr(t, ch))
	}
	fetch, _, _ := ft.calls()
	assert.Equal(t, 1, fetch, "concurrent refreshes share one request")

	cfgs, err := h.reporter.Configurations(context.Background())
	require.NoError(t, err)
	assert.Len(t, cfgs, 1)
}

func TestRefreshConfigurations_ErrorReachesEveryWaiter(t *testing.T) {
	ft := newFakeTransport()
	ft.fetchErr = errors.New("boom")
	ft.fetchGate = make(chan struct{})
	h := startReporter(t, Options{}, ft, nil)

	first := h.reporter.RefreshConfigurations(true)
	second := h.reporter.RefreshConfigurations(true)
	h.sync(t)
	close(ft.fetchGate)

	assert.Error(t, waitErr(t, first))
	assert.Error(t, waitErr(t, second))

	// The in-flight request is cleared, so the next call retries.
	assert.Error(t, waitErr(t, h.reporter.RefreshConfigurations(true)))
	fetch, _, _ := ft.calls()
	assert.Equal(t, 2, fetch)
}

func TestRefreshConfigurations_Staleness(t *testing.T) {
	ft := newFakeTransport(defaultConfig(100))
	h := startReporter(t, Options{}, ft, nil)

	require.NoError(t, waitErr(t, h.reporter.RefreshConfigurations(false)))
	require.NoError(t, waitErr(t, h.reporter.RefreshConfigurations(false)))
	fetch, _, _ := ft.calls()
	assert.Equal(t, 1, fetch, "fresh configurations are not refetched")

	h.clock.Advance(25 * time.Hour)
	require.NoError(t, waitErr(t, h.reporter.RefreshConfigurations(false)))
	fetch, _, _ = ft.calls()
	assert.Equal(t, 2, fetch)
}

func TestRefreshConfigurations_BusinessInvocationAlwaysRefreshes(t *testing.T) {
	ft := newFakeTransport(defaultConfig(100))
	h := startReporter(t, Options{}, ft, nil)

	require.NoError(t, waitErr(t, h.reporter.RefreshConfigurations(false)))
	_, err := h.reporter.HandleDeepLink(deepLink(t, map[string]any{"advertiser_id": "biz"}))
	require.NoError(t, err)
	h.sync(t)

	require.NoError(t, waitErr(t, h.reporter.RefreshConfigurations(false)))
	fetch, _, _ := ft.calls()
	assert.GreaterOrEqual(t, fetch, 2)
}

// pendingInvocation returns an invocation with an unreported conversion.
func pendingInvocation(t *testing.T, createdAt time.Time) []byte {
	t.Helper()
	inv := aem.NewInvocation("17", "token", createdAt)
	inv.ConversionValue = 5
	inv.Priority = 10
	inv.ConversionTimestamp = createdAt
	inv.IsAggregated = false
	data, err := json.Marshal(inv)
	require.NoError(t, err)
	return data
}

func putRecords(t *testing.T, kv kvstore.Store, key string, records ...[]byte) {
	t.Helper()
	require.NoError(t, kv.Put(context.Background(), key, codec.Encode(records)))
}

func readSchedule(t *testing.T, kv kvstore.Store) schedule {
	t.Helper()
	data, err := kv.Get(context.Background(), KeySchedule)
	require.NoError(t, err)
	records, err := codec.Decode(data)
	require.NoError(t, err)
	require.Len(t, records, 1)
	var s schedule
	require.NoError(t, json.Unmarshal(records[0], &s))
	return s
}

func TestTriggerAggregation_Throttle(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	putRecords(t, kv, KeyInvocations, pendingInvocation(t, t0))
	putRecords(t, kv, KeySchedule, []byte(`{"min_aggregation":`+jsonInt(t0.Add(10*time.Second).UnixMilli())+`}`))

	ft := newFakeTransport()
	h := startReporter(t, Options{}, ft, kv)

	h.reporter.TriggerAggregation()
	h.sync(t)
	h.clock.Advance(500 * time.Millisecond)
	h.reporter.TriggerAggregation()
	h.sync(t)

	assertNoBatch(t, ft)
	assert.Equal(t, 1, h.clock.Pending(), "early triggers share one scheduled send")

	// Each trigger pushes the window: max(now+3s, prev+3s) twice from t0+10s.
	s := readSchedule(t, kv)
	assert.Equal(t, t0.Add(16*time.Second).UnixMilli(), s.MinAggregation)

	h.clock.Advance(9500 * time.Millisecond)
	batch := waitBatch(t, ft)
	assert.Len(t, batch, 1)

	h.clock.Advance(time.Minute)
	h.sync(t)
	assertNoBatch(t, ft)
	assert.Zero(t, h.clock.Pending())
}

func TestTriggerAggregation_EmptyBatchIsNoop(t *testing.T) {
	ft := newFakeTransport()
	h := startReporter(t, Options{}, ft, nil)

	h.reporter.TriggerAggregation()
	h.sync(t)
	assertNoBatch(t, ft)
}

func TestTriggerAggregation_FailureRetriesLater(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	putRecords(t, kv, KeyInvocations, pendingInvocation(t, t0))

	ft := newFakeTransport()
	ft.sendErr = errors.New("unavailable")
	h := startReporter(t, Options{}, ft, kv)

	h.reporter.TriggerAggregation()
	h.sync(t)
	require.Eventually(t, func() bool {
		invs := h.invocations(t)
		return len(invs) == 1 && !invs[0].IsAggregated && len(h.reporter.inFlightSnapshot(t)) == 0
	}, 5*time.Second, 10*time.Millisecond)

	ft.mu.Lock()
	ft.sendErr = nil
	ft.mu.Unlock()

	h.clock.Advance(5 * time.Second)
	h.reporter.TriggerAggregation()
	batch := waitBatch(t, ft)
	assert.Len(t, batch, 1)
	require.Eventually(t, func() bool {
		return h.invocations(t)[0].IsAggregated
	}, 5*time.Second, 10*time.Millisecond)
}

// inFlightSnapshot reads the in-flight set on the state goroutine.
func (r *Reporter) inFlightSnapshot(t *testing.T) []types.InvocationID {
	t.Helper()
	var ids []types.InvocationID
	require.NoError(t, r.call(context.Background(), func() {
		for id := range r.inFlight {
			ids = append(ids, id)
		}
	}))
	return ids
}

func TestClearCache(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	putRecords(t, kv, KeyConfigurations,
		[]byte(defaultConfig(100)),
		[]byte(defaultConfig(150)),
		[]byte(defaultConfig(200)),
	)

	old := aem.NewInvocation("1", "token", time.Unix(120, 0))
	oldData, err := json.Marshal(old)
	require.NoError(t, err)
	putRecords(t, kv, KeyInvocations, oldData, pendingInvocation(t, time.Unix(160, 0)))

	ft := newFakeTransport()
	h := startReporter(t, Options{}, ft, kv)

	// Startup eviction: the aggregated expired invocation goes, the pending
	// one stays bound to 150, and 200 survives as the newest DEFAULT.
	invs := h.invocations(t)
	require.Len(t, invs, 1)
	assert.Equal(t, "17", invs[0].CampaignID)

	cfgs, err := h.reporter.Configurations(context.Background())
	require.NoError(t, err)
	var versions []int64
	for _, c := range cfgs {
		versions = append(versions, c.ValidFrom)
	}
	assert.Equal(t, []int64{150, 200}, versions)

	data, err := kv.Get(context.Background(), KeyInvocations)
	require.NoError(t, err)
	records, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestClearCache_PersistsNewBinding(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	putRecords(t, kv, KeyConfigurations, []byte(defaultConfig(100)))

	unbound := aem.NewInvocation("1", "token", t0.Add(-time.Hour))
	data, err := json.Marshal(unbound)
	require.NoError(t, err)
	putRecords(t, kv, KeyInvocations, data)

	h := startReporter(t, Options{}, newFakeTransport(), kv)
	h.sync(t)

	blob, err := kv.Get(context.Background(), KeyInvocations)
	require.NoError(t, err)
	records, err := codec.Decode(blob)
	require.NoError(t, err)
	require.Len(t, records, 1)

	var stored aem.Invocation
	require.NoError(t, json.Unmarshal(records[0], &stored))
	assert.Equal(t, int64(100), stored.ConfigVersion)
	assert.Equal(t, aem.ModeDefault, stored.ConfigMode)
}

func TestClearCache_KeepsNewestDefault(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	putRecords(t, kv, KeyConfigurations, []byte(defaultConfig(100)), []byte(defaultConfig(200)))

	h := startReporter(t, Options{}, newFakeTransport(), kv)
	require.NoError(t, h.reporter.ClearCache(context.Background()))

	cfgs, err := h.reporter.Configurations(context.Background())
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, int64(200), cfgs[0].ValidFrom)
}

func TestPersistence_RoundTrip(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	ft := newFakeTransport(defaultConfig(100))
	h := startReporter(t, Options{}, ft, kv)

	link, err := h.reporter.HandleDeepLink(deepLink(t, map[string]any{"acs_config_id": "cfg"}))
	require.NoError(t, err)
	res := waitRecord(t, h.reporter.RecordEvent(aem.Event{Name: "add_to_cart", Params: types.Params{}}))
	require.NoError(t, res.Err)
	require.True(t, res.Updated)
	waitBatch(t, ft)
	h.stop()

	restarted := startReporter(t, Options{Clock: newFakeClock(t0.Add(time.Hour))}, newFakeTransport(), kv)
	invs := restarted.invocations(t)
	require.Len(t, invs, 1)
	inv := invs[0]
	assert.Equal(t, link.InvocationID, inv.ID)
	assert.Equal(t, 2, inv.ConversionValue)
	assert.Equal(t, int64(100), inv.ConfigVersion)
	assert.Contains(t, inv.RecordedEvents, "add_to_cart")

	cfgs, err := restarted.reporter.Configurations(context.Background())
	require.NoError(t, err)
	assert.Len(t, cfgs, 1)
}

func TestPersistence_CorruptStateDegradesToEmpty(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	require.NoError(t, kv.Put(context.Background(), KeyInvocations, []byte{0xff, 0xff, 0xff}))
	putRecords(t, kv, KeyConfigurations, []byte(`{"not":"a config"}`))

	h := startReporter(t, Options{}, newFakeTransport(), kv)
	assert.Empty(t, h.invocations(t))
	cfgs, err := h.reporter.Configurations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cfgs)
}

func TestRun_StopResolvesPendingCallers(t *testing.T) {
	ft := newFakeTransport(defaultConfig(100))
	ft.fetchGate = make(chan struct{})
	defer close(ft.fetchGate)
	h := startReporter(t, Options{}, ft, nil)

	_, err := h.reporter.HandleDeepLink(deepLink(t, nil))
	require.NoError(t, err)
	pending := h.reporter.RecordEvent(purchase(12))
	h.sync(t)

	h.stop()
	res := waitRecord(t, pending)
	assert.True(t, errors.Is(res.Err, types.ErrReporterStopped), "error = %v", res.Err)

	assert.True(t, errors.Is(waitErr(t, h.reporter.RefreshConfigurations(true)), types.ErrReporterStopped))
	_, err = h.reporter.Invocations(context.Background())
	assert.True(t, errors.Is(err, types.ErrReporterStopped))
}

func jsonInt(n int64) string {
	data, _ := json.Marshal(n)
	return string(data)
}
