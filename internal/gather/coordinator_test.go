package gather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/chromedp/cdproto"

	"pharos/internal/artifacts"
	"pharos/internal/config"
	"pharos/internal/driver/drivertest"
	"pharos/internal/fault"
	"pharos/internal/logging"
)

// stubGatherer records hook invocations and returns scripted outcomes.
type stubGatherer struct {
	name        string
	setupErr    error
	beforeErr   error
	passErr     error
	afterErr    error
	teardownErr error
	value       any
	calls       []string
}

func (g *stubGatherer) Name() string { return g.name }

func (g *stubGatherer) Setup(context.Context, *PassContext) error {
	g.calls = append(g.calls, "setup")
	return g.setupErr
}

func (g *stubGatherer) BeforePass(context.Context, *PassContext) error {
	g.calls = append(g.calls, "beforePass")
	return g.beforeErr
}

func (g *stubGatherer) Pass(context.Context, *PassContext) error {
	g.calls = append(g.calls, "pass")
	return g.passErr
}

func (g *stubGatherer) AfterPass(context.Context, *PassContext, *LoadData) (any, error) {
	g.calls = append(g.calls, "afterPass")
	return g.value, g.afterErr
}

func (g *stubGatherer) Teardown(context.Context, *PassContext) error {
	g.calls = append(g.calls, "teardown")
	return g.teardownErr
}

const testURL = "https://example.com/"

func newTestSet() *artifacts.Set {
	return artifacts.NewSet(testURL, artifacts.Settings{})
}

func fastSettings() config.Settings {
	return config.Settings{
		MaxWaitForLoadMs: 2000,
		BlankWaitMs:      1,
		NetworkQuietMs:   10,
	}
}

// scriptGoodLoad makes navigations to testURL produce a successful
// main-document request and fire the load event.
func scriptGoodLoad(conn *drivertest.Conn) {
	conn.OnCommand(cdproto.CommandPageNavigate, func(params json.RawMessage) {
		var p struct {
			URL string `json:"url"`
		}
		if json.Unmarshal(params, &p) != nil || p.URL != testURL {
			return
		}
		conn.Emit(cdproto.EventNetworkRequestWillBeSent, fmt.Sprintf(
			`{"requestId":"1","timestamp":1.0,"type":"Document","request":{"url":%q,"method":"GET"}}`, testURL))
		conn.Emit(cdproto.EventNetworkResponseReceived, `{"requestId":"1","timestamp":1.2,"type":"Document","response":{"status":200,"mimeType":"text/html"}}`)
		conn.Emit(cdproto.EventNetworkLoadingFinished, `{"requestId":"1","timestamp":1.3,"encodedDataLength":1024}`)
		conn.Emit(cdproto.EventPageLoadEventFired, `{"timestamp":1.4}`)
	})
}

func singlePass(gatherers ...Gatherer) []Pass {
	names := make([]string, len(gatherers))
	for i, g := range gatherers {
		names[i] = g.Name()
	}
	return []Pass{{
		Def:       config.PassDef{Name: "defaultPass", Gatherers: names},
		Gatherers: gatherers,
	}}
}

func TestRunRejectsNonHTTPURL(t *testing.T) {
	conn := drivertest.New()
	coord := NewCoordinator(conn, fastSettings(), nil, WithLogger(logging.Discard()))

	for _, raw := range []string{"", "ftp://example.com", "example.com", "file:///etc/passwd"} {
		_, err := coord.Run(context.Background(), raw)
		if fault.CodeOf(err) != fault.CodeInvalidURL {
			t.Errorf("Run(%q): code = %v, want %v", raw, fault.CodeOf(err), fault.CodeInvalidURL)
		}
		if !fault.IsFatal(err) {
			t.Errorf("Run(%q): error not fatal", raw)
		}
	}
	if len(conn.Calls()) != 0 {
		t.Errorf("commands sent for invalid URL: %v", conn.Calls())
	}
}

func TestRunCollectsArtifacts(t *testing.T) {
	conn := drivertest.New()
	scriptGoodLoad(conn)
	g := &stubGatherer{name: "probe", value: map[string]any{"n": 1.0}}

	coord := NewCoordinator(conn, fastSettings(), singlePass(g), WithLogger(logging.Discard()))
	set, err := coord.Run(context.Background(), testURL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	res, ok := set.Get("probe")
	if !ok {
		t.Fatal("probe artifact missing")
	}
	if res.Err() != nil {
		t.Fatalf("probe artifact errored: %v", res.Err())
	}
	want := []string{"setup", "beforePass", "pass", "afterPass", "teardown"}
	if fmt.Sprint(g.calls) != fmt.Sprint(want) {
		t.Errorf("hook order = %v, want %v", g.calls, want)
	}
	if len(set.DevtoolsLogs["defaultPass"]) == 0 {
		t.Error("no devtools log recorded for the pass")
	}
	if conn.Connected() {
		t.Error("connection still open after a successful run")
	}
}

func TestRunFatalFaultAbortsAndDisconnects(t *testing.T) {
	conn := drivertest.New()
	scriptGoodLoad(conn)
	g := &stubGatherer{name: "probe", passErr: fault.Fatalf(fault.CodeProtocol, "tab crashed")}

	coord := NewCoordinator(conn, fastSettings(), singlePass(g), WithLogger(logging.Discard()))
	_, err := coord.Run(context.Background(), testURL)
	if !fault.IsFatal(err) {
		t.Fatalf("Run: err = %v, want fatal fault", err)
	}
	if conn.Connected() {
		t.Error("connection still open after a fatal abort")
	}
}

func TestGathererErrorBecomesArtifactValue(t *testing.T) {
	conn := drivertest.New()
	scriptGoodLoad(conn)
	bad := &stubGatherer{name: "flaky", beforeErr: errors.New("boom")}
	good := &stubGatherer{name: "steady", value: "ok"}

	coord := NewCoordinator(conn, fastSettings(), singlePass(bad, good), WithLogger(logging.Discard()))
	set, err := coord.Run(context.Background(), testURL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	res, _ := set.Get("flaky")
	if res.Err() == nil {
		t.Fatal("flaky artifact should carry the hook error")
	}
	for _, call := range bad.calls {
		if call == "pass" || call == "afterPass" {
			t.Errorf("failed gatherer still ran %s", call)
		}
	}
	if got, _ := set.Get("steady"); got.Err() != nil {
		t.Errorf("steady artifact errored: %v", got.Err())
	}
}

func TestPageLoadFailureAbortsPastThreshold(t *testing.T) {
	// No network events at all: the navigation produces no document request.
	conn := drivertest.New()
	conn.OnCommand(cdproto.CommandPageNavigate, func(params json.RawMessage) {
		var p struct {
			URL string `json:"url"`
		}
		if json.Unmarshal(params, &p) == nil && p.URL == testURL {
			conn.Emit(cdproto.EventPageLoadEventFired, `{"timestamp":1.0}`)
		}
	})
	g := &stubGatherer{name: "probe"}

	coord := NewCoordinator(conn, fastSettings(), singlePass(g), WithLogger(logging.Discard()))
	_, err := coord.Run(context.Background(), testURL)
	if fault.CodeOf(err) != fault.CodeNoDocumentRequest {
		t.Fatalf("Run: code = %v, want %v", fault.CodeOf(err), fault.CodeNoDocumentRequest)
	}
	if conn.Connected() {
		t.Error("connection still open after abort")
	}
}

func TestPageLoadFailureWithinThresholdKeepsErroredArtifacts(t *testing.T) {
	conn := drivertest.New()
	conn.OnCommand(cdproto.CommandPageNavigate, func(params json.RawMessage) {
		var p struct {
			URL string `json:"url"`
		}
		if json.Unmarshal(params, &p) == nil && p.URL == testURL {
			conn.Emit(cdproto.EventPageLoadEventFired, `{"timestamp":1.0}`)
		}
	})
	g := &stubGatherer{name: "probe", value: "never"}

	settings := fastSettings()
	threshold := 1.0
	settings.AbortThreshold = &threshold

	coord := NewCoordinator(conn, settings, singlePass(g), WithLogger(logging.Discard()))
	set, err := coord.Run(context.Background(), testURL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	res, _ := set.Get("probe")
	if res.Err() == nil {
		t.Fatal("probe artifact should carry the page-load error")
	}
	if !fault.IsPageLoad(res.Err()) {
		t.Errorf("artifact error is not a page-load fault: %v", res.Err())
	}
	for _, call := range g.calls {
		if call == "afterPass" {
			t.Error("afterPass ran despite the failed load")
		}
	}
}

func TestSecondPassLoadFailureKeepsFirstPassArtifacts(t *testing.T) {
	// First navigation loads a 200 document; the second one dies mid-flight.
	conn := drivertest.New()
	var navs int
	conn.OnCommand(cdproto.CommandPageNavigate, func(params json.RawMessage) {
		var p struct {
			URL string `json:"url"`
		}
		if json.Unmarshal(params, &p) != nil || p.URL != testURL {
			return
		}
		navs++
		if navs == 1 {
			conn.Emit(cdproto.EventNetworkRequestWillBeSent, fmt.Sprintf(
				`{"requestId":"1","timestamp":1.0,"type":"Document","request":{"url":%q,"method":"GET"}}`, testURL))
			conn.Emit(cdproto.EventNetworkResponseReceived, `{"requestId":"1","timestamp":1.2,"type":"Document","response":{"status":200,"mimeType":"text/html"}}`)
			conn.Emit(cdproto.EventNetworkLoadingFinished, `{"requestId":"1","timestamp":1.3,"encodedDataLength":1024}`)
			conn.Emit(cdproto.EventPageLoadEventFired, `{"timestamp":1.4}`)
			return
		}
		conn.Emit(cdproto.EventNetworkRequestWillBeSent, fmt.Sprintf(
			`{"requestId":"2","timestamp":2.0,"type":"Document","request":{"url":%q,"method":"GET"}}`, testURL))
		conn.Emit(cdproto.EventNetworkLoadingFailed, `{"requestId":"2","timestamp":2.1,"type":"Document","errorText":"net::ERR_CONNECTION_RESET"}`)
		conn.Emit(cdproto.EventPageLoadEventFired, `{"timestamp":2.2}`)
	})
	alpha := &stubGatherer{name: "alpha", value: "first"}
	beta := &stubGatherer{name: "beta", value: "second"}
	passes := []Pass{
		{Def: config.PassDef{Name: "defaultPass", Gatherers: []string{"alpha"}}, Gatherers: []Gatherer{alpha}},
		{Def: config.PassDef{Name: "secondPass", Gatherers: []string{"beta"}}, Gatherers: []Gatherer{beta}},
	}

	coord := NewCoordinator(conn, fastSettings(), passes, WithLogger(logging.Discard()))
	set, err := coord.Run(context.Background(), testURL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	good, ok := set.Get("alpha")
	if !ok || good.Err() != nil {
		t.Fatalf("alpha artifact = %v, %v; want the first pass's value", good.Err(), ok)
	}
	if good.Value() != "first" {
		t.Errorf("alpha value = %v", good.Value())
	}
	bad, ok := set.Get("beta")
	if !ok || bad.Err() == nil {
		t.Fatal("beta artifact should carry the failed load")
	}
	if !fault.IsPageLoad(bad.Err()) {
		t.Errorf("beta error is not a page-load fault: %v", bad.Err())
	}
	for _, call := range beta.calls {
		if call == "afterPass" {
			t.Error("afterPass ran despite the failed load")
		}
	}
	if len(set.Warnings) != 1 {
		t.Errorf("run warnings = %v, want exactly one for the failed pass", set.Warnings)
	}
}

func TestTracedPassRecordsTrace(t *testing.T) {
	conn := drivertest.New()
	scriptGoodLoad(conn)
	conn.OnCommand(cdproto.CommandTracingEnd, func(json.RawMessage) {
		conn.Emit(cdproto.EventTracingDataCollected, `{"value":[{"name":"navigationStart","cat":"blink.user_timing","ts":100}]}`)
		conn.Emit(cdproto.EventTracingTracingComplete, `{}`)
	})
	g := &stubGatherer{name: "probe"}
	passes := singlePass(g)
	passes[0].Def.RecordTrace = true

	coord := NewCoordinator(conn, fastSettings(), passes, WithLogger(logging.Discard()))
	set, err := coord.Run(context.Background(), testURL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	trace := set.Traces["defaultPass"]
	if trace == nil || len(trace.Events) != 1 {
		t.Fatalf("trace = %+v, want one recorded event", trace)
	}
	if len(conn.CallsTo(cdproto.CommandTracingStart)) != 1 {
		t.Error("tracing was never started")
	}
	if len(conn.CallsTo(cdproto.CommandNetworkClearBrowserCache)) != 1 {
		t.Error("browser cache was not cleared for the traced pass")
	}
}

func TestThrottlingAppliedAndLifted(t *testing.T) {
	conn := drivertest.New()
	scriptGoodLoad(conn)
	conn.OnCommand(cdproto.CommandTracingEnd, func(json.RawMessage) {
		conn.Emit(cdproto.EventTracingTracingComplete, `{}`)
	})
	g := &stubGatherer{name: "probe"}
	passes := singlePass(g)
	passes[0].Def.RecordTrace = true

	settings := fastSettings()
	settings.Throttling = config.Throttling{CPURate: 4, RTTMs: 150, ThroughputKbps: 1638.4}

	coord := NewCoordinator(conn, settings, passes, WithLogger(logging.Discard()))
	if _, err := coord.Run(context.Background(), testURL); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cpu := conn.CallsTo(cdproto.CommandEmulationSetCPUThrottlingRate)
	if len(cpu) != 2 {
		t.Fatalf("CPU throttle calls = %d, want apply + lift", len(cpu))
	}
	var lift struct {
		Rate float64 `json:"rate"`
	}
	if err := json.Unmarshal(cpu[1], &lift); err != nil || lift.Rate != 1 {
		t.Errorf("final CPU rate = %+v, want 1", lift)
	}
	if len(conn.CallsTo(cdproto.CommandNetworkEmulateNetworkConditions)) != 2 {
		t.Error("network conditions not applied and lifted")
	}
}

func TestSetupOncePerRunAcrossPasses(t *testing.T) {
	conn := drivertest.New()
	scriptGoodLoad(conn)
	g := &stubGatherer{name: "probe", value: "v"}

	passes := []Pass{
		{Def: config.PassDef{Name: "defaultPass", Gatherers: []string{"probe"}}, Gatherers: []Gatherer{g}},
		{Def: config.PassDef{Name: "secondPass", Gatherers: []string{"probe"}}, Gatherers: []Gatherer{g}},
	}
	coord := NewCoordinator(conn, fastSettings(), passes, WithLogger(logging.Discard()))
	if _, err := coord.Run(context.Background(), testURL); err != nil {
		t.Fatalf("Run: %v", err)
	}

	setups, teardowns := 0, 0
	for _, call := range g.calls {
		switch call {
		case "setup":
			setups++
		case "teardown":
			teardowns++
		}
	}
	if setups != 1 || teardowns != 1 {
		t.Errorf("setup ran %d times, teardown %d times; want once each", setups, teardowns)
	}
}

func TestObserverSeesStages(t *testing.T) {
	conn := drivertest.New()
	scriptGoodLoad(conn)
	g := &stubGatherer{name: "probe"}

	var stages []string
	obs := ObserverFunc(func(e StatusEvent) { stages = append(stages, e.Stage) })
	coord := NewCoordinator(conn, fastSettings(), singlePass(g),
		WithObserver(obs), WithLogger(logging.Discard()))
	if _, err := coord.Run(context.Background(), testURL); err != nil {
		t.Fatalf("Run: %v", err)
	}

	seen := map[string]bool{}
	for _, s := range stages {
		seen[s] = true
	}
	for _, want := range []string{StageSetup, StageBeforePass, StageNavigate, StagePass, StageAfterPass, StageTeardown} {
		if !seen[want] {
			t.Errorf("observer never saw stage %q (got %v)", want, stages)
		}
	}
}

func TestResolveAbortPicksFirstPageLoadError(t *testing.T) {
	set := newTestSet()
	bags := []*bag{
		{name: "a", err: fault.NoDocumentRequest("https://a.example/")},
		{name: "b", err: fault.FailedDocumentRequest("https://b.example/", "net::ERR_FAILED")},
		{name: "c", value: "ok"},
	}
	err := resolve(set, bags, 0.5)
	if fault.CodeOf(err) != fault.CodeNoDocumentRequest {
		t.Fatalf("resolve: code = %v, want the first page-load error", fault.CodeOf(err))
	}

	// One failure out of three stays under a 0.5 budget.
	set = newTestSet()
	bags = []*bag{
		{name: "a", err: fault.NoDocumentRequest("https://a.example/")},
		{name: "b", value: 1},
		{name: "c", value: 2},
	}
	if err := resolve(set, bags, 0.5); err != nil {
		t.Fatalf("resolve: %v, want nil under threshold", err)
	}
	if res, _ := set.Get("a"); res.Err() == nil {
		t.Error("errored bag not stored as an errored artifact")
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("probe", func() Gatherer { return &stubGatherer{name: "probe"} })

	if err := r.Register("probe", func() Gatherer { return &stubGatherer{name: "probe"} }); err == nil {
		t.Error("duplicate registration accepted")
	}
	if _, err := r.Resolve([]string{"nope"}); err == nil {
		t.Error("unknown gatherer resolved")
	}
	gs, err := r.Resolve([]string{"probe"})
	if err != nil || len(gs) != 1 {
		t.Fatalf("Resolve: %v", err)
	}

	r.MustRegister("liar", func() Gatherer { return &stubGatherer{name: "not-liar"} })
	if _, err := r.Resolve([]string{"liar"}); err == nil {
		t.Error("name mismatch not rejected")
	}
}
