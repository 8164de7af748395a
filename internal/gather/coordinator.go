package gather

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto"

	"pharos/internal/artifacts"
	"pharos/internal/config"
	"pharos/internal/driver"
	"pharos/internal/fault"
	"pharos/internal/logging"
	"pharos/internal/netlog"
)

// traceCategories are recorded during traced passes.
var traceCategories = []string{
	"-*",
	"devtools.timeline",
	"loading",
	"blink.user_timing",
	"v8.execute",
	"disabled-by-default-devtools.timeline",
}

// Pass pairs a configured pass with its resolved gatherers. Gatherer
// instances are shared across passes that list the same name, so a
// gatherer observing two passes accumulates into one artifact.
type Pass struct {
	Def       config.PassDef
	Gatherers []Gatherer
}

// Coordinator drives the configured passes against one connection and
// assembles the artifact set. One coordinator serves one run; it owns the
// connection from Connect to Disconnect, including the unwind path.
type Coordinator struct {
	conn     driver.Connection
	settings config.Settings
	passes   []Pass
	obs      Observer
	log      *slog.Logger
}

// Option adjusts a Coordinator.
type Option func(*Coordinator)

// WithObserver registers a progress observer for status output.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.obs = o }
}

// WithLogger overrides the coordinator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// NewCoordinator builds a coordinator over an unconnected connection.
func NewCoordinator(conn driver.Connection, settings config.Settings, passes []Pass, opts ...Option) *Coordinator {
	c := &Coordinator{
		conn:     conn,
		settings: settings,
		passes:   passes,
		obs:      nopObserver{},
		log:      logging.New("gather"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// bag accumulates one gatherer's outcome across phases. The first failure
// sticks and disables the gatherer's remaining hooks; otherwise the last
// value an AfterPass returned wins.
type bag struct {
	name     string
	gatherer Gatherer
	err      *fault.Error
	value    any
	setup    bool
}

func (b *bag) fail(err error) { b.err = fault.From(err) }

// Run executes every configured pass against targetURL and resolves the
// artifact set. Fatal faults and a page-load-error fraction above the
// configured threshold abort the run; the connection is released either way.
func (c *Coordinator) Run(ctx context.Context, targetURL string) (*artifacts.Set, error) {
	if err := validateURL(targetURL); err != nil {
		return nil, err
	}
	if err := c.conn.Connect(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if derr := c.conn.Disconnect(); derr != nil {
			c.log.Warn("disconnect after run", "err", derr)
		}
	}()

	set := artifacts.NewSet(targetURL, settingsSnapshot(c.settings, c.passes))
	c.fillUserAgent(ctx, set)

	bags := c.makeBags()
	for _, pass := range c.passes {
		if err := c.runPass(ctx, targetURL, pass, set, bags); err != nil {
			return nil, err
		}
	}
	if err := c.teardown(ctx, targetURL, bags); err != nil {
		return nil, err
	}
	if err := resolve(set, bags, c.abortThreshold()); err != nil {
		return nil, err
	}
	return set, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fault.Fatalf(fault.CodeInvalidURL, "cannot audit %q: not an http(s) URL", raw)
	}
	return nil
}

func settingsSnapshot(s config.Settings, passes []Pass) artifacts.Settings {
	var blocked []string
	for _, p := range passes {
		blocked = append(blocked, p.Def.BlockedURLPatterns...)
	}
	return artifacts.Settings{
		MaxWaitForLoadMs: s.MaxWaitForLoadMs,
		BlankWaitMs:      s.BlankWaitMs,
		FormFactor:       s.FormFactor,
		Throttling: artifacts.Throttling{
			CPURate:        s.Throttling.CPURate,
			RTTMs:          s.Throttling.RTTMs,
			ThroughputKbps: s.Throttling.ThroughputKbps,
		},
		BlockedURLPatterns: blocked,
		ExtraHeaders:       s.ExtraHeaders,
	}
}

func (c *Coordinator) abortThreshold() float64 {
	if c.settings.AbortThreshold != nil {
		return *c.settings.AbortThreshold
	}
	return config.DefaultAbortThreshold
}

// makeBags returns one bag per distinct gatherer name, in first-seen
// configuration order. That order decides which page-load error aborts the
// run when the budget is blown.
func (c *Coordinator) makeBags() []*bag {
	var bags []*bag
	seen := map[string]bool{}
	for _, pass := range c.passes {
		for _, g := range pass.Gatherers {
			if seen[g.Name()] {
				continue
			}
			seen[g.Name()] = true
			bags = append(bags, &bag{name: g.Name(), gatherer: g})
		}
	}
	return bags
}

func (c *Coordinator) fillUserAgent(ctx context.Context, set *artifacts.Set) {
	var reply struct {
		UserAgent string `json:"userAgent"`
	}
	if err := c.conn.SendCommand(ctx, cdproto.CommandBrowserGetVersion, nil, &reply); err == nil {
		set.Settings.UserAgent = reply.UserAgent
	}
}

// Local command params. Kept as plain structs with json tags, like the
// payload decoders in netlog, so the wire shape stays explicit.
type navigateParams struct {
	URL string `json:"url"`
}

type setBlockedURLsParams struct {
	URLs []string `json:"urls"`
}

type setExtraHeadersParams struct {
	Headers map[string]string `json:"headers"`
}

type clearOriginParams struct {
	Origin       string `json:"origin"`
	StorageTypes string `json:"storageTypes"`
}

type emulateNetworkParams struct {
	Offline            bool    `json:"offline"`
	Latency            float64 `json:"latency"`
	DownloadThroughput float64 `json:"downloadThroughput"`
	UploadThroughput   float64 `json:"uploadThroughput"`
}

type cpuThrottlingParams struct {
	Rate float64 `json:"rate"`
}

type tracingStartParams struct {
	TraceConfig struct {
		RecordMode         string   `json:"recordMode"`
		IncludedCategories []string `json:"includedCategories"`
	} `json:"traceConfig"`
	TransferMode string `json:"transferMode"`
}

func (c *Coordinator) runPass(ctx context.Context, targetURL string, pass Pass, set *artifacts.Set, bags []*bag) error {
	byName := map[string]*bag{}
	for _, b := range bags {
		byName[b.name] = b
	}
	pc := func() *PassContext {
		return &PassContext{URL: targetURL, Pass: pass.Def, Settings: c.settings, Conn: c.conn}
	}

	// Neutral blank state first. about:blank never fires a load event, so
	// this is a fixed settle, not a load wait.
	if err := c.conn.SendCommand(ctx, cdproto.CommandPageNavigate, navigateParams{URL: "about:blank"}, nil); err != nil {
		return err
	}
	if err := sleep(ctx, c.blankWait()); err != nil {
		return err
	}

	for _, method := range []cdproto.MethodType{cdproto.CommandPageEnable, cdproto.CommandNetworkEnable} {
		if err := c.conn.SendCommand(ctx, method, nil, nil); err != nil {
			return err
		}
	}
	if len(pass.Def.BlockedURLPatterns) > 0 {
		if err := c.conn.SendCommand(ctx, cdproto.CommandNetworkSetBlockedURLs, setBlockedURLsParams{URLs: pass.Def.BlockedURLPatterns}, nil); err != nil {
			return err
		}
	}
	if len(c.settings.ExtraHeaders) > 0 {
		if err := c.conn.SendCommand(ctx, cdproto.CommandNetworkSetExtraHTTPHeaders, setExtraHeadersParams{Headers: c.settings.ExtraHeaders}, nil); err != nil {
			return err
		}
	}

	// Setup once per run, then beforePass, both strictly sequential.
	for _, g := range pass.Gatherers {
		b := byName[g.Name()]
		if b.err != nil || b.setup {
			continue
		}
		b.setup = true
		if err := c.invoke(pass.Def.Name, StageSetup, b, func() error { return g.Setup(ctx, pc()) }); err != nil {
			return err
		}
	}
	for _, g := range pass.Gatherers {
		b := byName[g.Name()]
		if b.err != nil {
			continue
		}
		if err := c.invoke(pass.Def.Name, StageBeforePass, b, func() error { return g.BeforePass(ctx, pc()) }); err != nil {
			return err
		}
	}

	// Begin recording. The devtools log keeps every event raw; the recorder
	// folds the network slice of it live for quiet detection.
	rec := netlog.NewRecorder()
	var logMu sync.Mutex
	var logEntries []artifacts.LogEntry
	removeLog := c.conn.Subscribe(func(method cdproto.MethodType, params json.RawMessage) {
		rec.Observe(string(method), params)
		logMu.Lock()
		logEntries = append(logEntries, artifacts.LogEntry{Method: string(method), Params: params})
		logMu.Unlock()
	})

	if pass.Def.RecordTrace {
		if err := c.prepareTracedPass(ctx, targetURL); err != nil {
			removeLog()
			return err
		}
	}

	c.obs.OnStatus(StatusEvent{Pass: pass.Def.Name, Stage: StageNavigate})
	if err := c.navigateAndWait(ctx, targetURL, rec); err != nil {
		removeLog()
		return err
	}
	if pass.Def.PauseAfterLoadMs > 0 {
		if err := sleep(ctx, time.Duration(pass.Def.PauseAfterLoadMs)*time.Millisecond); err != nil {
			removeLog()
			return err
		}
	}

	for _, g := range pass.Gatherers {
		b := byName[g.Name()]
		if b.err != nil {
			continue
		}
		if err := c.invoke(pass.Def.Name, StagePass, b, func() error { return g.Pass(ctx, pc()) }); err != nil {
			removeLog()
			return err
		}
	}

	// Stop recording, reconstruct, classify.
	var trace *artifacts.Trace
	if pass.Def.RecordTrace {
		var err error
		trace, err = c.endTrace(ctx)
		if err != nil {
			removeLog()
			return err
		}
	}
	removeLog()
	records := rec.Records()
	loadErr := netlog.ClassifyLoad(records, targetURL)

	// Throttling must not skew afterPass work.
	if pass.Def.RecordTrace && c.throttled() {
		if err := c.disableThrottling(ctx); err != nil {
			return err
		}
	}

	logMu.Lock()
	passLog := logEntries
	logMu.Unlock()
	ld := &LoadData{DevtoolsLog: passLog, Records: records, Trace: trace}
	for _, g := range pass.Gatherers {
		b := byName[g.Name()]
		if b.err != nil {
			continue
		}
		if loadErr != nil {
			// Pre-failed: the hook still gets a bag entry, so bookkeeping is
			// uniform whether or not the page loaded.
			b.fail(loadErr)
			c.obs.OnStatus(StatusEvent{Pass: pass.Def.Name, Stage: StageAfterPass, Gatherer: b.name, Err: b.err})
			continue
		}
		if err := c.invokeAfterPass(ctx, pass.Def.Name, b, pc(), ld); err != nil {
			return err
		}
	}

	set.DevtoolsLogs[pass.Def.Name] = passLog
	if trace != nil {
		set.Traces[pass.Def.Name] = trace
	}
	if loadErr != nil && len(records) > 0 {
		set.Warn(fault.Friendly(loadErr))
	}
	return nil
}

// invoke runs one error-only hook under the shared failure discipline:
// fatal faults abort, everything else lands in the bag.
func (c *Coordinator) invoke(passName, stage string, b *bag, hook func() error) error {
	err := hook()
	c.obs.OnStatus(StatusEvent{Pass: passName, Stage: stage, Gatherer: b.name, Err: err})
	if err == nil {
		return nil
	}
	if fault.IsFatal(err) {
		return err
	}
	b.fail(err)
	return nil
}

func (c *Coordinator) invokeAfterPass(ctx context.Context, passName string, b *bag, pc *PassContext, ld *LoadData) error {
	v, err := b.gatherer.AfterPass(ctx, pc, ld)
	c.obs.OnStatus(StatusEvent{Pass: passName, Stage: StageAfterPass, Gatherer: b.name, Err: err})
	if err != nil {
		if fault.IsFatal(err) {
			return err
		}
		b.fail(err)
		return nil
	}
	if v != nil {
		b.value = v
	}
	return nil
}

func (c *Coordinator) teardown(ctx context.Context, targetURL string, bags []*bag) error {
	for _, b := range bags {
		if !b.setup {
			continue
		}
		pc := &PassContext{URL: targetURL, Settings: c.settings, Conn: c.conn}
		err := b.gatherer.Teardown(ctx, pc)
		c.obs.OnStatus(StatusEvent{Stage: StageTeardown, Gatherer: b.name, Err: err})
		if err != nil {
			if fault.IsFatal(err) {
				return err
			}
			if b.err == nil {
				b.fail(err)
			}
		}
	}
	return nil
}

// resolve turns the bags into artifact results and enforces the page-load
// error budget: past the threshold the run aborts with the first such
// error, because a mostly-errored report should be loud, not silent.
func resolve(set *artifacts.Set, bags []*bag, threshold float64) error {
	var pageLoadErrs []*fault.Error
	for _, b := range bags {
		if b.err != nil {
			set.PutError(b.name, b.err)
			if fault.IsPageLoad(b.err) {
				pageLoadErrs = append(pageLoadErrs, b.err)
			}
			continue
		}
		set.PutValue(b.name, b.value)
	}
	if len(bags) > 0 && float64(len(pageLoadErrs)) > threshold*float64(len(bags)) {
		return pageLoadErrs[0]
	}
	return nil
}

func (c *Coordinator) prepareTracedPass(ctx context.Context, targetURL string) error {
	// A traced pass measures a cold load under the configured conditions.
	if err := c.conn.SendCommand(ctx, cdproto.CommandNetworkClearBrowserCache, nil, nil); err != nil {
		return err
	}
	if origin := originOf(targetURL); origin != "" {
		params := clearOriginParams{Origin: origin, StorageTypes: "all"}
		if err := c.conn.SendCommand(ctx, cdproto.CommandStorageClearDataForOrigin, params, nil); err != nil {
			return err
		}
	}
	if c.throttled() {
		if err := c.applyThrottling(ctx); err != nil {
			return err
		}
	}
	var start tracingStartParams
	start.TraceConfig.RecordMode = "recordUntilFull"
	start.TraceConfig.IncludedCategories = traceCategories
	start.TransferMode = "ReportEvents"
	return c.conn.SendCommand(ctx, cdproto.CommandTracingStart, start, nil)
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func (c *Coordinator) throttled() bool {
	t := c.settings.Throttling
	return t.CPURate > 1 || t.RTTMs > 0 || t.ThroughputKbps > 0
}

func (c *Coordinator) applyThrottling(ctx context.Context) error {
	t := c.settings.Throttling
	if t.RTTMs > 0 || t.ThroughputKbps > 0 {
		bytesPerSec := t.ThroughputKbps * 1024 / 8
		params := emulateNetworkParams{
			Latency:            float64(t.RTTMs),
			DownloadThroughput: bytesPerSec,
			UploadThroughput:   bytesPerSec,
		}
		if err := c.conn.SendCommand(ctx, cdproto.CommandNetworkEmulateNetworkConditions, params, nil); err != nil {
			return err
		}
	}
	if t.CPURate > 1 {
		if err := c.conn.SendCommand(ctx, cdproto.CommandEmulationSetCPUThrottlingRate, cpuThrottlingParams{Rate: t.CPURate}, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) disableThrottling(ctx context.Context) error {
	params := emulateNetworkParams{Latency: 0, DownloadThroughput: -1, UploadThroughput: -1}
	if err := c.conn.SendCommand(ctx, cdproto.CommandNetworkEmulateNetworkConditions, params, nil); err != nil {
		return err
	}
	return c.conn.SendCommand(ctx, cdproto.CommandEmulationSetCPUThrottlingRate, cpuThrottlingParams{Rate: 1}, nil)
}

// navigateAndWait starts the real navigation and waits for the load event
// plus a network-quiet window, both capped by MaxWaitForLoad. Running out
// of time is not an error: the main-document classification afterwards
// decides whether the pass produced a usable load.
func (c *Coordinator) navigateAndWait(ctx context.Context, targetURL string, rec *netlog.Recorder) error {
	loadFired := make(chan struct{})
	var once sync.Once
	remove := c.conn.Subscribe(func(method cdproto.MethodType, _ json.RawMessage) {
		if method == cdproto.EventPageLoadEventFired {
			once.Do(func() { close(loadFired) })
		}
	})
	defer remove()

	if err := c.conn.SendCommand(ctx, cdproto.CommandPageNavigate, navigateParams{URL: targetURL}, nil); err != nil {
		return err
	}

	deadline := time.Now().Add(c.maxWaitForLoad())
	select {
	case <-loadFired:
	case <-time.After(time.Until(deadline)):
		c.log.Warn("load event did not fire before the deadline", "url", targetURL)
		return nil
	case <-ctx.Done():
		return fault.Protocol("navigation", ctx.Err())
	}
	return c.waitNetworkQuiet(ctx, rec, deadline)
}

// waitNetworkQuiet returns once no request has been in flight for the
// configured quiet window, or at the deadline, whichever comes first.
func (c *Coordinator) waitNetworkQuiet(ctx context.Context, rec *netlog.Recorder, deadline time.Time) error {
	quiet := time.Duration(c.settings.NetworkQuietMs) * time.Millisecond
	if quiet <= 0 {
		quiet = time.Duration(config.DefaultNetworkQuietMs) * time.Millisecond
	}
	tick := quiet / 10
	if tick < time.Millisecond {
		tick = time.Millisecond
	}
	var quietSince time.Time
	for time.Now().Before(deadline) {
		if rec.Inflight() == 0 {
			if quietSince.IsZero() {
				quietSince = time.Now()
			} else if time.Since(quietSince) >= quiet {
				return nil
			}
		} else {
			quietSince = time.Time{}
		}
		if err := sleep(ctx, tick); err != nil {
			return err
		}
	}
	c.log.Debug("network never went quiet before the deadline")
	return nil
}

// endTrace asks the browser to flush the recording and gathers the event
// stream until the completion marker.
func (c *Coordinator) endTrace(ctx context.Context) (*artifacts.Trace, error) {
	var mu sync.Mutex
	var events []artifacts.TraceEvent
	complete := make(chan struct{})
	var once sync.Once
	remove := c.conn.Subscribe(func(method cdproto.MethodType, params json.RawMessage) {
		switch method {
		case cdproto.EventTracingDataCollected:
			var chunk struct {
				Value []artifacts.TraceEvent `json:"value"`
			}
			if json.Unmarshal(params, &chunk) == nil {
				mu.Lock()
				events = append(events, chunk.Value...)
				mu.Unlock()
			}
		case cdproto.EventTracingTracingComplete:
			once.Do(func() { close(complete) })
		}
	})
	defer remove()

	if err := c.conn.SendCommand(ctx, cdproto.CommandTracingEnd, nil, nil); err != nil {
		return nil, err
	}
	select {
	case <-complete:
	case <-time.After(c.maxWaitForLoad()):
		c.log.Warn("trace completion marker never arrived; keeping partial trace")
	case <-ctx.Done():
		return nil, fault.Protocol("trace collection", ctx.Err())
	}
	mu.Lock()
	defer mu.Unlock()
	return &artifacts.Trace{Events: events}, nil
}

func (c *Coordinator) blankWait() time.Duration {
	if c.settings.BlankWaitMs > 0 {
		return time.Duration(c.settings.BlankWaitMs) * time.Millisecond
	}
	return time.Duration(config.DefaultBlankWaitMs) * time.Millisecond
}

func (c *Coordinator) maxWaitForLoad() time.Duration {
	if c.settings.MaxWaitForLoadMs > 0 {
		return time.Duration(c.settings.MaxWaitForLoadMs) * time.Millisecond
	}
	return time.Duration(config.DefaultMaxWaitForLoadMs) * time.Millisecond
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fault.Protocol("wait", ctx.Err())
	}
}
