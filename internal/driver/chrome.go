package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/tracing"
	"github.com/chromedp/chromedp"

	"pharos/internal/fault"
	"pharos/internal/logging"
)

// Chrome drives a Chrome or Chromium tab over the DevTools protocol via
// chromedp. One Chrome owns one browser process (or one remote attachment)
// and one tab, reused across passes.
type Chrome struct {
	chromePath string
	remoteURL  string
	headless   bool
	log        *slog.Logger

	allocCtx  context.Context
	allocStop context.CancelFunc
	tabCtx    context.Context
	tabStop   context.CancelFunc

	mu      sync.Mutex
	subs    map[int]EventFunc
	nextSub int
}

// ChromeOption adjusts how the browser is launched or attached.
type ChromeOption func(*Chrome)

// WithChromePath launches the binary at path instead of the discovered one.
func WithChromePath(path string) ChromeOption {
	return func(c *Chrome) { c.chromePath = path }
}

// WithRemoteURL attaches to an already-running browser's DevTools endpoint
// (ws:// or http://) instead of launching one.
func WithRemoteURL(url string) ChromeOption {
	return func(c *Chrome) { c.remoteURL = url }
}

// WithHeadful shows the browser window. Headless is the default.
func WithHeadful() ChromeOption {
	return func(c *Chrome) { c.headless = false }
}

// WithChromeLogger overrides the connection's logger.
func WithChromeLogger(log *slog.Logger) ChromeOption {
	return func(c *Chrome) { c.log = log }
}

// NewChrome returns an unconnected browser connection.
func NewChrome(opts ...ChromeOption) *Chrome {
	c := &Chrome{
		headless: true,
		log:      logging.New("driver"),
		subs:     map[int]EventFunc{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect launches (or attaches to) the browser and opens the tab. The
// browser lives until Disconnect or until ctx is canceled.
func (c *Chrome) Connect(ctx context.Context) error {
	if c.tabCtx != nil {
		return nil
	}
	if c.remoteURL != "" {
		c.allocCtx, c.allocStop = chromedp.NewRemoteAllocator(ctx, c.remoteURL)
		c.log.Info("attaching to remote browser", "url", c.remoteURL)
	} else {
		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		if !c.headless {
			opts = append(opts, chromedp.Flag("headless", false))
		}
		if c.chromePath != "" {
			opts = append(opts, chromedp.ExecPath(c.chromePath))
		}
		c.allocCtx, c.allocStop = chromedp.NewExecAllocator(ctx, opts...)
	}

	c.tabCtx, c.tabStop = chromedp.NewContext(c.allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			c.log.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			c.log.Warn(fmt.Sprintf(format, args...))
		}),
	)
	chromedp.ListenTarget(c.tabCtx, c.dispatch)

	// An empty Run starts the browser and attaches the target.
	if err := chromedp.Run(c.tabCtx); err != nil {
		c.close()
		return fault.Protocol("connect", err)
	}
	c.log.Debug("browser connected", "headless", c.headless)
	return nil
}

// Disconnect closes the tab and shuts the browser down gracefully.
func (c *Chrome) Disconnect() error {
	if c.tabCtx == nil {
		return nil
	}
	err := chromedp.Cancel(c.tabCtx)
	c.close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shut down browser: %w", err)
	}
	return nil
}

func (c *Chrome) close() {
	if c.tabStop != nil {
		c.tabStop()
	}
	if c.allocStop != nil {
		c.allocStop()
	}
	c.tabCtx, c.tabStop = nil, nil
	c.allocCtx, c.allocStop = nil, nil
}

// SendCommand issues one protocol command against the tab.
func (c *Chrome) SendCommand(ctx context.Context, method cdproto.MethodType, params, result any) error {
	if c.tabCtx == nil {
		return errNotConnected(method)
	}
	target := chromedp.FromContext(c.tabCtx).Target
	if target == nil {
		return errNotConnected(method)
	}
	if err := target.Execute(ctx, string(method), params, result); err != nil {
		return fault.Protocol(string(method), err)
	}
	return nil
}

// Subscribe registers fn for every event this package recognizes.
func (c *Chrome) Subscribe(fn EventFunc) (remove func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// dispatch re-encodes a typed chromedp event and fans it out. Unrecognized
// event types are dropped; the pipeline only consumes the set below.
func (c *Chrome) dispatch(ev any) {
	method := eventMethod(ev)
	if method == "" {
		return
	}
	params, err := json.Marshal(ev)
	if err != nil {
		c.log.Warn("drop undecodable event", "method", method, "err", err)
		return
	}
	c.mu.Lock()
	fns := make([]EventFunc, 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(method, params)
	}
}

func eventMethod(ev any) cdproto.MethodType {
	switch ev.(type) {
	case *network.EventRequestWillBeSent:
		return cdproto.EventNetworkRequestWillBeSent
	case *network.EventRequestServedFromCache:
		return cdproto.EventNetworkRequestServedFromCache
	case *network.EventResponseReceived:
		return cdproto.EventNetworkResponseReceived
	case *network.EventDataReceived:
		return cdproto.EventNetworkDataReceived
	case *network.EventLoadingFinished:
		return cdproto.EventNetworkLoadingFinished
	case *network.EventLoadingFailed:
		return cdproto.EventNetworkLoadingFailed
	case *page.EventLoadEventFired:
		return cdproto.EventPageLoadEventFired
	case *page.EventDomContentEventFired:
		return cdproto.EventPageDomContentEventFired
	case *page.EventFrameNavigated:
		return cdproto.EventPageFrameNavigated
	case *page.EventJavascriptDialogOpening:
		return cdproto.EventPageJavascriptDialogOpening
	case *tracing.EventDataCollected:
		return cdproto.EventTracingDataCollected
	case *tracing.EventTracingComplete:
		return cdproto.EventTracingTracingComplete
	case *runtime.EventConsoleAPICalled:
		return cdproto.EventRuntimeConsoleAPICalled
	case *runtime.EventExceptionThrown:
		return cdproto.EventRuntimeExceptionThrown
	case *inspector.EventTargetCrashed:
		return cdproto.EventInspectorTargetCrashed
	case *inspector.EventDetached:
		return cdproto.EventInspectorDetached
	}
	return ""
}
