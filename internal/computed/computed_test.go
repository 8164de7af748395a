package computed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/google/go-cmp/cmp"

	"pharos/internal/artifacts"
	"pharos/internal/fault"
)

func TestGetOrComputeMemoizes(t *testing.T) {
	c := NewCache()
	var calls atomic.Int32
	fn := func(context.Context) (any, error) {
		calls.Add(1)
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrCompute(context.Background(), "answer", fn)
		if err != nil || v != 42 {
			t.Fatalf("GetOrCompute: %v, %v", v, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("producer ran %d times, want 1", calls.Load())
	}
}

func TestGetOrComputeConcurrentSingleFlight(t *testing.T) {
	c := NewCache()
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if v, err := c.GetOrCompute(context.Background(), "shared", fn); err != nil || v != "v" {
				t.Errorf("GetOrCompute: %v, %v", v, err)
			}
		}()
	}
	close(start)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("producer ran %d times under concurrency, want 1", calls.Load())
	}
}

func TestGetOrComputeCachesErrors(t *testing.T) {
	c := NewCache()
	var calls atomic.Int32
	boom := errors.New("boom")
	fn := func(context.Context) (any, error) {
		calls.Add(1)
		return nil, boom
	}

	for i := 0; i < 2; i++ {
		if _, err := c.GetOrCompute(context.Background(), "failing", fn); !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("failing producer retried: ran %d times", calls.Load())
	}
}

func TestCycleFailsFast(t *testing.T) {
	c := NewCache()
	var a, b func(ctx context.Context) (any, error)
	a = func(ctx context.Context) (any, error) {
		return c.GetOrCompute(ctx, "b", b)
	}
	b = func(ctx context.Context) (any, error) {
		return c.GetOrCompute(ctx, "a", a)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(context.Background(), "a", a)
		done <- err
	}()
	err := <-done
	if fault.CodeOf(err) != fault.CodeCircularDependency {
		t.Fatalf("err = %v, want circular dependency fault", err)
	}
}

func TestGetTypeMismatch(t *testing.T) {
	c := NewCache()
	if _, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (any, error) {
		return "a string", nil
	}); err != nil {
		t.Fatal(err)
	}
	_, err := Get(context.Background(), c, "k", func(context.Context) (int, error) {
		return 0, nil
	})
	if err == nil {
		t.Fatal("type mismatch not reported")
	}
}

func docLogEntry(url string) []artifacts.LogEntry {
	return []artifacts.LogEntry{
		{Method: string(cdproto.EventNetworkRequestWillBeSent), Params: []byte(fmt.Sprintf(
			`{"requestId":"1","timestamp":1.0,"type":"Document","request":{"url":%q,"method":"GET"}}`, url))},
		{Method: string(cdproto.EventNetworkResponseReceived), Params: []byte(
			`{"requestId":"1","timestamp":1.1,"type":"Document","response":{"status":200,"mimeType":"text/html","timing":{"sendEnd":2,"receiveHeadersEnd":142}}}`)},
		{Method: string(cdproto.EventNetworkDataReceived), Params: []byte(
			`{"requestId":"1","dataLength":4096}`)},
		{Method: string(cdproto.EventNetworkLoadingFinished), Params: []byte(
			`{"requestId":"1","timestamp":1.5,"encodedDataLength":2048}`)},
	}
}

func TestNetworkRecordsAndMainResource(t *testing.T) {
	const url = "https://example.com/"
	set := artifacts.NewSet(url, artifacts.Settings{})
	set.DevtoolsLogs[artifacts.DefaultPass] = docLogEntry(url)

	c := NewCache()
	records, err := NetworkRecords(context.Background(), c, set, artifacts.DefaultPass)
	if err != nil {
		t.Fatalf("NetworkRecords: %v", err)
	}
	if len(records) != 1 || records[0].StatusCode != 200 {
		t.Fatalf("records = %+v", records)
	}

	doc, err := MainResource(context.Background(), c, set, artifacts.DefaultPass)
	if err != nil {
		t.Fatalf("MainResource: %v", err)
	}
	if doc.URL != url {
		t.Errorf("main resource URL = %q", doc.URL)
	}
}

func TestMainResourceNoDocument(t *testing.T) {
	set := artifacts.NewSet("https://example.com/", artifacts.Settings{})
	set.DevtoolsLogs[artifacts.DefaultPass] = nil

	c := NewCache()
	_, err := MainResource(context.Background(), c, set, artifacts.DefaultPass)
	if fault.CodeOf(err) != fault.CodeNoDocumentRequest {
		t.Fatalf("err = %v, want no-document fault", err)
	}
}

func TestTransferSummary(t *testing.T) {
	const url = "https://example.com/"
	set := artifacts.NewSet(url, artifacts.Settings{})
	set.DevtoolsLogs[artifacts.DefaultPass] = docLogEntry(url)

	c := NewCache()
	sum, err := Transfer(context.Background(), c, set, artifacts.DefaultPass)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	want := TransferSummary{Requests: 1, TotalBytes: 2048, TotalResource: 4096}
	if diff := cmp.Diff(want, sum); diff != "" {
		t.Errorf("transfer summary mismatch (-want +got):\n%s", diff)
	}
}

func traceWith(events ...artifacts.TraceEvent) *artifacts.Trace {
	return &artifacts.Trace{Events: events}
}

func TestProcessTraceMarkers(t *testing.T) {
	set := artifacts.NewSet("https://example.com/", artifacts.Settings{})
	set.Traces[artifacts.DefaultPass] = traceWith(
		artifacts.TraceEvent{Name: "navigationStart", Cat: "blink.user_timing", TS: 1000},
		artifacts.TraceEvent{Name: "navigationStart", Cat: "blink.user_timing", TS: 5000},
		artifacts.TraceEvent{Name: "firstPaint", Cat: "loading", TS: 6000},
		artifacts.TraceEvent{Name: "firstContentfulPaint", Cat: "loading", TS: 7000},
		artifacts.TraceEvent{Name: "loadEventEnd", Cat: "devtools.timeline", TS: 9000},
	)

	c := NewCache()
	pt, err := Process(context.Background(), c, set, artifacts.DefaultPass)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	// The second navigationStart precedes first paint, so it wins.
	if pt.NavigationStartTS != 5000 {
		t.Errorf("NavigationStartTS = %v, want 5000", pt.NavigationStartTS)
	}
	if pt.FirstContentfulPaintTS != 7000 || pt.LoadEventTS != 9000 {
		t.Errorf("markers = %+v", pt)
	}
}

func TestProcessNavigationStartGatedByContentfulPaint(t *testing.T) {
	set := artifacts.NewSet("https://example.com/", artifacts.Settings{})
	set.Traces[artifacts.DefaultPass] = traceWith(
		artifacts.TraceEvent{Name: "navigationStart", Cat: "blink.user_timing", TS: 1000},
		artifacts.TraceEvent{Name: "firstPaint", Cat: "loading", TS: 2000},
		// Still before first contentful paint, so this start wins even
		// though first paint already happened.
		artifacts.TraceEvent{Name: "navigationStart", Cat: "blink.user_timing", TS: 3000},
		artifacts.TraceEvent{Name: "firstContentfulPaint", Cat: "loading", TS: 4000},
	)

	c := NewCache()
	pt, err := Process(context.Background(), c, set, artifacts.DefaultPass)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if pt.NavigationStartTS != 3000 {
		t.Errorf("NavigationStartTS = %v, want 3000", pt.NavigationStartTS)
	}
	if pt.FirstPaintTS != 2000 || pt.FirstContentfulPaintTS != 4000 {
		t.Errorf("markers = %+v", pt)
	}
}

func TestProcessMissingTrace(t *testing.T) {
	set := artifacts.NewSet("https://example.com/", artifacts.Settings{})
	c := NewCache()
	_, err := Process(context.Background(), c, set, artifacts.DefaultPass)
	if fault.CodeOf(err) != fault.CodeMissingTrace {
		t.Fatalf("err = %v, want missing-trace fault", err)
	}
}

func TestTimingsJoinsTraceAndMainResource(t *testing.T) {
	const url = "https://example.com/"
	set := artifacts.NewSet(url, artifacts.Settings{})
	set.DevtoolsLogs[artifacts.DefaultPass] = docLogEntry(url)
	set.Traces[artifacts.DefaultPass] = traceWith(
		artifacts.TraceEvent{Name: "navigationStart", Cat: "blink.user_timing", TS: 1_000_000},
		artifacts.TraceEvent{Name: "firstContentfulPaint", Cat: "loading", TS: 2_800_000},
		artifacts.TraceEvent{Name: "loadEventEnd", Cat: "devtools.timeline", TS: 4_000_000},
	)

	c := NewCache()
	sum, err := Timings(context.Background(), c, set, artifacts.DefaultPass)
	if err != nil {
		t.Fatalf("Timings: %v", err)
	}
	if sum.FirstContentfulPaintMs != 1800 {
		t.Errorf("FCP = %v ms, want 1800", sum.FirstContentfulPaintMs)
	}
	if sum.LoadMs != 3000 {
		t.Errorf("Load = %v ms, want 3000", sum.LoadMs)
	}
	if sum.ServerResponseMs != 140 {
		t.Errorf("ServerResponse = %v ms, want 140", sum.ServerResponseMs)
	}
}
