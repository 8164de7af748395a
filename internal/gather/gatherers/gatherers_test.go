package gatherers

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/google/go-cmp/cmp"

	"pharos/internal/artifacts"
	"pharos/internal/config"
	"pharos/internal/driver/drivertest"
	"pharos/internal/gather"
)

func passContext(conn *drivertest.Conn) *gather.PassContext {
	return &gather.PassContext{
		URL:  "https://example.com/",
		Pass: config.PassDef{Name: artifacts.DefaultPass},
		Conn: conn,
	}
}

func TestConsoleMessagesObserves(t *testing.T) {
	conn := drivertest.New()
	g := NewConsoleMessages()
	pc := passContext(conn)

	if err := g.Setup(context.Background(), pc); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if got := conn.CallsTo(cdproto.CommandRuntimeEnable); len(got) != 1 {
		t.Errorf("Runtime.enable sent %d times, want 1", len(got))
	}

	conn.Emit(cdproto.EventRuntimeConsoleAPICalled,
		`{"type":"error","args":[{"type":"string","value":"boom"},{"type":"number","value":7}],
		  "stackTrace":{"callFrames":[{"url":"https://example.com/app.js","lineNumber":12}]}}`)
	conn.Emit(cdproto.EventRuntimeConsoleAPICalled,
		`{"type":"log","args":[{"type":"string","value":"hello"}]}`)
	conn.Emit(cdproto.EventRuntimeExceptionThrown,
		`{"exceptionDetails":{"text":"Uncaught","url":"https://example.com/","lineNumber":3,
		  "exception":{"description":"TypeError: x is not a function"}}}`)

	v, err := g.AfterPass(context.Background(), pc, nil)
	if err != nil {
		t.Fatalf("AfterPass: %v", err)
	}
	want := []ConsoleMessage{
		{Source: "console-api", Level: "error", Text: "boom 7", URL: "https://example.com/app.js", Line: 12},
		{Source: "console-api", Level: "info", Text: "hello"},
		{Source: "exception", Level: "error", Text: "TypeError: x is not a function", URL: "https://example.com/", Line: 3},
	}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}

	if err := g.Teardown(context.Background(), pc); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	conn.Emit(cdproto.EventRuntimeConsoleAPICalled, `{"type":"log","args":[{"type":"string","value":"late"}]}`)
	v, err = g.AfterPass(context.Background(), pc, nil)
	if err != nil {
		t.Fatalf("AfterPass after teardown: %v", err)
	}
	if got := v.([]ConsoleMessage); len(got) != 3 {
		t.Errorf("message observed after teardown: %d messages", len(got))
	}
}

func TestMetaReadsHeadElements(t *testing.T) {
	conn := drivertest.New()
	conn.Stub(cdproto.CommandRuntimeEvaluate,
		`{"result":{"type":"object","value":{"title":"Example Domain","metas":[
			{"name":"description","content":"A page"},
			{"name":"viewport","content":"width=device-width"}]}}}`)

	v, err := NewMeta().AfterPass(context.Background(), passContext(conn), nil)
	if err != nil {
		t.Fatalf("AfterPass: %v", err)
	}
	meta := v.(MetaElements)
	if meta.Title != "Example Domain" {
		t.Errorf("title = %q", meta.Title)
	}
	if got := meta.Find("Description"); got == nil || got.Content != "A page" {
		t.Errorf("Find(Description) = %+v, want case-insensitive match", got)
	}
	if meta.Find("robots") != nil {
		t.Error("Find(robots) matched a missing tag")
	}
}

func TestDoctypeRead(t *testing.T) {
	conn := drivertest.New()
	conn.Stub(cdproto.CommandRuntimeEvaluate,
		`{"result":{"type":"object","value":{"name":"html","publicId":"","systemId":""}}}`)

	v, err := NewDoctype().AfterPass(context.Background(), passContext(conn), nil)
	if err != nil {
		t.Fatalf("AfterPass: %v", err)
	}
	dt := v.(*Doctype)
	if dt.DoctypeName != "html" {
		t.Errorf("doctype name = %q", dt.DoctypeName)
	}
}

func TestDoctypeAbsent(t *testing.T) {
	conn := drivertest.New()
	conn.Stub(cdproto.CommandRuntimeEvaluate, `{"result":{"type":"object","value":null}}`)

	v, err := NewDoctype().AfterPass(context.Background(), passContext(conn), nil)
	if err != nil {
		t.Fatalf("AfterPass: %v", err)
	}
	if v != nil {
		t.Errorf("missing doctype produced %#v, want nil", v)
	}
}

func TestRegisterAll(t *testing.T) {
	r := gather.NewRegistry()
	RegisterAll(r)

	want := []string{ConsoleMessagesName, DoctypeName, MetaElementsName}
	if diff := cmp.Diff(want, r.Names()); diff != "" {
		t.Errorf("registered gatherers mismatch (-want +got):\n%s", diff)
	}
	for _, name := range want {
		resolved, err := r.Resolve([]string{name})
		if err != nil {
			t.Fatalf("Resolve(%s): %v", name, err)
		}
		if resolved[0].Name() != name {
			t.Errorf("Resolve(%s) returned %q", name, resolved[0].Name())
		}
	}
}
