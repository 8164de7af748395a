package driver_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/chromedp/cdproto"

	"pharos/internal/driver"
	"pharos/internal/driver/drivertest"
)

func TestEvaluate_DecodesValue(t *testing.T) {
	conn := drivertest.New()
	conn.Stub(cdproto.CommandRuntimeEvaluate, `{"result":{"type":"object","value":{"title":"Hello","lang":"en"}}}`)

	var got struct {
		Title string `json:"title"`
		Lang  string `json:"lang"`
	}
	if err := driver.Evaluate(context.Background(), conn, `({title: document.title, lang: document.documentElement.lang})`, &got); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Title != "Hello" || got.Lang != "en" {
		t.Fatalf("decoded %+v", got)
	}

	calls := conn.CallsTo(cdproto.CommandRuntimeEvaluate)
	if len(calls) != 1 {
		t.Fatalf("expected one evaluate call, got %d", len(calls))
	}
	var params struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}
	if err := json.Unmarshal(calls[0], &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if !params.ReturnByValue || !params.AwaitPromise {
		t.Fatalf("evaluate must request byValue and awaitPromise: %+v", params)
	}
	if !strings.Contains(params.Expression, "document.title") {
		t.Fatalf("expression = %q", params.Expression)
	}
}

func TestEvaluate_PageException(t *testing.T) {
	conn := drivertest.New()
	conn.Stub(cdproto.CommandRuntimeEvaluate,
		`{"result":{"type":"object","subtype":"error"},"exceptionDetails":{"text":"Uncaught","exception":{"description":"ReferenceError: x is not defined"}}}`)

	var out any
	err := driver.Evaluate(context.Background(), conn, `x`, &out)
	if err == nil {
		t.Fatal("expected error for thrown exception")
	}
	if !strings.Contains(err.Error(), "ReferenceError") {
		t.Fatalf("error should carry the page's description: %v", err)
	}
}

func TestEvaluate_NonSerializableResult(t *testing.T) {
	conn := drivertest.New()
	conn.Stub(cdproto.CommandRuntimeEvaluate, `{"result":{"type":"undefined"}}`)

	var out any
	if err := driver.Evaluate(context.Background(), conn, `void 0`, &out); err == nil {
		t.Fatal("expected error for undefined result")
	}
}

func TestConn_EventFanout(t *testing.T) {
	conn := drivertest.New()

	var seen []string
	remove := conn.Subscribe(func(method cdproto.MethodType, params json.RawMessage) {
		seen = append(seen, string(method))
	})
	conn.Emit(cdproto.EventPageLoadEventFired, `{"timestamp":1}`)
	remove()
	conn.Emit(cdproto.EventPageLoadEventFired, `{"timestamp":2}`)

	if len(seen) != 1 || seen[0] != string(cdproto.EventPageLoadEventFired) {
		t.Fatalf("seen = %v", seen)
	}
}

func TestConn_StubQueueLastSticky(t *testing.T) {
	conn := drivertest.New()
	conn.Stub(cdproto.CommandPageNavigate, `{"frameId":"A"}`)
	conn.Stub(cdproto.CommandPageNavigate, `{"frameId":"B"}`)

	var nav struct {
		FrameID string `json:"frameId"`
	}
	for _, want := range []string{"A", "B", "B"} {
		if err := conn.SendCommand(context.Background(), cdproto.CommandPageNavigate, nil, &nav); err != nil {
			t.Fatalf("SendCommand: %v", err)
		}
		if nav.FrameID != want {
			t.Fatalf("frameId = %q, want %q", nav.FrameID, want)
		}
	}
}
