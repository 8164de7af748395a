package artifacts

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pharos/internal/fault"
)

type consoleMessage struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

func testSettings() Settings {
	return Settings{
		MaxWaitForLoadMs: 45000,
		BlankWaitMs:      300,
		FormFactor:       "desktop",
		Throttling:       Throttling{CPURate: 1},
	}
}

func TestSet_GetReservedNames(t *testing.T) {
	s := NewSet("https://example.com/", testSettings())
	s.Warn("something minor")

	r, ok := s.Get(NameURL)
	if !ok {
		t.Fatal("URL should always resolve")
	}
	url, err := As[string](r)
	if err != nil || url != "https://example.com/" {
		t.Fatalf("As[string](URL) = %q, %v", url, err)
	}

	r, ok = s.Get(NameSettings)
	if !ok {
		t.Fatal("Settings should always resolve")
	}
	got, err := As[Settings](r)
	if err != nil {
		t.Fatalf("As[Settings]: %v", err)
	}
	if diff := cmp.Diff(testSettings(), got); diff != "" {
		t.Fatalf("settings mismatch (-want +got):\n%s", diff)
	}

	if _, ok := s.Get("NoSuchArtifact"); ok {
		t.Fatal("unknown artifact should not resolve")
	}
}

func TestSet_PutErrorKeepsFault(t *testing.T) {
	s := NewSet("https://example.com/", testSettings())
	s.PutError("Scripts", errors.New("evaluation timed out"))

	r, ok := s.Get("Scripts")
	if !ok {
		t.Fatal("errored artifact should still resolve")
	}
	if !r.IsErr() {
		t.Fatal("expected an error result")
	}
	if _, err := As[[]string](r); err == nil {
		t.Fatal("As on errored result should return the fault")
	}
	if r.Err().Code != fault.CodeUnknown {
		t.Fatalf("foreign error coerced to code %s", r.Err().Code)
	}
}

func TestAs_ShapeMismatchReencodes(t *testing.T) {
	// Values assembled as generic maps (e.g. by a computed producer built
	// from decoded JSON) still read back as concrete structs.
	r := OK(map[string]any{"level": "error", "text": "boom"})
	msg, err := As[consoleMessage](r)
	if err != nil {
		t.Fatalf("As: %v", err)
	}
	if msg.Level != "error" || msg.Text != "boom" {
		t.Fatalf("decoded %+v", msg)
	}

	if _, err := As[int](OK("not a number")); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := NewSet("https://example.com/", testSettings())
	s.PutValue("ConsoleMessages", []consoleMessage{{Level: "error", Text: "ReferenceError: x"}})
	s.PutError("Doctype", fault.New(fault.CodeUnknown, "page closed early"))
	s.Traces[DefaultPass] = &Trace{Events: []TraceEvent{
		{Name: "firstContentfulPaint", Cat: "loading", Ph: "R", TS: 1234.5},
	}}
	s.DevtoolsLogs[DefaultPass] = []LogEntry{
		{Method: "Network.requestWillBeSent", Params: json.RawMessage(`{"requestId":"1"}`)},
	}
	s.Warn("slow target")

	path := filepath.Join(t.TempDir(), "artifacts.json")
	if err := Save(s, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.URL != s.URL {
		t.Fatalf("url = %q", loaded.URL)
	}
	if diff := cmp.Diff(s.Settings, loaded.Settings); diff != "" {
		t.Fatalf("settings (-want +got):\n%s", diff)
	}

	r, ok := loaded.Get("ConsoleMessages")
	if !ok {
		t.Fatal("ConsoleMessages missing after load")
	}
	msgs, err := As[[]consoleMessage](r)
	if err != nil {
		t.Fatalf("As after load: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "ReferenceError: x" {
		t.Fatalf("decoded %+v", msgs)
	}

	r, _ = loaded.Get("Doctype")
	if !r.IsErr() || r.Err().Message != "page closed early" {
		t.Fatalf("errored artifact lost its message: %+v", r.Err())
	}

	trace := loaded.Traces[DefaultPass]
	if trace == nil || len(trace.Events) != 1 || trace.Events[0].Name != "firstContentfulPaint" {
		t.Fatalf("trace did not survive: %+v", trace)
	}
	logs := loaded.DevtoolsLogs[DefaultPass]
	if len(logs) != 1 || logs[0].Method != "Network.requestWillBeSent" {
		t.Fatalf("devtools log did not survive: %+v", logs)
	}
	if len(loaded.Warnings) != 1 {
		t.Fatalf("warnings = %v", loaded.Warnings)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
