// Package gatherers holds the stock gatherer implementations and the
// artifact value types they produce. Audits decode these types back out of
// the artifact set with artifacts.As.
package gatherers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/chromedp/cdproto"

	"pharos/internal/gather"
)

// ConsoleMessagesName is the artifact name for console output.
const ConsoleMessagesName = "console-messages"

// ConsoleMessage is one console API call or uncaught exception observed
// while the page loaded.
type ConsoleMessage struct {
	Source string `json:"source"`
	Level  string `json:"level"`
	Text   string `json:"text"`
	URL    string `json:"url,omitempty"`
	Line   int64  `json:"line,omitempty"`
}

type consoleAPIPayload struct {
	Type string `json:"type"`
	Args []struct {
		Type        string          `json:"type"`
		Value       json.RawMessage `json:"value"`
		Description string          `json:"description"`
	} `json:"args"`
	StackTrace *struct {
		CallFrames []struct {
			URL        string `json:"url"`
			LineNumber int64  `json:"lineNumber"`
		} `json:"callFrames"`
	} `json:"stackTrace"`
}

type exceptionThrownPayload struct {
	ExceptionDetails struct {
		Text       string `json:"text"`
		URL        string `json:"url"`
		LineNumber int64  `json:"lineNumber"`
		Exception  *struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

// ConsoleMessages records console API calls and uncaught exceptions for
// every pass that lists it. Subscription starts at Setup so messages
// emitted between passes are not lost, and ends at Teardown.
type ConsoleMessages struct {
	gather.Base

	mu       sync.Mutex
	messages []ConsoleMessage
	remove   func()
}

func NewConsoleMessages() *ConsoleMessages { return &ConsoleMessages{} }

func (g *ConsoleMessages) Name() string { return ConsoleMessagesName }

func (g *ConsoleMessages) Setup(ctx context.Context, pc *gather.PassContext) error {
	if err := pc.Conn.SendCommand(ctx, cdproto.CommandRuntimeEnable, nil, nil); err != nil {
		return err
	}
	g.remove = pc.Conn.Subscribe(g.observe)
	return nil
}

func (g *ConsoleMessages) observe(method cdproto.MethodType, params json.RawMessage) {
	switch method {
	case cdproto.EventRuntimeConsoleAPICalled:
		var p consoleAPIPayload
		if json.Unmarshal(params, &p) != nil {
			return
		}
		msg := ConsoleMessage{Source: "console-api", Level: consoleLevel(p.Type), Text: argsText(p)}
		if p.StackTrace != nil && len(p.StackTrace.CallFrames) > 0 {
			msg.URL = p.StackTrace.CallFrames[0].URL
			msg.Line = p.StackTrace.CallFrames[0].LineNumber
		}
		g.append(msg)
	case cdproto.EventRuntimeExceptionThrown:
		var p exceptionThrownPayload
		if json.Unmarshal(params, &p) != nil {
			return
		}
		text := p.ExceptionDetails.Text
		if p.ExceptionDetails.Exception != nil && p.ExceptionDetails.Exception.Description != "" {
			text = p.ExceptionDetails.Exception.Description
		}
		g.append(ConsoleMessage{
			Source: "exception",
			Level:  "error",
			Text:   text,
			URL:    p.ExceptionDetails.URL,
			Line:   p.ExceptionDetails.LineNumber,
		})
	}
}

func consoleLevel(apiType string) string {
	switch apiType {
	case "error", "assert":
		return "error"
	case "warning":
		return "warning"
	default:
		return "info"
	}
}

func argsText(p consoleAPIPayload) string {
	text := ""
	for i, arg := range p.Args {
		if i > 0 {
			text += " "
		}
		switch {
		case arg.Type == "string":
			var s string
			if json.Unmarshal(arg.Value, &s) == nil {
				text += s
			}
		case len(arg.Value) > 0:
			text += string(arg.Value)
		default:
			text += arg.Description
		}
	}
	return text
}

func (g *ConsoleMessages) append(msg ConsoleMessage) {
	g.mu.Lock()
	g.messages = append(g.messages, msg)
	g.mu.Unlock()
}

func (g *ConsoleMessages) AfterPass(context.Context, *gather.PassContext, *gather.LoadData) (any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ConsoleMessage, len(g.messages))
	copy(out, g.messages)
	return out, nil
}

func (g *ConsoleMessages) Teardown(context.Context, *gather.PassContext) error {
	if g.remove != nil {
		g.remove()
		g.remove = nil
	}
	return nil
}
