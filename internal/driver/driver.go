// Package driver is the command and event channel to an inspectable
// browser tab. The pipeline talks to it through the Connection interface;
// the chromedp-backed implementation lives in this package and a scripted
// stand-in for tests lives in drivertest.
package driver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/runtime"

	"pharos/internal/fault"
)

// EventFunc receives one protocol event. Params are the event's payload,
// re-encoded as raw JSON so subscribers decode only what they need.
// Callbacks run on the connection's event goroutine and must not block.
type EventFunc func(method cdproto.MethodType, params json.RawMessage)

// Connection is a live protocol session with a single browser tab.
//
// Commands are strictly request/response. Events arrive asynchronously the
// whole time the connection is up; subscribers see every event the session
// emits, in arrival order.
type Connection interface {
	// Connect establishes the session and starts event delivery.
	Connect(ctx context.Context) error

	// Disconnect tears the session down. Safe to call when not connected.
	Disconnect() error

	// SendCommand issues one protocol command and, when result is non-nil,
	// decodes the response into it. Transport failures are fatal faults.
	SendCommand(ctx context.Context, method cdproto.MethodType, params, result any) error

	// Subscribe registers fn for all protocol events until the returned
	// remove function is called.
	Subscribe(fn EventFunc) (remove func())
}

type evaluateParams struct {
	Expression    string `json:"expression"`
	ReturnByValue bool   `json:"returnByValue"`
	AwaitPromise  bool   `json:"awaitPromise"`
}

// evaluateReply decodes the slice of Runtime.evaluate's response this
// package relies on, independent of the generated protocol types.
type evaluateReply struct {
	Result struct {
		Type        string          `json:"type"`
		Subtype     string          `json:"subtype"`
		Value       json.RawMessage `json:"value"`
		Description string          `json:"description"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

// Evaluate runs a JavaScript expression in the page, awaiting promises,
// and decodes its JSON-serializable completion value into out. A thrown
// exception comes back as an ordinary error, not a fault: gatherer
// evaluation failures are artifact data, not run failures.
func Evaluate(ctx context.Context, conn Connection, expression string, out any) error {
	params := evaluateParams{
		Expression:    expression,
		ReturnByValue: true,
		AwaitPromise:  true,
	}
	var reply evaluateReply
	if err := conn.SendCommand(ctx, cdproto.CommandRuntimeEvaluate, params, &reply); err != nil {
		return err
	}
	if reply.ExceptionDetails != nil {
		desc := reply.ExceptionDetails.Text
		if reply.ExceptionDetails.Exception != nil && reply.ExceptionDetails.Exception.Description != "" {
			desc = reply.ExceptionDetails.Exception.Description
		}
		return fmt.Errorf("page threw during evaluation: %s", desc)
	}
	if out == nil {
		return nil
	}
	if len(reply.Result.Value) == 0 {
		typ := reply.Result.Type
		if typ == "" {
			typ = string(runtime.TypeUndefined)
		}
		return fmt.Errorf("expression result of type %s is not JSON-serializable", typ)
	}
	if err := json.Unmarshal(reply.Result.Value, out); err != nil {
		return fmt.Errorf("decode evaluation result: %w", err)
	}
	return nil
}

// errNotConnected is shared by implementations for commands sent before
// Connect or after Disconnect.
func errNotConnected(method cdproto.MethodType) error {
	return fault.Protocol(string(method), fmt.Errorf("connection is not established"))
}
