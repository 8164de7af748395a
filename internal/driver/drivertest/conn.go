// Package drivertest provides a scripted driver.Connection for tests:
// canned command responses keyed by protocol method, hooks that fire on
// specific commands, and synchronous event emission.
package drivertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto"

	"pharos/internal/driver"
)

// Call is one recorded SendCommand invocation.
type Call struct {
	Method cdproto.MethodType
	Params json.RawMessage
}

type response struct {
	result json.RawMessage
	err    error
}

// Conn implements driver.Connection against scripted responses. Unstubbed
// methods succeed with an empty result, so tests only script what they
// assert on.
type Conn struct {
	mu        sync.Mutex
	connected bool
	results   map[cdproto.MethodType][]response
	hooks     map[cdproto.MethodType]func(params json.RawMessage)
	calls     []Call
	subs      map[int]driver.EventFunc
	nextSub   int

	// ConnectErr, when set, is returned by Connect.
	ConnectErr error
}

var _ driver.Connection = (*Conn)(nil)

func New() *Conn {
	return &Conn{
		results: map[cdproto.MethodType][]response{},
		hooks:   map[cdproto.MethodType]func(json.RawMessage){},
		subs:    map[int]driver.EventFunc{},
	}
}

// Stub queues a JSON result for method. Multiple stubs for one method are
// consumed in order; the last one is sticky.
func (c *Conn) Stub(method cdproto.MethodType, resultJSON string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[method] = append(c.results[method], response{result: json.RawMessage(resultJSON)})
}

// StubError queues an error for method, returned verbatim. Simulate a
// transport failure by stubbing a fault from fault.Protocol.
func (c *Conn) StubError(method cdproto.MethodType, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[method] = append(c.results[method], response{err: err})
}

// OnCommand registers fn to run whenever method is sent, after the
// response is chosen. Used to emit events in reaction to a command.
func (c *Conn) OnCommand(method cdproto.MethodType, fn func(params json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks[method] = fn
}

func (c *Conn) Connect(ctx context.Context) error {
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *Conn) Disconnect() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// Connected reports whether Connect has been called without a later
// Disconnect.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Conn) SendCommand(ctx context.Context, method cdproto.MethodType, params, result any) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("drivertest: encode params for %s: %w", method, err)
		}
		raw = data
	}

	c.mu.Lock()
	c.calls = append(c.calls, Call{Method: method, Params: raw})
	resp := response{result: json.RawMessage(`{}`)}
	if queue := c.results[method]; len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			c.results[method] = queue[1:]
		}
	}
	hook := c.hooks[method]
	c.mu.Unlock()

	if hook != nil {
		hook(raw)
	}
	if resp.err != nil {
		return resp.err
	}
	if result != nil {
		if err := json.Unmarshal(resp.result, result); err != nil {
			return fmt.Errorf("drivertest: decode stubbed result for %s: %w", method, err)
		}
	}
	return nil
}

func (c *Conn) Subscribe(fn driver.EventFunc) (remove func()) {
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

// Emit delivers an event to all current subscribers, synchronously.
func (c *Conn) Emit(method cdproto.MethodType, paramsJSON string) {
	c.mu.Lock()
	fns := make([]driver.EventFunc, 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(method, json.RawMessage(paramsJSON))
	}
}

// Calls returns a copy of every recorded command, in send order.
func (c *Conn) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallsTo returns the recorded params of every send of method.
func (c *Conn) CallsTo(method cdproto.MethodType) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []json.RawMessage
	for _, call := range c.calls {
		if call.Method == method {
			out = append(out, call.Params)
		}
	}
	return out
}
