// Package netlog reassembles network request records from the DevTools
// events captured during a pass. The gather stage feeds it live to detect
// network quiet; computed producers and audits feed it from the recorded
// log to analyze what the page fetched.
package netlog

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto"

	"pharos/internal/artifacts"
)

// Resource types as reported by the protocol.
const (
	TypeDocument    = "Document"
	TypeScript      = "Script"
	TypeStylesheet  = "Stylesheet"
	TypeImage       = "Image"
	TypeXHR         = "XHR"
	TypeWebSocket   = "WebSocket"
	TypeEventSource = "EventSource"
)

// Timing is the slice of the protocol's resource timing the pipeline uses.
// Values are milliseconds relative to the request's start.
type Timing struct {
	SendEnd           float64 `json:"sendEnd"`
	ReceiveHeadersEnd float64 `json:"receiveHeadersEnd"`
}

// Record is one network request, redirect hops split into separate records
// linked through RedirectSource and RedirectDestination.
type Record struct {
	RequestID    string            `json:"requestId"`
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	ResourceType string            `json:"resourceType"`
	Protocol     string            `json:"protocol,omitempty"`
	StatusCode   int               `json:"statusCode"`
	MimeType     string            `json:"mimeType,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	TransferSize int64             `json:"transferSize"`
	ResourceSize int64             `json:"resourceSize"`
	StartTime    float64           `json:"startTime"`
	EndTime      float64           `json:"endTime"`
	Timing       *Timing           `json:"timing,omitempty"`
	FrameID      string            `json:"frameId,omitempty"`

	Finished  bool   `json:"finished"`
	Failed    bool   `json:"failed"`
	Canceled  bool   `json:"canceled"`
	ErrorText string `json:"errorText,omitempty"`
	FromCache bool   `json:"fromCache"`

	RedirectSource      *Record `json:"-"`
	RedirectDestination *Record `json:"-"`
}

// Decode targets for the recorded event payloads. Kept local so saved logs
// parse the same way regardless of the protocol library that captured them.
type responsePayload struct {
	URL           string         `json:"url"`
	Status        int            `json:"status"`
	MimeType      string         `json:"mimeType"`
	Protocol      string         `json:"protocol"`
	FromDiskCache bool           `json:"fromDiskCache"`
	Headers       map[string]any `json:"headers"`
	Timing        *Timing        `json:"timing"`
}

func headerStrings(h map[string]any) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = fmt.Sprint(v)
	}
	return out
}

type requestWillBeSentPayload struct {
	RequestID string  `json:"requestId"`
	FrameID   string  `json:"frameId"`
	Timestamp float64 `json:"timestamp"`
	Type      string  `json:"type"`
	Request   struct {
		URL    string `json:"url"`
		Method string `json:"method"`
	} `json:"request"`
	RedirectResponse *responsePayload `json:"redirectResponse"`
}

type responseReceivedPayload struct {
	RequestID string          `json:"requestId"`
	Timestamp float64         `json:"timestamp"`
	Type      string          `json:"type"`
	Response  responsePayload `json:"response"`
}

type dataReceivedPayload struct {
	RequestID  string `json:"requestId"`
	DataLength int64  `json:"dataLength"`
}

type loadingFinishedPayload struct {
	RequestID         string  `json:"requestId"`
	Timestamp         float64 `json:"timestamp"`
	EncodedDataLength int64   `json:"encodedDataLength"`
}

type loadingFailedPayload struct {
	RequestID string  `json:"requestId"`
	Timestamp float64 `json:"timestamp"`
	ErrorText string  `json:"errorText"`
	Canceled  bool    `json:"canceled"`
}

type servedFromCachePayload struct {
	RequestID string `json:"requestId"`
}

// Recorder folds network events into records. Safe for concurrent Observe
// and Inflight; take Records only after the event stream has stopped.
type Recorder struct {
	mu      sync.Mutex
	ordered []*Record
	live    map[string]*Record
}

func NewRecorder() *Recorder {
	return &Recorder{live: map[string]*Record{}}
}

// FromLog replays a recorded devtools log into records.
func FromLog(entries []artifacts.LogEntry) []*Record {
	r := NewRecorder()
	for _, e := range entries {
		r.Observe(e.Method, e.Params)
	}
	return r.Records()
}

// Observe folds one protocol event into the recorder. Non-network methods
// and undecodable payloads are ignored.
func (r *Recorder) Observe(method string, params json.RawMessage) {
	switch method {
	case string(cdproto.EventNetworkRequestWillBeSent):
		var p requestWillBeSentPayload
		if json.Unmarshal(params, &p) == nil {
			r.onRequestWillBeSent(p)
		}
	case string(cdproto.EventNetworkResponseReceived):
		var p responseReceivedPayload
		if json.Unmarshal(params, &p) == nil {
			r.onResponseReceived(p)
		}
	case string(cdproto.EventNetworkDataReceived):
		var p dataReceivedPayload
		if json.Unmarshal(params, &p) == nil {
			r.onDataReceived(p)
		}
	case string(cdproto.EventNetworkLoadingFinished):
		var p loadingFinishedPayload
		if json.Unmarshal(params, &p) == nil {
			r.onLoadingFinished(p)
		}
	case string(cdproto.EventNetworkLoadingFailed):
		var p loadingFailedPayload
		if json.Unmarshal(params, &p) == nil {
			r.onLoadingFailed(p)
		}
	case string(cdproto.EventNetworkRequestServedFromCache):
		var p servedFromCachePayload
		if json.Unmarshal(params, &p) == nil {
			r.onServedFromCache(p)
		}
	}
}

func (r *Recorder) onRequestWillBeSent(p requestWillBeSentPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.live[p.RequestID]; ok && p.RedirectResponse != nil {
		// The previous hop redirected. Close it out and chain the new one.
		prev.StatusCode = p.RedirectResponse.Status
		prev.Protocol = p.RedirectResponse.Protocol
		prev.Timing = p.RedirectResponse.Timing
		prev.EndTime = p.Timestamp
		prev.Finished = true
		next := r.newRecord(p)
		next.RedirectSource = prev
		prev.RedirectDestination = next
		r.live[p.RequestID] = next
		return
	}
	r.live[p.RequestID] = r.newRecord(p)
}

func (r *Recorder) newRecord(p requestWillBeSentPayload) *Record {
	rec := &Record{
		RequestID:    p.RequestID,
		URL:          p.Request.URL,
		Method:       p.Request.Method,
		ResourceType: p.Type,
		StartTime:    p.Timestamp,
		FrameID:      p.FrameID,
	}
	r.ordered = append(r.ordered, rec)
	return rec
}

func (r *Recorder) onResponseReceived(p responseReceivedPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.live[p.RequestID]
	if !ok {
		return
	}
	rec.StatusCode = p.Response.Status
	rec.MimeType = p.Response.MimeType
	rec.Protocol = p.Response.Protocol
	rec.Headers = headerStrings(p.Response.Headers)
	rec.Timing = p.Response.Timing
	if p.Type != "" {
		rec.ResourceType = p.Type
	}
	if p.Response.FromDiskCache {
		rec.FromCache = true
	}
}

func (r *Recorder) onDataReceived(p dataReceivedPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.live[p.RequestID]; ok {
		rec.ResourceSize += p.DataLength
	}
}

func (r *Recorder) onLoadingFinished(p loadingFinishedPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.live[p.RequestID]
	if !ok {
		return
	}
	rec.Finished = true
	rec.EndTime = p.Timestamp
	if p.EncodedDataLength > 0 {
		rec.TransferSize = p.EncodedDataLength
	}
}

func (r *Recorder) onLoadingFailed(p loadingFailedPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.live[p.RequestID]
	if !ok {
		return
	}
	rec.Finished = true
	rec.Failed = true
	rec.Canceled = p.Canceled
	rec.ErrorText = p.ErrorText
	rec.EndTime = p.Timestamp
}

func (r *Recorder) onServedFromCache(p servedFromCachePayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.live[p.RequestID]; ok {
		rec.FromCache = true
	}
}

// Records returns every observed request in arrival order.
func (r *Recorder) Records() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Inflight counts requests still outstanding. Long-lived streaming types
// never finish and are excluded so they cannot hold off network quiet.
func (r *Recorder) Inflight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.ordered {
		if rec.Finished || rec.FromCache {
			continue
		}
		if rec.ResourceType == TypeWebSocket || rec.ResourceType == TypeEventSource {
			continue
		}
		n++
	}
	return n
}
