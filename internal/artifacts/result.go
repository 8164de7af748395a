package artifacts

import (
	"encoding/json"
	"fmt"

	"pharos/internal/fault"
)

// Result is the outcome of producing one artifact: either a value or the
// error that prevented it. Errors are data here, not control flow; they
// surface again only when an audit requires the artifact.
type Result struct {
	value any
	err   *fault.Error
}

// OK wraps a successfully produced value.
func OK(v any) Result { return Result{value: v} }

// Fail wraps a production failure. Foreign errors are coerced to faults so
// the code survives persistence.
func Fail(err error) Result { return Result{err: fault.From(err)} }

// Err returns the captured failure, or nil for a value result.
func (r Result) Err() *fault.Error { return r.err }

// Value returns the raw stored value. After a Load it is a
// json.RawMessage; use As to decode into a concrete type.
func (r Result) Value() any { return r.value }

// IsErr reports whether the result carries a failure instead of a value.
func (r Result) IsErr() bool { return r.err != nil }

// As extracts a result's value as T. In-memory values are type-asserted;
// values reloaded from disk are decoded from their raw JSON. An errored
// result returns its captured fault.
func As[T any](r Result) (T, error) {
	var zero T
	if r.err != nil {
		return zero, r.err
	}
	switch v := r.value.(type) {
	case T:
		return v, nil
	case json.RawMessage:
		var out T
		if err := json.Unmarshal(v, &out); err != nil {
			return zero, fmt.Errorf("decode artifact: %w", err)
		}
		return out, nil
	}
	// Shape mismatch (e.g. a value stored as map[string]any). Re-encode.
	data, err := json.Marshal(r.value)
	if err != nil {
		return zero, fmt.Errorf("artifact value is %T, not %T", r.value, zero)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, fmt.Errorf("artifact value is %T, not %T: %w", r.value, zero, err)
	}
	return out, nil
}

// jsonResult is the persisted form: exactly one of value or error is set.
type jsonResult struct {
	Value json.RawMessage `json:"value,omitempty"`
	Error *fault.Error    `json:"error,omitempty"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.err != nil {
		return json.Marshal(jsonResult{Error: r.err})
	}
	data, err := json.Marshal(r.value)
	if err != nil {
		return nil, fmt.Errorf("encode artifact value: %w", err)
	}
	return json.Marshal(jsonResult{Value: data})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var jr jsonResult
	if err := json.Unmarshal(data, &jr); err != nil {
		return err
	}
	if jr.Error != nil {
		r.err = jr.Error
		r.value = nil
		return nil
	}
	if jr.Value == nil {
		jr.Value = json.RawMessage("null")
	}
	r.value = jr.Value
	r.err = nil
	return nil
}
