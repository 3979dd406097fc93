package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/contractflow/contractflow/pkg/workflow"
)

// RoutingFunc is the function a routing script must define.
const RoutingFunc = "required_tracks"

// maxRoutingSteps bounds the work a single routing call may do.
const maxRoutingSteps = 1_000_000

// StarlarkRouter decides a new contract's required tracks with a Starlark
// script. It implements workflow.Router. The script is executed once at load
// time; each call runs the frozen function on a fresh thread.
//
//	def required_tracks(contract):
//	    if contract.amount >= 100000:
//	        return ["LEGAL", "FINANCE"]
//	    return ["LEGAL"]
type StarlarkRouter struct {
	filename string
	fn       *starlark.Function
	timeout  time.Duration
}

var _ workflow.Router = (*StarlarkRouter)(nil)

// LoadStarlarkRouter reads and compiles a routing script.
func LoadStarlarkRouter(path string, timeout time.Duration) (*StarlarkRouter, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing script: %w", err)
	}
	return NewStarlarkRouter(path, string(src), timeout)
}

// NewStarlarkRouter compiles script, which must define required_tracks(contract).
func NewStarlarkRouter(filename, script string, timeout time.Duration) (*StarlarkRouter, error) {
	if timeout <= 0 {
		timeout = time.Second
	}

	thread := newThread(filename)
	globals, err := starlark.ExecFile(thread, filename, script, predeclared())
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	fn, ok := globals[RoutingFunc].(*starlark.Function)
	if !ok {
		return nil, fmt.Errorf("%s must define a function %s(contract)", filename, RoutingFunc)
	}
	if fn.NumParams() != 1 {
		return nil, fmt.Errorf("%s: %s must take exactly one parameter, got %d", filename, RoutingFunc, fn.NumParams())
	}

	return &StarlarkRouter{filename: filename, fn: fn, timeout: timeout}, nil
}

// RequiredTracks calls the routing function with the contract's fields.
// An empty result defers to the configured defaults.
func (r *StarlarkRouter) RequiredTracks(ctx context.Context, in workflow.CreateInput) ([]workflow.TrackType, error) {
	contract, err := contractStruct(in)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	thread := newThread(r.filename)
	thread.SetMaxExecutionSteps(maxRoutingSteps)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-stop:
		}
	}()

	result, err := starlark.Call(thread, r.fn, starlark.Tuple{contract}, nil)
	if err != nil {
		return nil, fmt.Errorf("routing script failed: %w", err)
	}

	out, err := fromStarlarkValue(result)
	if err != nil {
		return nil, fmt.Errorf("routing script returned %s: %w", result.Type(), err)
	}
	items, ok := out.([]interface{})
	if !ok {
		if out == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("routing script must return a list of track types, got %s", result.Type())
	}

	tracks := make([]workflow.TrackType, 0, len(items))
	seen := make(map[workflow.TrackType]bool)
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("routing script returned non-string track %v", item)
		}
		t, err := workflow.ParseTrackType(s)
		if err != nil {
			return nil, fmt.Errorf("routing script: %w", err)
		}
		if !seen[t] {
			seen[t] = true
			tracks = append(tracks, t)
		}
	}
	if len(tracks) == 0 {
		return nil, nil
	}
	return tracks, nil
}

func newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name:  name,
		Print: func(_ *starlark.Thread, _ string) {},
	}
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct":  starlark.NewBuiltin("struct", starlarkstruct.Make),
		"LEGAL":   starlark.String(workflow.TrackLegal),
		"FINANCE": starlark.String(workflow.TrackFinance),
	}
}

// contractStruct exposes the creation input as a read-only struct.
func contractStruct(in workflow.CreateInput) (starlark.Value, error) {
	fields := map[string]interface{}{
		"title":              in.Title,
		"amount":             in.Amount,
		"currency":           in.Currency,
		"counterparty_name":  in.CounterpartyName,
		"counterparty_email": in.CounterpartyEmail,
	}
	dict := make(starlark.StringDict, len(fields))
	for k, v := range fields {
		sv, err := toStarlarkValue(v)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", k, err)
		}
		dict[k] = sv
	}
	s := starlarkstruct.FromStringDict(starlarkstruct.Default, dict)
	s.Freeze()
	return s, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromIterable(val, val.Len())
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIterable(it starlark.Iterable, n int) ([]interface{}, error) {
	out := make([]interface{}, 0, n)
	iter := it.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		item, err := fromStarlarkValue(x)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
