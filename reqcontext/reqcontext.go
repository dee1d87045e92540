// Package reqcontext is the per-invocation handle a running function uses
// to read/write request-scoped state, report progress, and record metrics.
// The source SDK exposes this via a thread-local; Go has no goroutine-local
// storage, so Current binds a Context to the calling goroutine's runtime id
// instead (see internal/gid) — an explicit stand-in for the thread-local,
// bound and unbound once per function call by whichever runner is driving
// it.
package reqcontext

import (
	"sync"

	"github.com/tensorlake/sdk-go/internal/gid"
	"github.com/tensorlake/sdk-go/internal/obs"
	"github.com/tensorlake/sdk-go/sdkerrors"
	"github.com/tensorlake/sdk-go/serializer"
)

// State is the request-scoped key/value store available to a running
// function. Values persist for the lifetime of one request.
type State interface {
	Get(key string) (value any, ok bool, err error)
	Set(key string, value any) error
}

// Metrics lets a function emit named counters and timers for the request.
type Metrics interface {
	Counter(name string, value int)
	Timer(name string, valueSeconds float64)
}

// Progress lets a function report step-level progress for the request.
type Progress interface {
	Update(current, total float64, message string, attributes map[string]string) error
}

// Context is the handle a function body reaches for via Current.
type Context interface {
	RequestID() string
	State() State
	Progress() Progress
	Metrics() Metrics
}

var (
	mu      sync.RWMutex
	bound   = map[uint64]Context{}
)

// Bind associates ctx with the calling goroutine. Call Unbind (typically
// deferred) before the goroutine exits or is reused for other work.
func Bind(ctx Context) {
	id := gid.Current()
	mu.Lock()
	defer mu.Unlock()
	bound[id] = ctx
}

// Unbind removes the calling goroutine's association, if any.
func Unbind() {
	id := gid.Current()
	mu.Lock()
	defer mu.Unlock()
	delete(bound, id)
}

// Current returns the Context bound to the calling goroutine. It fails with
// a UsageError when called from a goroutine a runner never bound — most
// commonly, a goroutine spawned by user code itself rather than by the
// runner.
func Current() (Context, error) {
	id := gid.Current()
	mu.RLock()
	defer mu.RUnlock()
	ctx, ok := bound[id]
	if !ok {
		return nil, sdkerrors.NewUsageError("reqcontext: called outside of a bound function call goroutine")
	}
	return ctx, nil
}

// Basic is the default Context implementation, backed by an in-memory
// state map, a progress sink, and Prometheus-backed metrics (shared with
// the rest of the process via internal/obs).
type Basic struct {
	requestID string
	state     *MemoryState
	progress  Progress
	metrics   Metrics
}

// NewBasic builds a Basic context for requestID, using progress as the
// sink for Update calls. If progress is nil, progress updates are dropped.
func NewBasic(requestID string, progress Progress) *Basic {
	if progress == nil {
		progress = DroppedProgress{}
	}
	return &Basic{
		requestID: requestID,
		state:     NewMemoryState(),
		progress:  progress,
		metrics:   promMetrics{},
	}
}

func (b *Basic) RequestID() string  { return b.requestID }
func (b *Basic) State() State       { return b.state }
func (b *Basic) Progress() Progress { return b.progress }
func (b *Basic) Metrics() Metrics   { return b.metrics }

// MemoryState is a State that keeps every value serialized in memory, the
// same discipline the remote runner's networked state store enforces, so
// behavior stays consistent between local and remote runs.
type MemoryState struct {
	mu   sync.RWMutex
	data map[string]*serializer.Blob
}

func NewMemoryState() *MemoryState {
	return &MemoryState{data: map[string]*serializer.Blob{}}
}

func (s *MemoryState) Get(key string) (any, bool, error) {
	s.mu.RLock()
	blob, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	codec, err := serializer.ByName(blob.SerializerName)
	if err != nil {
		return nil, false, err
	}
	v, err := codec.Unmarshal(blob.Data, blob.ClassHint)
	if err != nil {
		return nil, false, &sdkerrors.SerializationError{Serializer: blob.SerializerName, Cause: err}
	}
	return v, true, nil
}

func (s *MemoryState) Set(key string, value any) error {
	codec, err := serializer.ByName(serializer.Binary)
	if err != nil {
		return err
	}
	data, err := codec.Marshal(value)
	if err != nil {
		return &sdkerrors.SerializationError{Serializer: serializer.Binary, Cause: err}
	}
	blob := &serializer.Blob{
		Data:           data,
		SerializerName: serializer.Binary,
		ContentType:    codec.ContentType(),
		ClassHint:      serializer.ClassTokenOf(value),
	}
	s.mu.Lock()
	s.data[key] = blob
	s.mu.Unlock()
	return nil
}

// DroppedProgress discards progress updates.
type DroppedProgress struct{}

func (DroppedProgress) Update(current, total float64, message string, attributes map[string]string) error {
	return nil
}

type promMetrics struct{}

func (promMetrics) Counter(name string, value int)           { obs.CounterAdd(name, float64(value)) }
func (promMetrics) Timer(name string, valueSeconds float64) { obs.TimerObserve(name, valueSeconds) }
