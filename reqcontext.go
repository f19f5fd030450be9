package hedge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Context carries everything an attempt needs beyond the outbound request itself: cancellation and deadline (via
// the embedded context.Context), a freshly selected Endpoint, the request-id generator, the EndpointGroup to select
// from for non-initial attempts, the RequestLog to attach a child under, and a small attribute store (spec §6
// "Attributes (attach/read by key)"). The Engine uses the attribute store to record each attempt's index
// (AttemptIndexAttrKey), and adapters use it for per-request flags such as IdempotentAttrKey. The Engine's State is
// not kept here.
//
// A Context is shared between the Engine and the delegate client for the duration of one attempt; it must not be
// retained past that attempt's completion.
type Context[R any] struct {
	context.Context

	RequestID string
	Endpoint  Endpoint
	Log       *RequestLog

	group EndpointGroup
	idGen func() string

	attrMu sync.RWMutex
	attrs  map[any]any
}

// NewContext returns a root Context for an outer request, wrapping std (which carries the caller's deadline and
// cancellation), selecting group as the EndpointGroup for non-initial attempts, and endpoint as the initial
// attempt's endpoint.
func NewContext[R any](std context.Context, group EndpointGroup, endpoint Endpoint) *Context[R] {
	if std == nil {
		std = context.Background()
	}
	return &Context[R]{
		Context:   std,
		RequestID: newRequestID(),
		Endpoint:  endpoint,
		Log:       NewRequestLog(),
		group:     group,
		idGen:     newRequestID,
	}
}

// SetAttr attaches an attribute by key. Attr then returns (nil, false) for a key that was never set on this Context
// or inherited from the parent it was derived from (see newDerivedContext).
func (c *Context[R]) SetAttr(key, value any) {
	c.attrMu.Lock()
	defer c.attrMu.Unlock()
	if c.attrs == nil {
		c.attrs = make(map[any]any)
	}
	c.attrs[key] = value
}

// Attr looks up an attribute previously set with SetAttr.
func (c *Context[R]) Attr(key any) (any, bool) {
	c.attrMu.RLock()
	defer c.attrMu.RUnlock()
	v, ok := c.attrs[key]
	return v, ok
}

// Push returns a no-op restore function, standing in for the scoped "current context" marker spec §6 describes
// (`push()`). Single-goroutine-per-request engines like this one never need a thread-local current context, but the
// hook is kept so adapters ported from a framework that does can call it without special-casing this engine.
func (c *Context[R]) Push() (restore func()) {
	return func() {}
}

// newDerivedContext implements spec §4.5: a fresh request id, a reused or freshly selected endpoint, and a child log
// wired to inherit deferred previews from the parent. The returned Context has no timeout applied yet; the Engine
// applies the effective per-attempt timeout via context.WithTimeout after calling this.
func newDerivedContext[R any](parent *Context[R], isInitialAttempt bool) *Context[R] {
	endpoint := parent.Endpoint
	if !isInitialAttempt && parent.group != nil {
		if selected, ok := parent.group.SelectNow(); ok {
			endpoint = selected
		}
	}

	idGen := parent.idGen
	if idGen == nil {
		idGen = newRequestID
	}

	derived := &Context[R]{
		Context:   parent.Context,
		RequestID: idGen(),
		Endpoint:  endpoint,
		Log:       parent.Log.NewChild(),
		group:     parent.group,
		idGen:     idGen,
	}

	// Attributes set on the outer request (e.g. hedgehttp's idempotency flag) carry forward to every attempt; each
	// derived Context gets its own copy of the map so concurrent attempts can set attempt-local keys (AttemptIndex)
	// without racing one another over a shared map.
	parent.attrMu.RLock()
	if len(parent.attrs) > 0 {
		derived.attrs = make(map[any]any, len(parent.attrs))
		for k, v := range parent.attrs {
			derived.attrs[k] = v
		}
	}
	parent.attrMu.RUnlock()

	return derived
}

// withTimeout returns a copy of c whose embedded context.Context is scoped with the given timeout, along with the
// cancel function the caller must invoke once the attempt is done (win, lose, or error) to release timer resources.
func (c *Context[R]) withTimeout(parent context.Context, timeout *time.Duration) (*Context[R], func()) {
	var (
		ctx    context.Context
		cancel func()
	)
	if timeout == nil {
		ctx, cancel = context.WithCancel(parent)
	} else {
		ctx, cancel = context.WithTimeout(parent, *timeout)
	}
	derived := *c
	derived.Context = ctx
	return &derived, cancel
}

func newRequestID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
