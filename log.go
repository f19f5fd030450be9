package hedge

import "sync"

// RequestLog is the observability trace attached to a request or attempt context (spec §4.4 "Log aggregation",
// §9 "Cyclic log parent/child"). A child log is created for every derived attempt context and is attached as a
// child of its parent. The parent keeps a list of its children only to propagate copy-on-available properties; a
// child holds no reference to its parent or siblings.
type RequestLog struct {
	mu sync.Mutex

	Name                string
	SerializationFormat  string
	RequestContentPreview  string
	ResponseContentPreview string

	children []*RequestLog
	previewHooks []func(*RequestLog)
	ended    bool
}

// NewRequestLog returns a root RequestLog with no parent.
func NewRequestLog() *RequestLog {
	return &RequestLog{}
}

// NewChild derives a child log of l, copying the name/serialization-format properties available at derivation time
// (spec §4.4) and wiring deferred preview propagation: once l's own previews become available via
// DeferRequestContentPreview/DeferResponseContentPreview, every existing and future child receives them too.
func (l *RequestLog) NewChild() *RequestLog {
	l.mu.Lock()
	defer l.mu.Unlock()

	child := &RequestLog{
		Name:                   l.Name,
		SerializationFormat:    l.SerializationFormat,
		RequestContentPreview:  l.RequestContentPreview,
		ResponseContentPreview: l.ResponseContentPreview,
	}
	l.children = append(l.children, child)
	return child
}

// DeferRequestContentPreview records preview as this log's request content preview and pushes it to every child log
// derived so far; children derived afterward copy it in NewChild.
func (l *RequestLog) DeferRequestContentPreview(preview string) {
	l.mu.Lock()
	l.RequestContentPreview = preview
	children := append([]*RequestLog(nil), l.children...)
	l.mu.Unlock()

	for _, c := range children {
		c.DeferRequestContentPreview(preview)
	}
}

// DeferResponseContentPreview is the response-side analogue of DeferRequestContentPreview.
func (l *RequestLog) DeferResponseContentPreview(preview string) {
	l.mu.Lock()
	l.ResponseContentPreview = preview
	children := append([]*RequestLog(nil), l.children...)
	l.mu.Unlock()

	for _, c := range children {
		c.DeferResponseContentPreview(preview)
	}
}

// EndWithLastChild marks l as ended (spec §4.4 "Log aggregation"). It only sets the ended flag: it does not record
// which child completed last and copies no properties from any child. Calling it again has no further effect.
func (l *RequestLog) EndWithLastChild() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended = true
}

// Ended reports whether EndWithLastChild has been called.
func (l *RequestLog) Ended() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ended
}
