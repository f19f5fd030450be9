package hedgehttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/tailhedge/hedge"
)

// RoundTripper decorates an inner http.RoundTripper with hedging (spec §5.1). Build one with NewRoundTripper or
// NewRoundTripperWithConfig, then optionally chain the On*/WithEndpointGroup methods before first use; RoundTrip
// assembles a fresh hedge.Engine per call from the accumulated configuration; a RoundTripper is safe for
// concurrent use once configuration is done, the same way the teacher's roundTripper is.
type RoundTripper struct {
	next    http.RoundTripper
	mapping hedge.Mapping[*http.Request, *Response]
	group   hedge.EndpointGroup

	onScheduled      func(hedge.AttemptEvent[*Response])
	onCompleted      func(hedge.CompletedEvent[*Response])
	onWinnerSelected func(hedge.WinnerEvent[*Response])
	onLoserCancelled func(hedge.AttemptEvent[*Response])
}

// NewRoundTripper returns a RoundTripper that resolves a hedge.Config per request via mapping. If inner is nil,
// http.DefaultTransport is used.
func NewRoundTripper(inner http.RoundTripper, mapping hedge.Mapping[*http.Request, *Response]) *RoundTripper {
	if inner == nil {
		inner = http.DefaultTransport
	}
	return &RoundTripper{next: inner, mapping: mapping}
}

// NewRoundTripperWithConfig returns a RoundTripper that applies the same hedge.Config to every request.
func NewRoundTripperWithConfig(inner http.RoundTripper, config *hedge.Config[*Response]) *RoundTripper {
	return NewRoundTripper(inner, hedge.NewSingletonMapping[*http.Request, *Response](config))
}

// WithEndpointGroup sets the EndpointGroup used to reselect an Endpoint for every hedge. Without one, hedges reuse
// the initial attempt's URL host.
func (rt *RoundTripper) WithEndpointGroup(group hedge.EndpointGroup) *RoundTripper {
	rt.group = group
	return rt
}

// OnAttemptScheduled registers a listener fired whenever an attempt is about to start.
func (rt *RoundTripper) OnAttemptScheduled(fn func(hedge.AttemptEvent[*Response])) *RoundTripper {
	rt.onScheduled = fn
	return rt
}

// OnAttemptCompleted registers a listener fired once an attempt finishes and its rule has been evaluated.
func (rt *RoundTripper) OnAttemptCompleted(fn func(hedge.CompletedEvent[*Response])) *RoundTripper {
	rt.onCompleted = fn
	return rt
}

// OnWinnerSelected registers a listener fired once, when an attempt's response is chosen as the result.
func (rt *RoundTripper) OnWinnerSelected(fn func(hedge.WinnerEvent[*Response])) *RoundTripper {
	rt.onWinnerSelected = fn
	return rt
}

// OnLoserCancelled registers a listener fired for every attempt cancelled once a winner is chosen.
func (rt *RoundTripper) OnLoserCancelled(fn func(hedge.AttemptEvent[*Response])) *RoundTripper {
	rt.onLoserCancelled = fn
	return rt
}

func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	bodyFunc, err := bodyReader(req.Body)
	if err != nil {
		return nil, err
	}

	delegate := hedge.DelegateClientFunc[*http.Request, *Response](func(ctx *hedge.Context[*Response], r *http.Request) (*Response, error) {
		attemptReq := r.Clone(ctx)
		if ctx.Endpoint.Authority != "" {
			attemptReq.URL.Host = ctx.Endpoint.Authority
		}
		if bodyFunc != nil {
			body, err := bodyFunc()
			if err != nil {
				return nil, err
			}
			if rc, ok := body.(io.ReadCloser); ok {
				attemptReq.Body = rc
			} else {
				attemptReq.Body = io.NopCloser(body)
			}
		}

		resp, err := rt.next.RoundTrip(attemptReq)
		if err != nil {
			return nil, classifyError(err)
		}
		return &Response{Response: resp}, nil
	})

	builder := hedge.NewEngineBuilder[*http.Request, *Response](delegate, rt.mapping).
		WithContentSource(newContentSource).
		WithAttemptStamper(stampRetryCount)
	if rt.onScheduled != nil {
		builder.OnAttemptScheduled(rt.onScheduled)
	}
	if rt.onCompleted != nil {
		builder.OnAttemptCompleted(rt.onCompleted)
	}
	if rt.onWinnerSelected != nil {
		builder.OnWinnerSelected(rt.onWinnerSelected)
	}
	if rt.onLoserCancelled != nil {
		builder.OnLoserCancelled(rt.onLoserCancelled)
	}
	engine := builder.Build()

	group := rt.group
	if group == nil {
		group = hedge.NewRoundRobinGroup(hedge.Endpoint{Authority: req.URL.Host})
	}
	ctx := hedge.NewContext[*Response](req.Context(), group, hedge.Endpoint{Authority: req.URL.Host})
	ctx.SetAttr(hedge.IdempotentAttrKey, isIdempotentMethod(req.Method))

	resp, err := engine.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Response, nil
}

// classifyError maps a raw net/http transport error onto the hedge package's sentinels (spec §7) so builder
// vocabulary like onUnprocessed/onTimeoutException can actually match something: a dial that never reached the
// server is unprocessed (always safe to hedge), a deadline or network timeout is Timeout, and anything else passes
// through untouched so onException(predicate) can still inspect the original error.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", hedge.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", hedge.ErrTimeout, err)
	}
	if isUnprocessed(err) {
		return fmt.Errorf("%w: %v", hedge.ErrUnprocessedRequest, err)
	}
	return err
}

// isUnprocessed reports whether err means the request never reached the server: connection refused, or any other
// failure to even establish the connection.
func isUnprocessed(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}

// isIdempotentMethod reports whether method is safe to hedge without risking a double side effect (RFC 7231 §4.2.2
// idempotent methods), the gate hedgehttp.Failsafe applies before ever hedging a request.
func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// stampRetryCount clones req and sets the armeria-retry-count header for a non-initial attempt (spec §4.4).
func stampRetryCount(req *http.Request, attemptIndex int) *http.Request {
	clone := req.Clone(req.Context())
	clone.Header.Set(hedge.RetryCountHeader, hedge.RetryCountHeaderValue(attemptIndex))
	return clone
}

// bodyReader returns a function that can repeatedly produce a fresh reader over untypedBody, one call per attempt,
// grounded on failsafehttp's bodyReader (same per-attempt body replay problem retries face).
func bodyReader(untypedBody any) (func() (io.Reader, error), error) {
	switch body := untypedBody.(type) {
	case nil:
		return nil, nil

	case *bytes.Buffer:
		return func() (io.Reader, error) {
			return bytes.NewReader(body.Bytes()), nil
		}, nil

	case *bytes.Reader:
		buf, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		return func() (io.Reader, error) {
			return bytes.NewReader(buf), nil
		}, nil

	case io.ReadSeeker:
		return func() (io.Reader, error) {
			_, err := body.Seek(0, 0)
			return io.NopCloser(body), err
		}, nil

	case io.Reader:
		buf, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		return func() (io.Reader, error) {
			if len(buf) == 0 {
				return http.NoBody, nil
			}
			return bytes.NewReader(buf), nil
		}, nil

	default:
		return nil, fmt.Errorf("hedgehttp: unsupported request body type %T", untypedBody)
	}
}
