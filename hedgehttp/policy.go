package hedgehttp

import (
	"context"
	"net/http"

	"github.com/tailhedge/hedge"
)

// NewRuleBuilder returns an empty hedge.RuleWithContentBuilder for *Response, with no conditions set. The
// HTTP-specific conditions below (OnStatus, OnStatusClass, OnServerErrorStatus) are added by passing the builder to
// them, alongside the base OnException/OnTimeoutException/OnUnprocessed.
func NewRuleBuilder() hedge.RuleWithContentBuilder[*Response] {
	return hedge.NewRuleWithContentBuilder[*Response]()
}

// OnStatus hedges when the response status code equals code.
func OnStatus(b hedge.RuleWithContentBuilder[*Response], code int) hedge.RuleWithContentBuilder[*Response] {
	return b.OnResponse(func(resp *Response) bool {
		return resp != nil && resp.StatusCode == code
	})
}

// OnStatusClass hedges when the response status falls in [class*100, class*100+100), e.g. OnStatusClass(b, 5) for
// any 5xx.
func OnStatusClass(b hedge.RuleWithContentBuilder[*Response], class int) hedge.RuleWithContentBuilder[*Response] {
	lo := class * 100
	hi := lo + 100
	return b.OnResponse(func(resp *Response) bool {
		return resp != nil && resp.StatusCode >= lo && resp.StatusCode < hi
	})
}

// OnServerErrorStatus hedges on most 5xx responses, excluding 501 Not Implemented (grounded on
// failsafehttp.NewRetryPolicyBuilder's retryHandleFunc, which draws the same line).
func OnServerErrorStatus(b hedge.RuleWithContentBuilder[*Response]) hedge.RuleWithContentBuilder[*Response] {
	return b.OnResponse(func(resp *Response) bool {
		return resp != nil && resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented
	})
}

// Failsafe returns the spec.md §6 "failsafe(delayMs)" preset: for idempotent methods, hedge on unprocessed requests,
// on any error other than context.Canceled, and on 429 Too Many Requests or 5xx responses other than 501; everything
// else yields hedge.Next, so the attempt's outcome stands. Idempotency is read from the hedge.IdempotentAttrKey
// attribute hedgehttp.RoundTripper sets on every request's root Context (RFC 7231 §4.2.2 idempotent methods); a
// non-idempotent method (POST, PATCH, ...) never hedges here, since duplicating an in-flight write risks double
// processing it.
func Failsafe(delayMs int64) hedge.RuleWithContent[*Response] {
	inner := NewRuleBuilder().
		OnUnprocessed().
		OnException(func(err error) bool { return err != nil && err != context.Canceled }).
		OnResponse(func(resp *Response) bool {
			return resp != nil && (resp.StatusCode == http.StatusTooManyRequests ||
				(resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented))
		}).
		ThenHedge(delayMs)

	return hedge.NewRuleWithContent[*Response](func(ctx *hedge.Context[*Response], content hedge.ContentSource[*Response], cause error) hedge.Decision {
		if idempotent, ok := hedge.Idempotent(ctx); !ok || !idempotent {
			return hedge.Next
		}
		return inner.ShouldHedge(ctx, content, cause)
	})
}
