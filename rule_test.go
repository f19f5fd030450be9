package hedge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuleOrElseShortCircuits(t *testing.T) {
	first := NewRule[string](func(_ *Context[string], _ error) Decision { return Reject })
	second := NewRule[string](func(_ *Context[string], _ error) Decision {
		t.Fatal("second rule should not run when first decides")
		return Next
	})

	combined := first.OrElse(second)
	assert.True(t, combined.ShouldHedge(nil, nil).IsReject())
}

func TestRuleOrElseFallsThroughOnNext(t *testing.T) {
	first := NewRule[string](func(_ *Context[string], _ error) Decision { return Next })
	second := NewRule[string](func(_ *Context[string], _ error) Decision { return Accept(25) })

	combined := first.OrElse(second)
	d := combined.ShouldHedge(nil, nil)
	assert.True(t, d.IsAccept())
	assert.Equal(t, int64(25), d.NextDelayMs())
}

func TestRuleRequiresResponseTrailersIsOred(t *testing.T) {
	a := NewRuleBuilder[string]().RequiresResponseTrailers().ThenHedge(0)
	b := NewRuleBuilder[string]().ThenHedge(0)
	assert.True(t, a.OrElse(b).RequiresResponseTrailers())
	assert.True(t, b.OrElse(a).RequiresResponseTrailers())
	assert.False(t, b.OrElse(b).RequiresResponseTrailers())
}

func TestFromRuleIgnoresContent(t *testing.T) {
	r := NewRule[string](func(_ *Context[string], cause error) Decision {
		if cause != nil {
			return Reject
		}
		return Next
	})
	withContent := FromRule(r)

	cause := errors.New("boom")
	assert.True(t, withContent.ShouldHedge(nil, StaticContent("anything"), cause).IsReject())
	assert.True(t, withContent.ShouldHedge(nil, StaticContent("anything"), nil).IsNext())
}

func TestStaticContentReusableView(t *testing.T) {
	source := StaticContent(42)
	assert.Equal(t, 42, source.View())
	assert.Equal(t, 42, source.View())
	source.Abort(nil) // no-op, must not panic
}

func TestRuleWithContentBuilderOnResponseOnlyRunsWithoutCause(t *testing.T) {
	rule := NewRuleWithContentBuilder[int]().
		OnResponse(func(v int) bool { return v > 100 }).
		ThenHedge(10)

	// A response-shape condition must not fire when the attempt actually failed.
	d := rule.ShouldHedge(nil, StaticContent(200), errors.New("boom"))
	assert.True(t, d.IsNext())

	d = rule.ShouldHedge(nil, StaticContent(200), nil)
	assert.True(t, d.IsAccept())
}

func TestRuleBuilderOnUnprocessedAndTimeout(t *testing.T) {
	rule := NewRuleBuilder[string]().
		OnUnprocessed().
		OnTimeoutException().
		ThenHedge(5)

	assert.True(t, rule.ShouldHedge(nil, ErrUnprocessedRequest).IsAccept())
	assert.True(t, rule.ShouldHedge(nil, ErrTimeout).IsAccept())
	assert.True(t, rule.ShouldHedge(nil, errors.New("other")).IsNext())
}

func TestRuleBuilderThenNoHedge(t *testing.T) {
	rule := NewRuleBuilder[string]().OnUnprocessed().ThenNoHedge()
	assert.True(t, rule.ShouldHedge(nil, ErrUnprocessedRequest).IsReject())
	assert.True(t, rule.ShouldHedge(nil, nil).IsNext())
}
