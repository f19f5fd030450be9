package hedge

// ContentSource hands independent, consumable views of a single attempt's response content to one or more
// RuleWithContent evaluators composed together. A non-streaming adapter may simply return the same value from every
// View call; a streaming adapter (see hedgehttp) backs View with a duplicator so each composed rule can read the
// body without starving the others or the caller.
type ContentSource[R any] interface {
	// View returns a response value suitable for a single rule evaluation.
	View() R
	// Abort releases the underlying resource. Safe to call more than once.
	Abort(cause error)
}

// Rule is a pure predicate mapping an attempt's context and failure cause to a Decision. Rules must be side-effect
// free and must not mutate ctx other than reading it.
type Rule[R any] struct {
	evaluate         func(ctx *Context[R], cause error) Decision
	requiresTrailers bool
}

// NewRule returns a Rule backed by evaluate.
func NewRule[R any](evaluate func(ctx *Context[R], cause error) Decision) Rule[R] {
	return Rule[R]{evaluate: evaluate}
}

// ShouldHedge evaluates the rule for a completed attempt.
func (r Rule[R]) ShouldHedge(ctx *Context[R], cause error) Decision {
	if r.evaluate == nil {
		return Next
	}
	return r.evaluate(ctx, cause)
}

// RequiresResponseTrailers reports whether evaluating this rule needs response trailers to be available.
func (r Rule[R]) RequiresResponseTrailers() bool {
	return r.requiresTrailers
}

// OrElse composes r with other: if r yields Next, other is evaluated; otherwise r's decision wins. The composed
// rule's RequiresResponseTrailers is the logical OR of both.
func (r Rule[R]) OrElse(other Rule[R]) Rule[R] {
	return Rule[R]{
		requiresTrailers: r.requiresTrailers || other.requiresTrailers,
		evaluate: func(ctx *Context[R], cause error) Decision {
			if d := r.ShouldHedge(ctx, cause); !d.IsNext() {
				return d
			}
			return other.ShouldHedge(ctx, cause)
		},
	}
}

// RuleWithContent is a pure predicate mapping an attempt's context, response content, and failure cause to a
// Decision. Composition may read the response content more than once (once per composed rule); callers supply a
// ContentSource rather than a bare response so streamed bodies can be duplicated.
type RuleWithContent[R any] struct {
	evaluate         func(ctx *Context[R], content ContentSource[R], cause error) Decision
	requiresTrailers bool
}

// NewRuleWithContent returns a RuleWithContent backed by evaluate.
func NewRuleWithContent[R any](evaluate func(ctx *Context[R], content ContentSource[R], cause error) Decision) RuleWithContent[R] {
	return RuleWithContent[R]{evaluate: evaluate}
}

// ShouldHedge evaluates the rule for a completed attempt.
func (r RuleWithContent[R]) ShouldHedge(ctx *Context[R], content ContentSource[R], cause error) Decision {
	if r.evaluate == nil {
		return Next
	}
	return r.evaluate(ctx, content, cause)
}

// RequiresResponseTrailers reports whether evaluating this rule needs response trailers to be available.
func (r RuleWithContent[R]) RequiresResponseTrailers() bool {
	return r.requiresTrailers
}

// OrElse composes r with other the same way Rule.OrElse does, short-circuiting on the first non-Next decision.
func (r RuleWithContent[R]) OrElse(other RuleWithContent[R]) RuleWithContent[R] {
	return RuleWithContent[R]{
		requiresTrailers: r.requiresTrailers || other.requiresTrailers,
		evaluate: func(ctx *Context[R], content ContentSource[R], cause error) Decision {
			if d := r.ShouldHedge(ctx, content, cause); !d.IsNext() {
				return d
			}
			return other.ShouldHedge(ctx, content, cause)
		},
	}
}

// FromRule lifts a content-agnostic Rule into a RuleWithContent that ignores the response content entirely. For any
// (ctx, cause), FromRule(r).ShouldHedge(ctx, anyContent, cause) equals r.ShouldHedge(ctx, cause).
func FromRule[R any](r Rule[R]) RuleWithContent[R] {
	return RuleWithContent[R]{
		requiresTrailers: r.requiresTrailers,
		evaluate: func(ctx *Context[R], _ ContentSource[R], cause error) Decision {
			return r.ShouldHedge(ctx, cause)
		},
	}
}

// constContentSource is a ContentSource over an already-materialized, non-streaming response value.
type constContentSource[R any] struct {
	value R
}

func (c constContentSource[R]) View() R         { return c.value }
func (c constContentSource[R]) Abort(_ error) {}

// StaticContent wraps a single response value as a ContentSource that can be read any number of times without
// duplication, for adapters whose R is already fully materialized (e.g. unary RPC replies).
func StaticContent[R any](value R) ContentSource[R] {
	return constContentSource[R]{value: value}
}
