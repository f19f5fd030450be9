package hedge

import "errors"

// RuleBuilder builds a content-agnostic Rule from a vocabulary of common conditions. Conditions accumulate with
// OR semantics: the resulting Rule hedges if any configured condition matches the attempt's failure cause.
//
// R is the attempt's response type; a RuleBuilder that never calls OnResponse-shaped conditions doesn't need to look
// at it, which is exactly when a Rule (rather than a RuleWithContent) is the right choice.
type RuleBuilder[R any] interface {
	// OnException hedges when the attempt's cause matches predicate.
	OnException(predicate func(error) bool) RuleBuilder[R]
	// OnUnprocessed hedges when the attempt failed as UnprocessedRequest (failed before wire transmission, so it is
	// always safe to hedge regardless of idempotency).
	OnUnprocessed() RuleBuilder[R]
	// OnTimeoutException hedges when the attempt failed with Timeout.
	OnTimeoutException() RuleBuilder[R]
	// RequiresResponseTrailers marks the built Rule as needing response trailers to be available before evaluation.
	RequiresResponseTrailers() RuleBuilder[R]
	// ThenHedge finalizes the builder: matching conditions yield Accept(delayMs), non-matching yield Next. It panics
	// if delayMs is negative.
	ThenHedge(delayMs int64) Rule[R]
	// ThenNoHedge finalizes the builder: matching conditions yield Reject, non-matching yield Next.
	ThenNoHedge() Rule[R]
}

type ruleBuilder[R any] struct {
	conditions       []func(cause error) bool
	requiresTrailers bool
}

// NewRuleBuilder returns a new RuleBuilder for response type R.
func NewRuleBuilder[R any]() RuleBuilder[R] {
	return &ruleBuilder[R]{}
}

func (b *ruleBuilder[R]) OnException(predicate func(error) bool) RuleBuilder[R] {
	b.conditions = append(b.conditions, func(cause error) bool {
		return cause != nil && predicate(cause)
	})
	return b
}

func (b *ruleBuilder[R]) OnUnprocessed() RuleBuilder[R] {
	return b.OnException(func(err error) bool {
		return errors.Is(err, ErrUnprocessedRequest)
	})
}

func (b *ruleBuilder[R]) OnTimeoutException() RuleBuilder[R] {
	return b.OnException(func(err error) bool {
		return errors.Is(err, ErrTimeout)
	})
}

func (b *ruleBuilder[R]) RequiresResponseTrailers() RuleBuilder[R] {
	b.requiresTrailers = true
	return b
}

func (b *ruleBuilder[R]) ThenHedge(delayMs int64) Rule[R] {
	if delayMs < 0 {
		panic("hedge: ThenHedge delayMs must be >= 0")
	}
	conditions := b.conditions
	return Rule[R]{
		requiresTrailers: b.requiresTrailers,
		evaluate: func(_ *Context[R], cause error) Decision {
			for _, c := range conditions {
				if c(cause) {
					return Accept(delayMs)
				}
			}
			return Next
		},
	}
}

func (b *ruleBuilder[R]) ThenNoHedge() Rule[R] {
	conditions := b.conditions
	return Rule[R]{
		requiresTrailers: b.requiresTrailers,
		evaluate: func(_ *Context[R], cause error) Decision {
			for _, c := range conditions {
				if c(cause) {
					return Reject
				}
			}
			return Next
		},
	}
}

// RuleWithContentBuilder builds a RuleWithContent, adding OnResponse to the RuleBuilder vocabulary.
type RuleWithContentBuilder[R any] interface {
	OnException(predicate func(error) bool) RuleWithContentBuilder[R]
	OnUnprocessed() RuleWithContentBuilder[R]
	OnTimeoutException() RuleWithContentBuilder[R]
	// OnResponse hedges when the attempt succeeded and predicate matches the response body.
	OnResponse(predicate func(R) bool) RuleWithContentBuilder[R]
	RequiresResponseTrailers() RuleWithContentBuilder[R]
	ThenHedge(delayMs int64) RuleWithContent[R]
	ThenNoHedge() RuleWithContent[R]
}

type ruleWithContentBuilder[R any] struct {
	errorConditions    []func(cause error) bool
	responseConditions []func(R) bool
	requiresTrailers   bool
}

// NewRuleWithContentBuilder returns a new RuleWithContentBuilder for response type R.
func NewRuleWithContentBuilder[R any]() RuleWithContentBuilder[R] {
	return &ruleWithContentBuilder[R]{}
}

func (b *ruleWithContentBuilder[R]) OnException(predicate func(error) bool) RuleWithContentBuilder[R] {
	b.errorConditions = append(b.errorConditions, func(cause error) bool {
		return cause != nil && predicate(cause)
	})
	return b
}

func (b *ruleWithContentBuilder[R]) OnUnprocessed() RuleWithContentBuilder[R] {
	return b.OnException(func(err error) bool { return errors.Is(err, ErrUnprocessedRequest) })
}

func (b *ruleWithContentBuilder[R]) OnTimeoutException() RuleWithContentBuilder[R] {
	return b.OnException(func(err error) bool { return errors.Is(err, ErrTimeout) })
}

func (b *ruleWithContentBuilder[R]) OnResponse(predicate func(R) bool) RuleWithContentBuilder[R] {
	b.responseConditions = append(b.responseConditions, predicate)
	return b
}

func (b *ruleWithContentBuilder[R]) RequiresResponseTrailers() RuleWithContentBuilder[R] {
	b.requiresTrailers = true
	return b
}

func (b *ruleWithContentBuilder[R]) matches(content ContentSource[R], cause error) bool {
	for _, c := range b.errorConditions {
		if c(cause) {
			return true
		}
	}
	if cause == nil && len(b.responseConditions) > 0 {
		resp := content.View()
		for _, c := range b.responseConditions {
			if c(resp) {
				return true
			}
		}
	}
	return false
}

func (b *ruleWithContentBuilder[R]) ThenHedge(delayMs int64) RuleWithContent[R] {
	if delayMs < 0 {
		panic("hedge: ThenHedge delayMs must be >= 0")
	}
	bb := *b
	return RuleWithContent[R]{
		requiresTrailers: bb.requiresTrailers,
		evaluate: func(_ *Context[R], content ContentSource[R], cause error) Decision {
			if bb.matches(content, cause) {
				return Accept(delayMs)
			}
			return Next
		},
	}
}

func (b *ruleWithContentBuilder[R]) ThenNoHedge() RuleWithContent[R] {
	bb := *b
	return RuleWithContent[R]{
		requiresTrailers: bb.requiresTrailers,
		evaluate: func(_ *Context[R], content ContentSource[R], cause error) Decision {
			if bb.matches(content, cause) {
				return Reject
			}
			return Next
		},
	}
}
