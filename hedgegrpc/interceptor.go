// Package hedgegrpc adapts the hedge.Engine to gRPC unary calls: the variant without response duplication (spec
// §5.2), since a unary reply is materialized in full by the time the invoker returns and never needs tee'd reads.
package hedgegrpc

import (
	"context"
	"fmt"
	"reflect"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/tailhedge/hedge"
)

// Interceptor builds a grpc.UnaryClientInterceptor backed by a hedge.Engine. Build one with NewInterceptor, chain
// the optional On*/WithEndpointGroup methods, then use Interceptor.UnaryClientInterceptor as a grpc.DialOption via
// grpc.WithUnaryInterceptor / grpc.WithChainUnaryInterceptor.
type Interceptor struct {
	mapping hedge.Mapping[any, any]
	group   hedge.EndpointGroup

	onScheduled      func(hedge.AttemptEvent[any])
	onCompleted      func(hedge.CompletedEvent[any])
	onWinnerSelected func(hedge.WinnerEvent[any])
	onLoserCancelled func(hedge.AttemptEvent[any])
}

// NewInterceptor returns an Interceptor that resolves a hedge.Config per call via mapping. The key a Mapping sees is
// derived from whatever KeyFunc it was built with; method name is the obvious choice (see WithMethodMapping).
func NewInterceptor(mapping hedge.Mapping[any, any]) *Interceptor {
	return &Interceptor{mapping: mapping}
}

// NewInterceptorWithConfig returns an Interceptor that applies the same hedge.Config to every call.
func NewInterceptorWithConfig(config *hedge.Config[any]) *Interceptor {
	return NewInterceptor(hedge.NewSingletonMapping[any, any](config))
}

// WithEndpointGroup sets the EndpointGroup used to reselect an Endpoint for every hedge. The selected Endpoint is
// recorded on the attempt's hedge.Context; every attempt is still invoked on the same grpc.ClientConn, so the dial
// target does not change. Without a group, every attempt's Endpoint is the connection's target.
func (i *Interceptor) WithEndpointGroup(group hedge.EndpointGroup) *Interceptor {
	i.group = group
	return i
}

// OnAttemptScheduled registers a listener fired whenever an attempt is about to start.
func (i *Interceptor) OnAttemptScheduled(fn func(hedge.AttemptEvent[any])) *Interceptor {
	i.onScheduled = fn
	return i
}

// OnAttemptCompleted registers a listener fired once an attempt finishes and its rule has been evaluated.
func (i *Interceptor) OnAttemptCompleted(fn func(hedge.CompletedEvent[any])) *Interceptor {
	i.onCompleted = fn
	return i
}

// OnWinnerSelected registers a listener fired once, when an attempt's reply is chosen as the result.
func (i *Interceptor) OnWinnerSelected(fn func(hedge.WinnerEvent[any])) *Interceptor {
	i.onWinnerSelected = fn
	return i
}

// OnLoserCancelled registers a listener fired for every attempt cancelled once a winner is chosen.
func (i *Interceptor) OnLoserCancelled(fn func(hedge.AttemptEvent[any])) *Interceptor {
	i.onLoserCancelled = fn
	return i
}

// UnaryClientInterceptor returns the grpc.UnaryClientInterceptor driven by this Interceptor's configuration.
func (i *Interceptor) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		replyType := reflect.TypeOf(reply)
		if replyType == nil || replyType.Kind() != reflect.Ptr {
			return invoker(ctx, method, req, reply, cc, opts...)
		}
		elemType := replyType.Elem()

		delegate := hedge.DelegateClientFunc[any, any](func(actx *hedge.Context[any], r any) (any, error) {
			attemptCtx := context.Context(actx)
			if idx, ok := hedge.AttemptIndex(actx); ok && idx > 0 {
				attemptCtx = metadata.AppendToOutgoingContext(attemptCtx, hedge.RetryCountHeader, hedge.RetryCountHeaderValue(idx))
			}

			attemptReply := reflect.New(elemType).Interface()
			if err := invoker(attemptCtx, method, r, attemptReply, cc, opts...); err != nil {
				return nil, classifyError(err)
			}
			return attemptReply, nil
		})

		builder := hedge.NewEngineBuilder[any, any](delegate, i.mapping)
		if i.onScheduled != nil {
			builder.OnAttemptScheduled(i.onScheduled)
		}
		if i.onCompleted != nil {
			builder.OnAttemptCompleted(i.onCompleted)
		}
		if i.onWinnerSelected != nil {
			builder.OnWinnerSelected(i.onWinnerSelected)
		}
		if i.onLoserCancelled != nil {
			builder.OnLoserCancelled(i.onLoserCancelled)
		}
		engine := builder.Build()

		group := i.group
		if group == nil {
			group = hedge.NewRoundRobinGroup(hedge.Endpoint{Authority: cc.Target()})
		}
		hctx := hedge.NewContext[any](ctx, group, hedge.Endpoint{Authority: cc.Target()})

		result, err := engine.Execute(hctx, req)
		if err != nil {
			return err
		}
		return mergeReply(reply, result)
	}
}

// classifyError maps a raw gRPC status error onto the hedge package's sentinels (spec §7), the same classification
// failsafegrpc applies for its own retry policy: Unavailable means the call never reached the server (unprocessed,
// always safe to hedge) and DeadlineExceeded means the call timed out; any other code passes through untouched so
// onException(predicate) can still inspect the original status.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable:
		return fmt.Errorf("%w: %v", hedge.ErrUnprocessedRequest, err)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %v", hedge.ErrTimeout, err)
	default:
		return err
	}
}

// mergeReply copies the winning attempt's populated reply into the caller's original reply value, since every
// attempt invokes against its own freshly allocated reply to avoid concurrent attempts racing writes into one
// shared message.
func mergeReply(reply, result any) error {
	if winnerMsg, ok := result.(proto.Message); ok {
		if out, ok := reply.(proto.Message); ok {
			proto.Reset(out)
			proto.Merge(out, winnerMsg)
			return nil
		}
	}
	reflect.ValueOf(reply).Elem().Set(reflect.ValueOf(result).Elem())
	return nil
}
