package hedgegrpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tailhedge/hedge"
)

type plainReply struct {
	Value string
}

func TestMergeReplyFallsBackToReflectionForNonProtoMessages(t *testing.T) {
	reply := &plainReply{}
	result := &plainReply{Value: "from-winner"}

	err := mergeReply(reply, result)
	require.NoError(t, err)
	assert.Equal(t, "from-winner", reply.Value)
}

func TestClassifyErrorMapsUnavailableToUnprocessed(t *testing.T) {
	err := classifyError(status.Error(codes.Unavailable, "no connection"))
	assert.ErrorIs(t, err, hedge.ErrUnprocessedRequest)
}

func TestClassifyErrorMapsDeadlineExceededToTimeout(t *testing.T) {
	err := classifyError(status.Error(codes.DeadlineExceeded, "too slow"))
	assert.ErrorIs(t, err, hedge.ErrTimeout)
}

func TestClassifyErrorPassesThroughOtherCodes(t *testing.T) {
	original := status.Error(codes.NotFound, "missing")
	err := classifyError(original)
	assert.Same(t, original, err)
}

func TestClassifyErrorNilIsNil(t *testing.T) {
	assert.NoError(t, classifyError(nil))
}

func TestClassifyErrorNonStatusErrorPassesThrough(t *testing.T) {
	original := errors.New("not a status error")
	err := classifyError(original)
	assert.Same(t, original, err)
}
