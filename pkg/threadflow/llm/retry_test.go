package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	tferrors "github.com/randalmurphal/threadflow/pkg/threadflow/errors"
	"github.com/randalmurphal/threadflow/pkg/threadflow/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrying_BoundedAttempts(t *testing.T) {
	unavailable := &tferrors.HTTPError{StatusCode: 503, Message: "overloaded"}
	mock := llm.NewMockCompleter("never").WithErrors(unavailable, unavailable, unavailable, unavailable)

	var delays []time.Duration
	r := llm.NewRetrying(mock, tferrors.RetryProtocol{
		MaxRetries: 2,
		Delay:      time.Millisecond,
		Backoff:    2,
		OnRetry: func(_ int, d time.Duration, _ error) {
			delays = append(delays, d)
		},
	})

	_, err := r.Complete(context.Background(), llm.Request{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, 3, mock.CallCount())
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)

	var catErr *tferrors.CategorizedError
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, 3, catErr.Attempts)
}

func TestRetrying_RecoversFromTransient(t *testing.T) {
	mock := llm.NewMockCompleter("answer").WithErrors(&tferrors.HTTPError{StatusCode: 429})
	r := llm.NewRetrying(mock, tferrors.RetryProtocol{MaxRetries: 3, Delay: time.Millisecond, Backoff: 1})

	resp, err := r.Complete(context.Background(), llm.Request{})
	require.NoError(t, err)
	msg, _ := resp.Message()
	assert.Equal(t, "answer", msg.Content)
	assert.Equal(t, 2, mock.CallCount())
}

func TestRetrying_PermanentFailsFast(t *testing.T) {
	mock := llm.NewMockCompleter().WithErrors(errors.New("invalid request"))
	r := llm.NewRetrying(mock, tferrors.RetryProtocol{MaxRetries: 5, Delay: time.Millisecond, Backoff: 2})

	_, err := r.Complete(context.Background(), llm.Request{})
	require.Error(t, err)
	assert.Equal(t, 1, mock.CallCount())
	assert.Equal(t, tferrors.CategoryPermanent, tferrors.Categorize(err))
}
