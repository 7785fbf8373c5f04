package swscore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestError_UnwrapAndCode(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("create pool: %w", NewError(ConnectionError, cause, "localhost:5432"))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ConnectionError, CodeOf(err))
	assert.Contains(t, err.Error(), "connection error")
	assert.Contains(t, err.Error(), "localhost:5432")
}

func TestCodeOf_Unknown(t *testing.T) {
	assert.Equal(t, Unknown, CodeOf(errors.New("plain")))
	assert.Equal(t, Unknown, CodeOf(nil))
}

func TestShouldRetry(t *testing.T) {
	assert.False(t, ShouldRetry(nil))
	assert.False(t, ShouldRetry(context.Canceled))
	assert.False(t, ShouldRetry(NewError(ConfigurationError, errors.New("missing"), nil)))
	assert.True(t, ShouldRetry(NewError(ConnectionError, errors.New("refused"), nil)))
}

type fakeCloser struct {
	closed bool
	err    error
}

func (f *fakeCloser) Close(context.Context) error {
	f.closed = true
	return f.err
}

func TestCloseAll(t *testing.T) {
	a, b := &fakeCloser{}, &fakeCloser{err: errors.New("teardown")}
	err := CloseAll(context.Background(), a, nil, b)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.EqualError(t, err, "teardown")
}

type slowCloser struct {
	ctxErr error
}

func (s *slowCloser) Close(ctx context.Context) error {
	time.Sleep(30 * time.Millisecond)
	s.ctxErr = ctx.Err()
	return nil
}

func TestCloseAll_FailureDoesNotCancelSiblings(t *testing.T) {
	failing := &fakeCloser{err: errors.New("teardown")}
	slow := &slowCloser{}

	err := CloseAll(context.Background(), failing, slow)
	assert.EqualError(t, err, "teardown")
	assert.NoError(t, slow.ctxErr)
}
