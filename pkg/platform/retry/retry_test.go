package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type RetrySuite struct {
	suite.Suite
}

func TestRetrySuite(t *testing.T) {
	suite.Run(t, new(RetrySuite))
}

func (s *RetrySuite) fastPolicy(opts ...Option) Policy {
	base := []Option{
		WithBaseDelay(time.Microsecond),
		WithMaxDelay(time.Millisecond),
	}
	return New(append(base, opts...)...)
}

func (s *RetrySuite) TestNew() {
	p := New()
	s.Equal(4, p.MaxAttempts)
	s.Equal(100*time.Millisecond, p.BaseDelay)
	s.Equal(5*time.Second, p.MaxDelay)
	s.Nil(p.Retryable)

	p = New(WithMaxAttempts(2), WithRetryable(func(error) bool { return false }))
	s.Equal(2, p.MaxAttempts)
	s.NotNil(p.Retryable)

	// Non-positive overrides keep defaults.
	p = New(WithMaxAttempts(0), WithBaseDelay(-1))
	s.Equal(4, p.MaxAttempts)
	s.Equal(100*time.Millisecond, p.BaseDelay)
}

func (s *RetrySuite) TestDo() {
	ctx := context.Background()

	s.Run("first success returns immediately", func() {
		calls := 0
		err := s.fastPolicy().Do(ctx, func(context.Context) error {
			calls++
			return nil
		})
		s.NoError(err)
		s.Equal(1, calls)
	})

	s.Run("transient failures retry until success", func() {
		flaky := errors.New("connection reset")
		calls := 0
		err := s.fastPolicy().Do(ctx, func(context.Context) error {
			calls++
			if calls < 3 {
				return flaky
			}
			return nil
		})
		s.NoError(err)
		s.Equal(3, calls)
	})

	s.Run("exhaustion wraps the final error", func() {
		persistent := errors.New("disk on fire")
		calls := 0
		err := s.fastPolicy(WithMaxAttempts(3)).Do(ctx, func(context.Context) error {
			calls++
			return persistent
		})
		s.Require().Error(err)
		s.ErrorIs(err, persistent)
		s.Contains(err.Error(), "exhausted 3 attempts")
		s.Equal(3, calls)
	})

	s.Run("non retryable errors fail fast", func() {
		fatal := errors.New("constraint violation")
		calls := 0
		policy := s.fastPolicy(WithRetryable(func(err error) bool {
			return !errors.Is(err, fatal)
		}))
		err := policy.Do(ctx, func(context.Context) error {
			calls++
			return fatal
		})
		s.ErrorIs(err, fatal)
		s.Equal(1, calls)
	})

	s.Run("context cancellation is never retried", func() {
		calls := 0
		err := s.fastPolicy().Do(ctx, func(context.Context) error {
			calls++
			return context.Canceled
		})
		s.ErrorIs(err, context.Canceled)
		s.Equal(1, calls)
	})

	s.Run("cancelled context stops the backoff wait", func() {
		cancelCtx, cancel := context.WithCancel(ctx)
		cancel()
		err := New(WithBaseDelay(time.Hour)).Do(cancelCtx, func(context.Context) error {
			return errors.New("flaky")
		})
		s.ErrorIs(err, context.Canceled)
	})
}
