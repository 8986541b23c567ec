package middleware

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestRecover(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()

	err := Recover(log, func() error { panic("sink exploded") })
	assert.EqualError(t, err, "panic: sink exploded")

	want := errors.New("plain")
	assert.Equal(t, want, Recover(log, func() error { return want }))
	assert.NoError(t, Recover(log, func() error { return nil }))
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	cb := NewBreaker("test", BreakerSettings{Timeout: time.Minute}, zaptest.NewLogger(t).Sugar())
	fail := errors.New("insert failed")

	for i := 0; i < 3; i++ {
		assert.Equal(t, fail, WithCircuitBreaker(cb, func() error { return fail }))
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	called := false
	err := WithCircuitBreaker(cb, func() error { called = true; return nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called)
}
