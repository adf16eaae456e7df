package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	transient := errors.New("transient")
	fatal := errors.New("fatal")

	tests := []struct {
		name      string
		attempts  int
		failFirst int   // fail this many calls before succeeding
		failWith  error // error returned on failing calls
		wantCalls int
		wantErr   error
	}{
		{"success first try", 3, 0, transient, 1, nil},
		{"success on retry", 3, 2, transient, 3, nil},
		{"exhausted", 3, 10, transient, 3, transient},
		{"permanent stops", 5, 10, Permanent(fatal), 1, fatal},
		{"zero attempts runs once", 0, 10, transient, 1, transient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), tt.attempts, time.Millisecond, func() error {
				calls++
				if calls <= tt.failFirst {
					return tt.failWith
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestDo_PermanentUnwrapped(t *testing.T) {
	fatal := errors.New("fatal")
	err := Do(context.Background(), 3, time.Millisecond, func() error { return Permanent(fatal) })

	var pe *PermanentError
	assert.False(t, errors.As(err, &pe), "Do returns the cause, not the wrapper")
	assert.Same(t, fatal, err)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 5, time.Hour, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPolicy_MaxDelayCapsBackoff(t *testing.T) {
	p := Policy{MaxAttempts: 4, BaseDelay: 4 * time.Millisecond, MaxDelay: 5 * time.Millisecond}
	start := time.Now()
	_ = p.Do(context.Background(), func() error { return errors.New("x") })
	// Three sleeps of at most 5ms*1.25 each.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestJittered_Bounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jittered(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}
