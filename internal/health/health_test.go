package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Empty(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestRegistry_AggregatesInOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("analyzer:structured", func(context.Context) Status {
		return Status{Healthy: true, Detail: "closed"}
	})
	r.RegisterPing("archive", func(context.Context) error { return errors.New("connection refused") })
	r.RegisterPing("capture", func(context.Context) error { return nil })

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 3)

	assert.Equal(t, Status{Name: "analyzer:structured", Healthy: true, Detail: "closed"}, statuses[0])
	assert.Equal(t, Status{Name: "archive", Healthy: false, Detail: "connection refused"}, statuses[1])
	assert.Equal(t, Status{Name: "capture", Healthy: true}, statuses[2])
}

func TestRegistry_SlowCheckTimesOut(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	r.Register("stuck", func(context.Context) Status {
		<-release
		return Status{Healthy: true}
	})

	start := time.Now()
	healthy, statuses := r.CheckAll(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, healthy)
	assert.Equal(t, "check timed out", statuses[0].Detail)
}

func TestRegistry_ConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			r.RegisterPing("p", func(context.Context) error { return nil })
		}
	}()
	for i := 0; i < 50; i++ {
		r.CheckAll(context.Background())
	}
	<-done

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Len(t, statuses, 50)
}
