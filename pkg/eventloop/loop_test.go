package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/courier/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLoop_RunsTasksInOrder(t *testing.T) {
	l := New("test")
	defer func() {
		l.Close()
		<-l.Done()
	}()

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, l.Call(context.Background(), func() {}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoop_TasksNeverOverlap(t *testing.T) {
	l := New("test")
	defer func() {
		l.Close()
		<-l.Done()
	}()

	var running, maxRunning int
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Post(func() {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
		}))
	}
	require.NoError(t, l.Call(context.Background(), func() {}))
	assert.Equal(t, 1, maxRunning)
}

func TestLoop_PostFromTask(t *testing.T) {
	l := New("test")
	defer func() {
		l.Close()
		<-l.Done()
	}()

	result := make(chan string, 2)
	require.NoError(t, l.Post(func() {
		result <- "outer"
		_ = l.Post(func() { result <- "inner" })
	}))

	assert.Equal(t, "outer", <-result)
	assert.Equal(t, "inner", <-result)
}

func TestLoop_PostAfterClose(t *testing.T) {
	l := New("closed")
	l.Close()
	<-l.Done()

	err := l.Post(func() {})
	assert.ErrorIs(t, err, types.ErrContextNotRunning)
	assert.True(t, l.Closed())

	err = l.Call(context.Background(), func() {})
	assert.ErrorIs(t, err, types.ErrContextNotRunning)
}

func TestLoop_CloseFromTask(t *testing.T) {
	l := New("self-close")
	require.NoError(t, l.Post(l.Close))

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoop_CallHonoursContext(t *testing.T) {
	l := New("blocked")
	defer func() {
		l.Close()
		<-l.Done()
	}()

	release := make(chan struct{})
	require.NoError(t, l.Post(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Call(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestLoop_RecoversPanics(t *testing.T) {
	recovered := make(chan interface{}, 1)
	l := New("panicky", WithPanicHandler(func(r interface{}) { recovered <- r }))
	defer func() {
		l.Close()
		<-l.Done()
	}()

	require.NoError(t, l.Post(func() { panic("boom") }))
	assert.Equal(t, "boom", <-recovered)

	// The loop keeps serving tasks afterwards.
	require.NoError(t, l.Call(context.Background(), func() {}))
}
