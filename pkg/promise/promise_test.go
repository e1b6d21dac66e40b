package promise

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPromise_SettlesOnce(t *testing.T) {
	p := New()
	p.Resolve("first")
	p.Resolve("second")
	p.Reject(errors.New("late"))

	v, err := p.Await(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestPromise_Rejected(t *testing.T) {
	boom := errors.New("boom")
	_, err := Rejected(boom).Await(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPromise_Go(t *testing.T) {
	v, err := Go(func() (any, error) { return 42, nil }).Await(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = Go(func() (any, error) { return nil, errors.New("nope") }).Await(context.Background())
	assert.EqualError(t, err, "nope")
}

func TestPromise_AwaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := New().Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPromise_Done(t *testing.T) {
	p := Resolved(nil)
	select {
	case <-p.Done():
	default:
		t.Fatal("resolved promise should be done")
	}
}
