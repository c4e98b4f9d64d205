package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/business-contact-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func task(id string, priority int) *Task {
	return &Task{Run: &models.Run{ID: id}, Priority: priority}
}

func TestInMemoryQueueOrdering(t *testing.T) {
	q := NewInMemoryQueue()
	require.NoError(t, q.Push(task("a", 0)))
	require.NoError(t, q.Push(task("b", 5)))
	require.NoError(t, q.Push(task("c", 0)))
	require.NoError(t, q.Push(task("d", 5)))
	assert.Equal(t, 4, q.Size())

	var got []string
	for range 4 {
		tk, err := q.Pop(context.Background())
		require.NoError(t, err)
		got = append(got, tk.Run.ID)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, got)
	assert.Zero(t, q.Size())
}

func TestInMemoryQueuePopWaitsForPush(t *testing.T) {
	q := NewInMemoryQueue()
	result := make(chan *Task)

	go func() {
		tk, err := q.Pop(context.Background())
		if err == nil {
			result <- tk
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(task("late", 0)))

	select {
	case tk := <-result:
		assert.Equal(t, "late", tk.Run.ID)
		assert.False(t, tk.CreatedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestInMemoryQueuePopHonorsContext(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryQueueClose(t *testing.T) {
	q := NewInMemoryQueue()
	require.NoError(t, q.Push(task("queued", 0)))

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Push(task("rejected", 0)), ErrQueueClosed)

	tk, err := q.Pop(context.Background())
	require.NoError(t, err, "queued tasks drain after close")
	assert.Equal(t, "queued", tk.Run.ID)

	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Pop(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, ErrQueueClosed)
	}
}

func TestInMemoryQueueCloseWakesWaiters(t *testing.T) {
	q := NewInMemoryQueue()
	errs := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := q.Pop(context.Background())
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	for range 2 {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrQueueClosed)
		case <-time.After(time.Second):
			t.Fatal("waiter not released by Close")
		}
	}
}
