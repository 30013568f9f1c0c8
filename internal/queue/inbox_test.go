package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxFIFO(t *testing.T) {
	t.Parallel()

	q := New[int](Options{})
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Push(i))
	}
	require.Equal(t, 100, q.Len())

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, q.Len())
}

// TestInboxPerProducerOrder pushes from many goroutines and checks that each
// producer's items come out in the order that producer pushed them.
func TestInboxPerProducerOrder(t *testing.T) {
	t.Parallel()

	type item struct{ producer, seq int }

	const producers = 8
	const perProducer = 500

	q := New[item](Options{})

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for s := 0; s < perProducer; s++ {
				_ = q.Push(item{p, s})
			}
		}(p)
	}

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < producers*perProducer; i++ {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		require.Equal(t, last[v.producer]+1, v.seq, "producer %d out of order", v.producer)
		last[v.producer] = v.seq
	}
	wg.Wait()
}

func TestInboxPopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := New[string](Options{})
	got := make(chan string, 1)

	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before anything was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Push("hello"))

	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake up after Push")
	}
}

func TestInboxPopContextCancel(t *testing.T) {
	t.Parallel()

	q := New[int](Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInboxClose(t *testing.T) {
	t.Parallel()

	q := New[int](Options{})
	require.NoError(t, q.Push(1))
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Push(2), ErrClosed)

	v, err := q.Pop(context.Background())
	require.NoError(t, err, "queued items survive Close")
	assert.Equal(t, 1, v)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInboxCloseWakesConsumer(t *testing.T) {
	t.Parallel()

	q := New[int](Options{})
	errc := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not wake the blocked consumer")
	}
}

func TestInboxOverflowPolicies(t *testing.T) {
	t.Parallel()

	t.Run("drop oldest", func(t *testing.T) {
		t.Parallel()

		q := New[int](Options{Capacity: 2, Policy: DropOldest})
		require.NoError(t, q.Push(1))
		require.NoError(t, q.Push(2))
		require.NoError(t, q.Push(3))

		assert.Equal(t, []int{2, 3}, q.Drain())
		assert.Equal(t, uint64(1), q.Dropped())
	})

	t.Run("reject", func(t *testing.T) {
		t.Parallel()

		q := New[int](Options{Capacity: 1, Policy: Reject})
		require.NoError(t, q.Push(1))
		assert.ErrorIs(t, q.Push(2), ErrFull)
		assert.Equal(t, []int{1}, q.Drain())
	})

	t.Run("block times out", func(t *testing.T) {
		t.Parallel()

		q := New[int](Options{Capacity: 1, Policy: Block, BlockTimeout: 30 * time.Millisecond})
		require.NoError(t, q.Push(1))

		start := time.Now()
		assert.ErrorIs(t, q.Push(2), ErrFull)
		assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	})

	t.Run("block succeeds when room frees", func(t *testing.T) {
		t.Parallel()

		q := New[int](Options{Capacity: 1, Policy: Block, BlockTimeout: 2 * time.Second})
		require.NoError(t, q.Push(1))

		go func() {
			time.Sleep(20 * time.Millisecond)
			_, _ = q.Pop(context.Background())
		}()

		require.NoError(t, q.Push(2))
		assert.Equal(t, []int{2}, q.Drain())
	})

	t.Run("block released by close", func(t *testing.T) {
		t.Parallel()

		q := New[int](Options{Capacity: 1, Policy: Block, BlockTimeout: 5 * time.Second})
		require.NoError(t, q.Push(1))

		go func() {
			time.Sleep(20 * time.Millisecond)
			q.Close()
		}()

		assert.ErrorIs(t, q.Push(2), ErrClosed)
	})
}

func TestInboxInjectIgnoresCapacity(t *testing.T) {
	t.Parallel()

	q := New[string](Options{Capacity: 1, Policy: Reject})
	require.NoError(t, q.Push("chat"))
	require.ErrorIs(t, q.Push("overflow"), ErrFull)
	require.NoError(t, q.Inject("notice"))

	assert.Equal(t, []string{"chat", "notice"}, q.Drain())

	q.Close()
	assert.ErrorIs(t, q.Inject("late"), ErrClosed)
}

func TestInboxDropOldestKeepsInjected(t *testing.T) {
	t.Parallel()

	q := New[string](Options{Capacity: 1, Policy: DropOldest})
	require.NoError(t, q.Inject("*Bob joined*"))
	require.NoError(t, q.Push("chat 1"))
	require.NoError(t, q.Push("chat 2"))
	require.NoError(t, q.Inject("*Bob quit*"))
	require.NoError(t, q.Push("chat 3"))

	assert.Equal(t, uint64(2), q.Dropped())
	assert.Equal(t, 3, q.Len())

	ctx := context.Background()
	for _, want := range []string{"*Bob joined*", "*Bob quit*", "chat 3"} {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	// capacity is available again once the pushed item is consumed
	require.NoError(t, q.Push("chat 4"))
	assert.Equal(t, []string{"chat 4"}, q.Drain())
}

func TestInboxBlockDefaultTimeout(t *testing.T) {
	t.Parallel()

	q := New[int](Options{Capacity: 1, Policy: Block})
	require.NoError(t, q.Push(1))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = q.Pop(context.Background())
	}()

	require.NoError(t, q.Push(2), "a zero BlockTimeout still waits for room")
	assert.Equal(t, []int{2}, q.Drain())
}

func TestParseOverflowPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    OverflowPolicy
		wantErr bool
	}{
		{"", DropOldest, false},
		{"drop-oldest", DropOldest, false},
		{"DROP_OLDEST", DropOldest, false},
		{"reject", Reject, false},
		{" block ", Block, false},
		{"explode", DropOldest, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseOverflowPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
