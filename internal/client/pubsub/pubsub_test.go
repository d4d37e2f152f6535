package pubsub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_NoReplay(t *testing.T) {
	r := New[int]()
	r.Publish(1)

	var got []int
	unsub := r.Subscribe(func(v int) { got = append(got, v) })
	assert.Empty(t, got)

	r.Publish(2)
	r.Publish(3)
	unsub()
	r.Publish(4)

	assert.Equal(t, []int{2, 3}, got)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ReplayOfOne(t *testing.T) {
	r := NewReplay("closed")

	var early []string
	r.Subscribe(func(v string) { early = append(early, v) })
	r.Publish("connecting")
	r.Publish("open")

	var late []string
	r.Subscribe(func(v string) { late = append(late, v) })

	assert.Equal(t, []string{"closed", "connecting", "open"}, early)
	assert.Equal(t, []string{"open"}, late)
	assert.Equal(t, "open", r.Last())
}

func TestRegistry_PublishSeqDropsStale(t *testing.T) {
	r := NewReplay(0)
	var got []int
	r.Subscribe(func(v int) { got = append(got, v) })

	assert.True(t, r.PublishSeq(2, 20))
	assert.False(t, r.PublishSeq(1, 10))
	assert.True(t, r.PublishSeq(3, 30))

	assert.Equal(t, []int{0, 20, 30}, got)
	assert.Equal(t, 30, r.Last())
}

func TestRegistry_ReentrantCallbacks(t *testing.T) {
	r := New[int]()
	var got []int
	var unsub func()
	unsub = r.Subscribe(func(v int) {
		got = append(got, v)
		if v == 1 {
			// Publishing from inside a callback queues behind the current value.
			r.Publish(2)
		}
		if v == 2 {
			unsub()
		}
	})

	r.Publish(1)
	r.Publish(3)

	assert.Equal(t, []int{1, 2}, got)
}

func TestRegistry_ConcurrentPublishKeepsPerSubscriberOrder(t *testing.T) {
	r := New[int]()
	var mu sync.Mutex
	var got []int
	r.Subscribe(func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	const perWriter = 200
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				r.Publish(w*perWriter + i)
			}
		}(w)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 4*perWriter)

	// Values from any single writer arrive in the order that writer sent them.
	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	for _, v := range got {
		w := v / perWriter
		assert.Greater(t, v, last[w])
		last[w] = v
	}
}
