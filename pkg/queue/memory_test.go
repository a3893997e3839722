package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue(t *testing.T) {
	q := NewInMemoryQueue(2)
	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))

	err := q.Enqueue(3)
	assert.True(t, IsQueueFull(err))
	assert.Equal(t, 2, q.Size())

	item, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, item)

	all, err := q.ReadAllMessages()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{2}, all)

	_, err = q.Dequeue()
	assert.True(t, IsQueueEmpty(err))
}

func TestInMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewInMemoryQueue(1000)
	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				assert.NoError(t, q.Enqueue(i))
			}
		}()
	}
	wg.Wait()

	all, err := q.ReadAllMessages()
	require.NoError(t, err)
	assert.Len(t, all, 1000)
	require.NoError(t, q.ClearQueue())
	assert.Equal(t, 0, q.Size())
}
