package queue

// Queue hands items from network goroutines to the tick loop.
type Queue interface {
	Enqueue(item interface{}) error
	Dequeue() (interface{}, error)
	Size() int
	ReadAllMessages() ([]interface{}, error)
	ClearQueue() error
}

// ErrQueueFull is returned when an item is offered to a queue at capacity.
type ErrQueueFull struct {
	Capacity int
}

func (e *ErrQueueFull) Error() string {
	return "queue is full"
}

func IsQueueFull(err error) bool {
	_, ok := err.(*ErrQueueFull)
	return ok
}

// ErrQueueEmpty is returned by Dequeue when nothing is pending.
type ErrQueueEmpty struct{}

func (e *ErrQueueEmpty) Error() string {
	return "queue is empty"
}

func IsQueueEmpty(err error) bool {
	_, ok := err.(*ErrQueueEmpty)
	return ok
}
