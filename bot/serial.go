package bot

import "sync"

// SerialQueue runs submitted functions concurrently across keys and strictly in
// submission order within a key. A key holds a goroutine only while it has
// pending work.
type SerialQueue struct {
	mu      sync.Mutex
	pending map[int64][]func()
	wg      sync.WaitGroup
}

func NewSerialQueue() *SerialQueue {
	return &SerialQueue{pending: make(map[int64][]func())}
}

// Submit schedules f after everything submitted earlier for the same key.
func (q *SerialQueue) Submit(key int64, f func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue, running := q.pending[key]
	q.pending[key] = append(queue, f)
	if running {
		return
	}

	q.wg.Add(1)
	go q.drain(key)
}

func (q *SerialQueue) drain(key int64) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		queue := q.pending[key]
		if len(queue) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		f := queue[0]
		q.pending[key] = queue[1:]
		q.mu.Unlock()

		f()
	}
}

// Wait blocks until every submitted function has returned.
func (q *SerialQueue) Wait() {
	q.wg.Wait()
}
