package dispatch

import "sync"

// taskQueue 是无界阻塞 FIFO 队列：push 永不阻塞生产者，pop 在队列
// 为空时挂起 worker（这是 worker 唯一的挂起点）。close 之后 pop 仍会
// 排空剩余条目，随后返回 false；push 则直接拒绝。
type taskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Task
	closed bool
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *taskQueue) push(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, t)
	q.cond.Signal()
	return true
}

func (q *taskQueue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}

	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t, true
}

func (q *taskQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

func (q *taskQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
