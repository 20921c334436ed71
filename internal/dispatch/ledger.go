package dispatch

import "sync"

// ledger 记录每个资源当前在途的抓取及等待其完成的重复请求。
// 它把同一资源的并发网络抓取约束为至多一个，是整个调度器的
// 核心正确性所在。所有操作共享一把锁，与提交时的登记决策原子。
type ledger struct {
	mu      sync.Mutex
	waiting map[ResourceID][]Task
}

func newLedger() *ledger {
	return &ledger{
		waiting: make(map[ResourceID][]Task),
	}
}

// registerOrJoin 在 id 无在途抓取时登记一个空条目并返回 true，
// 调用方需将请求入队；否则把 t 追加到等待列表并返回 false，
// 该请求会在首个抓取完成后被重放，不得入队。
func (l *ledger) registerOrJoin(id ResourceID, t Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, inFlight := l.waiting[id]; inFlight {
		l.waiting[id] = append(l.waiting[id], t)
		return false
	}
	l.waiting[id] = nil
	return true
}

// drain 原子地取走并返回 id 的等待列表（保持加入顺序），
// 同时撤销在途登记；无登记时返回空列表。
func (l *ledger) drain(id ResourceID) []Task {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := l.waiting[id]
	delete(l.waiting, id)
	return list
}

// inFlight 返回当前在途的资源数，供诊断接口读取。
func (l *ledger) inFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiting)
}
