package match

import (
	"sync"
)

// waitHub tracks long-poll clients blocked until a match changes.
// Waiters are keyed by pair key and woken with a non-blocking send;
// the buffered channel keeps a wakeup that arrives before the select.
type waitHub struct {
	mu      sync.Mutex
	waiters map[string][]*waitRequest
}

type waitRequest struct {
	notify chan struct{}
}

func newWaitHub() *waitHub {
	return &waitHub{waiters: make(map[string][]*waitRequest)}
}

func (w *waitHub) add(key string) *waitRequest {
	req := &waitRequest{notify: make(chan struct{}, 1)}
	w.mu.Lock()
	w.waiters[key] = append(w.waiters[key], req)
	w.mu.Unlock()
	return req
}

// drop removes a waiter that gave up (timeout or client disconnect).
func (w *waitHub) drop(key string, req *waitRequest) {
	w.mu.Lock()
	defer w.mu.Unlock()
	list := w.waiters[key]
	for i, r := range list {
		if r == req {
			w.waiters[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(w.waiters[key]) == 0 {
		delete(w.waiters, key)
	}
}

// notify wakes every waiter registered for the pair key.
func (w *waitHub) notify(key string) {
	w.mu.Lock()
	list := w.waiters[key]
	delete(w.waiters, key)
	w.mu.Unlock()

	for _, req := range list {
		select {
		case req.notify <- struct{}{}:
		default:
		}
	}
}
