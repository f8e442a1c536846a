package sync

import (
	"log/slog"
	"sync"
)

// callbackQueue runs completion callbacks one at a time, in posting order,
// on a single goroutine.
type callbackQueue struct {
	fns    chan func()
	done   chan struct{}
	log    *slog.Logger
	closed sync.Once
}

func newCallbackQueue(logger *slog.Logger) *callbackQueue {
	q := &callbackQueue{
		fns:  make(chan func(), 64),
		done: make(chan struct{}),
		log:  logger,
	}
	go q.run()
	return q
}

func (q *callbackQueue) run() {
	defer close(q.done)
	for fn := range q.fns {
		q.call(fn)
	}
}

func (q *callbackQueue) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("completion callback panicked", "panic", r)
		}
	}()
	fn()
}

// post queues fn. It blocks while the queue is full.
func (q *callbackQueue) post(fn func()) {
	q.fns <- fn
}

// drain returns once every callback posted before it has run.
func (q *callbackQueue) drain() {
	ran := make(chan struct{})
	q.post(func() { close(ran) })
	<-ran
}

// close stops the queue after the callbacks already posted have run.
func (q *callbackQueue) close() {
	q.closed.Do(func() { close(q.fns) })
	<-q.done
}
