package workerpool

import "context"

// queue forwards submitted values to workers without ever blocking the
// submitter for longer than a channel handoff. Closing in drains the pending
// values and then closes out.
type queue[T any] struct {
	in        chan T
	out       chan T
	done      chan struct{}
	abandoned []T
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{
		in:   make(chan T),
		out:  make(chan T),
		done: make(chan struct{}),
	}
}

// run owns the pending slice. Values still pending when ctx ends are kept in
// abandoned, readable once done is closed.
func (q *queue[T]) run(ctx context.Context) {
	defer close(q.done)
	defer close(q.out)

	var pending []T
	in := q.in
	for in != nil || len(pending) > 0 {
		var (
			out  chan T
			next T
		)
		if len(pending) > 0 {
			out = q.out
			next = pending[0]
		}
		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			pending = append(pending, v)
		case out <- next:
			pending = pending[1:]
		case <-ctx.Done():
			q.abandoned = pending
			return
		}
	}
}
