package llm

// queueStream adapts a provider stream that yields zero or more events per
// upstream chunk. pull is called whenever the queue is empty; it returns
// false when the upstream is exhausted or failed.
type queueStream struct {
	pending []Event
	current Event
	pull    func(q *queueStream) bool
	err     error
	done    bool
	closeFn func() error
}

func newQueueStream(pull func(q *queueStream) bool, closeFn func() error) *queueStream {
	return &queueStream{pull: pull, closeFn: closeFn}
}

func (q *queueStream) push(ev Event) {
	q.pending = append(q.pending, ev)
}

func (q *queueStream) fail(err error) {
	q.err = err
	q.done = true
}

func (q *queueStream) Next() bool {
	for len(q.pending) == 0 {
		if q.done || q.err != nil {
			return false
		}
		if !q.pull(q) {
			q.done = true
		}
	}
	q.current = q.pending[0]
	q.pending = q.pending[1:]
	return true
}

func (q *queueStream) Current() Event { return q.current }

func (q *queueStream) Err() error { return q.err }

func (q *queueStream) Close() error {
	if q.closeFn == nil {
		return nil
	}
	return q.closeFn()
}

// SliceStream replays a fixed event list. It is what scripted clients and
// tests return.
func SliceStream(events []Event, err error) Stream {
	i := 0
	return newQueueStream(func(q *queueStream) bool {
		if i < len(events) {
			q.push(events[i])
			i++
			return true
		}
		if err != nil {
			q.fail(err)
		}
		return false
	}, nil)
}
