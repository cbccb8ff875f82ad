package order

// outbox buffers encoded requests for the writer goroutine.
type outbox struct {
	ch chan []byte
}

func newOutbox(size int) *outbox {
	if size <= 0 {
		size = 256
	}
	return &outbox{ch: make(chan []byte, size)}
}

// tryPush queues msg without blocking; it reports false when the buffer is full.
func (q *outbox) tryPush(msg []byte) bool {
	select {
	case q.ch <- msg:
		return true
	default:
		return false
	}
}

func (q *outbox) len() int {
	return len(q.ch)
}
