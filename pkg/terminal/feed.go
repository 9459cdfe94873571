package terminal

import "sync"

// stateBacklog bounds the queue of a lossy feed.
const stateBacklog = 16

// feed fans values out to any number of subscribers. Publish never blocks:
// each subscriber owns a queue drained by its own goroutine, so a slow
// reader never stalls the socket reader. An unbounded feed delivers every
// value in order. A bounded feed keeps only the newest values once a
// subscriber falls behind.
type feed[T any] struct {
	mu          sync.Mutex
	subscribers map[*subscriber[T]]struct{}
	limit       int
	closed      bool
}

func newFeed[T any]() *feed[T] {
	return &feed[T]{subscribers: make(map[*subscriber[T]]struct{})}
}

// newLatestFeed returns a feed that drops the oldest queued values once a
// subscriber has limit values pending.
func newLatestFeed[T any](limit int) *feed[T] {
	f := newFeed[T]()
	f.limit = limit
	return f
}

type subscriber[T any] struct {
	out  chan T
	wake chan struct{}
	stop chan struct{}

	mu       sync.Mutex
	queue    []T
	draining bool
}

func (s *subscriber[T]) push(v T, limit int) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	if limit > 0 && len(s.queue) > limit {
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
	}
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// finish lets the pump deliver what is queued and then close out.
func (s *subscriber[T]) finish() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			draining := s.draining
			s.mu.Unlock()
			if draining {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.stop:
				return
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.stop:
			return
		}
	}
}

func (f *feed[T]) publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for sub := range f.subscribers {
		sub.push(v, f.limit)
	}
}

// subscribe registers a subscriber. The returned func stops delivery at
// once and closes the channel; values still queued are discarded.
func (f *feed[T]) subscribe() (<-chan T, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		empty := make(chan T)
		close(empty)
		return empty, func() {}
	}
	sub := &subscriber[T]{
		out:  make(chan T),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	f.subscribers[sub] = struct{}{}
	go sub.pump()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subscribers, sub)
			f.mu.Unlock()
			close(sub.stop)
		})
	}
	return sub.out, unsubscribe
}

// close ends the feed. Subscribers receive everything already published and
// then see their channel closed.
func (f *feed[T]) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for sub := range f.subscribers {
		sub.finish()
		delete(f.subscribers, sub)
	}
}
