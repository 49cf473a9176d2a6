package lwm2m

import "sync"

// dispatcher runs application callbacks (events and handler calls) on one
// goroutine owned by the session. Posting never blocks, so the step worker
// can hand work off while holding its own locks, and callbacks may call back
// into the Session.
type dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	closed  bool
	signal  chan struct{}
	closeCh chan struct{}
	wg      sync.WaitGroup
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		signal:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// post queues fn. Work posted after close is dropped.
func (d *dispatcher) post(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-d.signal:
		case <-d.closeCh:
			d.drain()
			return
		}
	}
}

// drain runs whatever was queued before close.
func (d *dispatcher) drain() {
	d.mu.Lock()
	batch := d.queue
	d.queue = nil
	d.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
}

// close stops the worker once it has run all queued work. It does not
// wait, so it is safe to call from a callback.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	close(d.closeCh)
}

// wait blocks until the worker has exited.
func (d *dispatcher) wait() {
	d.wg.Wait()
}
