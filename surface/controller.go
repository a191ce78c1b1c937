// Package surface bounds the number of concurrently live map surfaces.
//
// Interactive map panels are expensive to instantiate and some client
// platforms fall over when too many are alive at once, so every panel asks
// the Controller for a slot before it creates its rendering surface. The
// Controller either grants immediately, queues the request until a slot
// frees up, or preempts a lower-priority holder to make room.
package surface

import (
	"sort"
	"sync"
)

// Decision is the controller's answer to a surface request. When Allowed is
// true, Instance carries the unique token for the granted occupancy.
type Decision struct {
	Allowed  bool  `json:"allowed"`
	Instance int64 `json:"instance"`
}

// Options configure a new Controller.
type Options struct {

	// MaxActive is the number of surfaces that may be live concurrently
	// while the gate is enforced. Defaults to 3.
	MaxActive int

	// Gated enforces the MaxActive bound. When false, every request is
	// granted unconditionally.
	Gated bool

	// Probe, when non-nil, is evaluated exactly once during New and its
	// result replaces Gated. Lets callers plug in platform detection
	// without the controller depending on it.
	Probe func() bool

	// OnEvict is called once for every preempted holder, after the
	// operation that evicted it has finished mutating controller state.
	// The holder's grant is already gone by the time this runs.
	OnEvict func(consumer string, instance int64)

	// Metrics are optional; pass nil to run without instrumentation.
	Metrics *Metrics
}

// grant is one active occupancy in the registry.
type grant struct {
	instance int64
	priority int
	seq      uint64 // grant order, breaks priority ties deterministically
}

// waiter is one queued request awaiting a slot. Queue order is the slice
// position; an arrival seq is only assigned once the waiter is granted.
type waiter struct {
	consumer string
	priority int
	decision chan Decision // buffered cap 1, resolved exactly once
}

// Controller decides whether a surface may be created now, must wait, or
// should displace a lower-priority surface. All methods are safe for
// concurrent use; a single mutex spans each logical operation so preemption
// and drain passes never observe a torn registry/queue state.
type Controller struct {
	mu        sync.Mutex
	gated     bool
	maxActive int
	onEvict   func(string, int64)
	metrics   *Metrics

	nextInstance int64  // strictly increasing, never reused
	nextSeq      uint64 // grant sequence, breaks eviction ties

	active  map[string]*grant
	pending []*waiter // descending priority, arrival order within a tie
}

// New creates a Controller from the given Options.
func New(opts Options) *Controller {
	if opts.MaxActive <= 0 {
		opts.MaxActive = 3
	}
	gated := opts.Gated
	if opts.Probe != nil {
		// evaluated once; the runtime class doesn't change mid-flight
		gated = opts.Probe()
	}
	return &Controller{
		gated:     gated,
		maxActive: opts.MaxActive,
		onEvict:   opts.OnEvict,
		metrics:   opts.Metrics,
		active:    make(map[string]*grant),
	}
}

// eviction is recorded during a locked section and notified afterwards.
type eviction struct {
	consumer string
	instance int64
}

// Request asks for a surface slot for the given consumer. The returned
// channel receives exactly one Decision: synchronously for immediate grants
// and denials, or later when a release or preemption frees a slot. A queued
// request waits indefinitely until granted, withdrawn via Release, or
// displaced-for by a stronger arrival.
//
// Repeated requests for a consumer that is already registered do not corrupt
// state: an active consumer is re-answered with its existing grant, while a
// duplicate of a queued consumer is answered with a denial and the original
// request stays queued.
func (c *Controller) Request(consumer string, priority int) <-chan Decision {
	done := make(chan Decision, 1)

	c.mu.Lock()

	// duplicate of an active consumer: re-answer with the existing grant
	if g, ok := c.active[consumer]; ok {
		c.mu.Unlock()
		done <- Decision{Allowed: true, Instance: g.instance}
		return done
	}

	// duplicate of a queued consumer: deny the duplicate, keep the original
	if c.pendingIndexLocked(consumer) >= 0 {
		c.mu.Unlock()
		c.metrics.observeDenial(denialDuplicate)
		done <- Decision{}
		return done
	}

	// ungated mode or free capacity: grant immediately
	if !c.gated || len(c.active) < c.maxActive {
		d := c.grantLocked(consumer, priority)
		c.observeStateLocked()
		c.mu.Unlock()
		done <- d
		return done
	}

	// registry full: queue the request, then try to preempt once
	c.enqueueLocked(&waiter{
		consumer: consumer,
		priority: priority,
		decision: done,
	})
	evicted := c.preemptLocked(priority)
	c.observeStateLocked()
	c.mu.Unlock()

	c.notify(evicted)
	return done
}

// Release gives up the consumer's slot or withdraws its queued request.
// Releasing an active consumer triggers a drain pass, so a queued request is
// granted before Release returns. Withdrawing a queued request resolves its
// pending decision as denied. Unknown consumers are a no-op; Release is
// idempotent and never errors.
func (c *Controller) Release(consumer string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.active[consumer]; ok {
		delete(c.active, consumer)
		c.metrics.observeRelease()
		c.drainLocked()
		c.observeStateLocked()
		return
	}

	if i := c.pendingIndexLocked(consumer); i >= 0 {
		w := c.pending[i]
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		// the caller no longer wants the slot, settle the decision as denied
		// instead of leaving the channel unresolved forever
		w.decision <- Decision{}
		c.metrics.observeDenial(denialWithdrawn)
		c.observeStateLocked()
	}
}

// UpdatePriority changes the stored priority of an active grant, affecting
// only future preemption decisions. Queued requests are not re-sorted by
// this call; a caller that needs to re-prioritize a queued request must
// Release and re-Request it. Unknown consumers are a no-op.
func (c *Controller) UpdatePriority(consumer string, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.active[consumer]; ok {
		g.priority = priority
	}
}

// ActiveCount returns the number of currently granted surfaces.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// PendingCount returns the number of queued requests.
func (c *Controller) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// IsActive reports whether the consumer currently holds a granted surface.
func (c *Controller) IsActive(consumer string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[consumer]
	return ok
}

// -------------------- locked internals -------------------- >>

// grantLocked issues the next instance identifier to the consumer.
func (c *Controller) grantLocked(consumer string, priority int) Decision {
	c.nextInstance++
	c.active[consumer] = &grant{
		instance: c.nextInstance,
		priority: priority,
		seq:      c.nextSeq,
	}
	c.nextSeq++
	c.metrics.observeGrant()
	return Decision{Allowed: true, Instance: c.nextInstance}
}

// enqueueLocked inserts the waiter keeping the queue ordered by descending
// priority; equal priorities keep arrival order, so insertion lands after
// any existing waiter of the same priority.
func (c *Controller) enqueueLocked(w *waiter) {
	i := sort.Search(len(c.pending), func(i int) bool {
		return c.pending[i].priority < w.priority
	})
	c.pending = append(c.pending, nil)
	copy(c.pending[i+1:], c.pending[i:])
	c.pending[i] = w
}

// pendingIndexLocked returns the queue position of the consumer, or -1.
func (c *Controller) pendingIndexLocked(consumer string) int {
	for i, w := range c.pending {
		if w.consumer == consumer {
			return i
		}
	}
	return -1
}

// preemptLocked evicts the weakest active holder if it is strictly weaker
// than the given priority, then drains the freed slot to the head of the
// queue. Ties among the weakest holders fall to the earliest grant. When no
// holder is weaker, nothing happens and the new arrival stays queued.
func (c *Controller) preemptLocked(priority int) []eviction {
	var victim string
	var weakest *grant
	for consumer, g := range c.active {
		if weakest == nil || g.priority < weakest.priority ||
			(g.priority == weakest.priority && g.seq < weakest.seq) {
			victim, weakest = consumer, g
		}
	}
	if weakest == nil || weakest.priority >= priority {
		return nil
	}

	// the victim's continuation was already resolved at grant time, so the
	// eviction itself resolves nothing; the registered OnEvict hook tells
	// the holder to tear down its surface
	delete(c.active, victim)
	c.metrics.observeEviction()
	c.drainLocked()
	return []eviction{{consumer: victim, instance: weakest.instance}}
}

// drainLocked promotes queued requests into free slots, highest priority
// first. Decisions are settled while still holding the lock: the channels
// are buffered and consumed exactly once, so this never blocks, and a
// releasing caller observes the promotion as part of its own call.
func (c *Controller) drainLocked() {
	for len(c.active) < c.maxActive && len(c.pending) > 0 {
		w := c.pending[0]
		c.pending = c.pending[1:]
		w.decision <- c.grantLocked(w.consumer, w.priority)
	}
}

// observeStateLocked pushes the registry and queue sizes to the gauges.
func (c *Controller) observeStateLocked() {
	c.metrics.observeState(len(c.active), len(c.pending))
}

// notify runs the eviction hook outside the controller lock, so the hook
// may call back into the controller without deadlocking.
func (c *Controller) notify(evicted []eviction) {
	if c.onEvict == nil {
		return
	}
	for _, e := range evicted {
		c.onEvict(e.consumer, e.instance)
	}
}
