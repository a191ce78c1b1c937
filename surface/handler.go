package surface

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/puzpuzpuz/xsync"
)

// Handler serves the websocket endpoint through which the browser map panels
// consume the admission Controller. Each panel sends a request with its own
// id and priority and receives the decision asynchronously; evictions are
// pushed to the panel that held the surface. Consumer keys are namespaced
// per connection, so panel ids only need to be unique within one page.
type Handler struct {
	ctrl     *Controller
	origins  []string
	owners   *xsync.MapOf[string, *session] // consumer key -> owning session
	nextConn atomic.Uint64
}

// NewHandler builds the Controller from the given Options and wires its
// eviction hook into the websocket sessions. A caller-supplied OnEvict still
// runs after the owning session was notified.
func NewHandler(opts Options, origins []string) *Handler {
	h := &Handler{
		origins: origins,
		owners:  xsync.NewMapOf[*session](),
	}
	chained := opts.OnEvict
	opts.OnEvict = func(consumer string, instance int64) {
		h.routeEviction(consumer, instance)
		if chained != nil {
			chained(consumer, instance)
		}
	}
	h.ctrl = New(opts)
	return h
}

// Controller exposes the wrapped admission controller.
func (h *Handler) Controller() *Controller {
	return h.ctrl
}

// command sent by the browser
type wsCommand struct {
	Op       string `json:"op"` // request | release | priority
	ID       string `json:"id"`
	Priority int    `json:"priority,omitempty"`
}

// event pushed to the browser
type wsEvent struct {
	Op       string `json:"op"` // decision | evicted
	ID       string `json:"id"`
	Allowed  bool   `json:"allowed"`
	Instance int64  `json:"instance,omitempty"`
}

// session is one connected page with its outgoing event queue.
type session struct {
	key    string
	events chan wsEvent
}

// push enqueues an event without ever blocking the controller; a page that
// stopped reading loses events and will resynchronize on reconnect.
func (s *session) push(ev wsEvent) {
	select {
	case s.events <- ev:
	default:
		log.Printf("[%s] surface event dropped: %s %s", s.key, ev.Op, ev.ID)
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		log.Printf("[%s] surface socket upgrade failed: %s", r.RemoteAddr, err)
		return
	}
	defer conn.CloseNow()

	sess := &session{
		// the nonce keeps keys unique across reconnects from one address
		key:    fmt.Sprintf("%s#%d", r.RemoteAddr, h.nextConn.Add(1)),
		events: make(chan wsEvent, 32),
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// writer pump for decisions and evictions
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-sess.events:
				if err := wsjson.Write(ctx, conn, ev); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// ids owned by this page; touched only by this read loop
	owned := make(map[string]struct{})

	// connection teardown withdraws everything the page still holds,
	// including requests that are merely queued
	defer func() {
		for id := range owned {
			key := sess.key + "/" + id
			h.owners.Delete(key)
			h.ctrl.Release(key)
		}
	}()

	for {
		var cmd wsCommand
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			return // closed or unparseable, drop the connection
		}
		if cmd.ID == "" {
			continue
		}
		key := sess.key + "/" + cmd.ID

		switch cmd.Op {

		case "request":
			owned[cmd.ID] = struct{}{}
			h.owners.Store(key, sess)
			decision := h.ctrl.Request(key, cmd.Priority)
			go func(id string) {
				d := <-decision
				sess.push(wsEvent{Op: "decision", ID: id, Allowed: d.Allowed, Instance: d.Instance})
			}(cmd.ID)

		case "release":
			delete(owned, cmd.ID)
			h.owners.Delete(key)
			h.ctrl.Release(key)

		case "priority":
			h.ctrl.UpdatePriority(key, cmd.Priority)

		default:
			log.Printf("[%s] unknown surface op %q", sess.key, cmd.Op)
		}
	}
}

// routeEviction pushes an eviction notice to the session that owns the
// consumer key. Runs outside the controller lock.
func (h *Handler) routeEviction(consumer string, instance int64) {
	_, id, ok := strings.Cut(consumer, "/")
	if !ok {
		return
	}
	if sess, ok := h.owners.Load(consumer); ok {
		sess.push(wsEvent{Op: "evicted", ID: id, Instance: instance})
	}
}
