// Package chat fans messages out between portal browsers and the radio
// link, keeping a bounded history so late joiners see recent traffic.
package chat

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/puzpuzpuz/xsync"
)

// Message is one chat message as shown in the portal.
type Message struct {
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	UserID    string `json:"userId"`
	Time      string `json:"time"`      // wall clock HH:MM, what the portal displays
	Source    string `json:"source"`    // "local" (web) or "lora" (radio)
	Delivered bool   `json:"delivered"` // whether the message made it onto the radio
}

const (
	SourceLocal = "local"
	SourceLora  = "lora"
)

// Event is the envelope pushed to connected browsers.
type Event struct {
	Event   string   `json:"event"` // "message" | "status"
	Message *Message `json:"message,omitempty"`
	Online  *bool    `json:"online,omitempty"`
}

// RadioSender is the hub's view of the radio link.
type RadioSender interface {
	SendText(sender, text string) error
	Online() bool
}

// Hub holds the currently connected chat clients, safe for concurrent
// access, and broadcasts messages and radio status changes to all of them.
type Hub struct {

	// clients are held in a sync.Map safe for concurrent access
	clients *xsync.MapOf[string, *client]

	// Broadcast is the channel every published message goes through
	Broadcast chan Message

	history *History
	radio   RadioSender

	// ratecounter keeps track of throughput [messages/s]
	ratecounter *RateCounter

	online     atomic.Bool
	nextClient atomic.Uint64
}

// client is one connected browser with its outgoing event queue.
type client struct {
	id     string
	events chan Event
}

// NewHub initializes the hub and starts the broadcast transmitter.
// Both history and radio may be nil.
func NewHub(history *History, radio RadioSender) *Hub {
	h := &Hub{
		clients:     xsync.NewMapOf[*client](),
		Broadcast:   make(chan Message, 64),
		history:     history,
		radio:       radio,
		ratecounter: NewRateCounter(5 * time.Second),
	}
	go h.transmitter()
	return h
}

// transmitter forwards messages from the Broadcast channel to all clients.
func (h *Hub) transmitter() {
	for msg := range h.Broadcast {
		h.ratecounter.Observe(msg.Source)
		if err := h.history.Append(msg); err != nil {
			log.Printf("ERR: chat history append: %s", err)
		}
		ev := Event{Event: "message", Message: &msg}
		h.clients.Range(func(_ string, c *client) bool {
			c.push(ev)
			return true
		})
	}
}

// Submit publishes a message from a web client. The message is relayed to
// the radio when a link is up; the broadcast to all browsers carries
// whether that relay succeeded.
func (h *Hub) Submit(text, sender, userID string) {
	if text == "" {
		return
	}
	if sender == "" {
		sender = "WebUser"
	}
	if userID == "" {
		userID = "anon"
	}

	delivered := false
	if h.radio != nil && h.radio.Online() {
		if err := h.radio.SendText(sender, text); err != nil {
			log.Printf("ERR: radio send failed: %s", err)
		} else {
			delivered = true
		}
	}

	h.Broadcast <- Message{
		Text:      text,
		Sender:    sender,
		UserID:    userID,
		Time:      clock(),
		Source:    SourceLocal,
		Delivered: delivered,
	}
}

// HandleInbound publishes a message received from the radio.
func (h *Hub) HandleInbound(from, text string) {
	sender := from
	if len(from) > 4 {
		sender = "LoRa-" + from[len(from)-4:]
	}
	h.Broadcast <- Message{
		Text:      text,
		Sender:    sender,
		UserID:    "lora-" + from,
		Time:      clock(),
		Source:    SourceLora,
		Delivered: true,
	}
}

// SetRadioOnline records the radio link status and notifies all clients.
func (h *Hub) SetRadioOnline(online bool) {
	h.online.Store(online)
	ev := Event{Event: "status", Online: &online}
	h.clients.Range(func(_ string, c *client) bool {
		c.push(ev)
		return true
	})
}

// ClientCount is the number of currently connected browsers.
func (h *Hub) ClientCount() int {
	return h.clients.Size()
}

// Rate is the recent message throughput in messages per second.
func (h *Hub) Rate() float64 {
	return h.ratecounter.GetRate()
}

// SourceRate is the recent throughput of one message source.
func (h *Hub) SourceRate(source string) float64 {
	return h.ratecounter.SourceRate(source)
}

// push enqueues an event without blocking the transmitter; slow readers
// lose events and resynchronize from history on reconnect.
func (c *client) push(ev Event) {
	select {
	case c.events <- ev:
	default:
		log.Printf("[%s] chat event dropped", c.id)
	}
}

// incoming is what browsers send on the chat socket.
type incoming struct {
	Text   string `json:"text"`
	Sender string `json:"sender"`
	UserID string `json:"userId"`
}

// Handler returns the websocket endpoint for chat clients. On connect the
// client receives the current radio status and the retained history, then
// live events as they happen.
func (h *Hub) Handler(origins []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: origins,
		})
		if err != nil {
			log.Printf("[%s] chat socket upgrade failed: %s", r.RemoteAddr, err)
			return
		}
		defer conn.CloseNow()

		c := &client{
			id:     fmt.Sprintf("%s#%d", r.RemoteAddr, h.nextClient.Add(1)),
			events: make(chan Event, 64),
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// replay before going live, so ordering is stable for the client
		online := h.online.Load()
		if err := wsjson.Write(ctx, conn, Event{Event: "status", Online: &online}); err != nil {
			return
		}
		if recent, err := h.history.Recent(); err != nil {
			log.Printf("ERR: chat history read: %s", err)
		} else {
			for i := range recent {
				if err := wsjson.Write(ctx, conn, Event{Event: "message", Message: &recent[i]}); err != nil {
					return
				}
			}
		}

		h.clients.Store(c.id, c)
		defer h.clients.Delete(c.id)
		log.Printf("[%s] chat client connected, %d total", c.id, h.ClientCount())

		// writer pump
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-c.events:
					if err := wsjson.Write(ctx, conn, ev); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		for {
			var in incoming
			if err := wsjson.Read(ctx, conn, &in); err != nil {
				return
			}
			h.Submit(in.Text, in.Sender, in.UserID)
		}
	}
}

// clock formats the local wall time the way the portal displays it.
func clock() string {
	return time.Now().Format("15:04")
}
