package chat

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// fakeRadio records sent texts and simulates link status.
type fakeRadio struct {
	mu     sync.Mutex
	online bool
	fail   bool
	sent   []string
}

func (r *fakeRadio) SendText(sender, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("radio busy")
	}
	r.sent = append(r.sent, sender+": "+text)
	return nil
}

func (r *fakeRadio) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

func dialChat(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(hub.Handler([]string{"*"}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		cancel()
		srv.Close()
		t.Fatalf("websocket dial: %v", err)
	}
	return conn, func() {
		conn.CloseNow()
		cancel()
		srv.Close()
	}
}

// waitForClients polls until the hub has registered n clients.
func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("got %d clients, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var ev Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	return ev
}

func TestHubReplaysStatusAndHistoryOnConnect(t *testing.T) {
	history := openTestHistory(t, 10)
	if err := history.Append(Message{Text: "earlier", Sender: "bob"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	hub := NewHub(history, nil)
	hub.SetRadioOnline(true)

	conn, done := dialChat(t, hub)
	defer done()

	status := readEvent(t, conn)
	if status.Event != "status" || status.Online == nil || !*status.Online {
		t.Fatalf("first event: got %+v, want online status", status)
	}
	replay := readEvent(t, conn)
	if replay.Event != "message" || replay.Message == nil || replay.Message.Text != "earlier" {
		t.Fatalf("replay event: got %+v, want history message", replay)
	}
}

func TestHubRelaysWebMessageToRadio(t *testing.T) {
	radio := &fakeRadio{online: true}
	hub := NewHub(nil, radio)

	conn, done := dialChat(t, hub)
	defer done()
	readEvent(t, conn) // status

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := wsjson.Write(ctx, conn, incoming{Text: "hello mesh", Sender: "alice", UserID: "u1"})
	if err != nil {
		t.Fatalf("writing message: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Message == nil {
		t.Fatalf("got %+v, want message event", ev)
	}
	if !ev.Message.Delivered {
		t.Errorf("message not marked delivered despite radio online")
	}
	if ev.Message.Source != SourceLocal {
		t.Errorf("got source %q, want %q", ev.Message.Source, SourceLocal)
	}
	radio.mu.Lock()
	defer radio.mu.Unlock()
	if len(radio.sent) != 1 || radio.sent[0] != "alice: hello mesh" {
		t.Errorf("radio sent %v, want exactly the relayed text", radio.sent)
	}
}

func TestHubMarksUndeliveredWhenRadioOffline(t *testing.T) {
	radio := &fakeRadio{online: false}
	hub := NewHub(nil, radio)

	conn, done := dialChat(t, hub)
	defer done()
	readEvent(t, conn) // status
	waitForClients(t, hub, 1)

	hub.Submit("anyone out there?", "alice", "u1")

	ev := readEvent(t, conn)
	if ev.Message == nil || ev.Message.Delivered {
		t.Fatalf("got %+v, want undelivered message", ev)
	}
	radio.mu.Lock()
	defer radio.mu.Unlock()
	if len(radio.sent) != 0 {
		t.Errorf("radio sent %v, want nothing while offline", radio.sent)
	}
}

func TestHubInboundRadioMessageNaming(t *testing.T) {
	hub := NewHub(nil, nil)

	conn, done := dialChat(t, hub)
	defer done()
	readEvent(t, conn) // status
	waitForClients(t, hub, 1)

	hub.HandleInbound("!deadbeef", "over the air")

	ev := readEvent(t, conn)
	if ev.Message == nil {
		t.Fatalf("got %+v, want message event", ev)
	}
	if ev.Message.Sender != "LoRa-beef" {
		t.Errorf("got sender %q, want %q", ev.Message.Sender, "LoRa-beef")
	}
	if ev.Message.UserID != "lora-!deadbeef" {
		t.Errorf("got userId %q, want %q", ev.Message.UserID, "lora-!deadbeef")
	}
	if ev.Message.Source != SourceLora {
		t.Errorf("got source %q, want %q", ev.Message.Source, SourceLora)
	}
}

func TestHubStatusChangeIsPushed(t *testing.T) {
	hub := NewHub(nil, nil)

	conn, done := dialChat(t, hub)
	defer done()
	readEvent(t, conn) // initial status: offline
	waitForClients(t, hub, 1)

	hub.SetRadioOnline(true)

	ev := readEvent(t, conn)
	if ev.Event != "status" || ev.Online == nil || !*ev.Online {
		t.Fatalf("got %+v, want online status event", ev)
	}
}
