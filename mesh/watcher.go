package mesh

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// how long to wait before scanning for devices again
const reconnectDelay = 3 * time.Second

// ErrOffline is returned by SendText while no radio is connected.
var ErrOffline = errors.New("no radio connected")

// Watcher scans for a radio on the configured device globs, keeps a
// connection open while the device exists, and reconnects after unplug.
// Incoming text packets and link status changes are reported through the
// callbacks, both of which may be nil.
type Watcher struct {
	globs    []string
	onText   func(from, text string)
	onStatus func(online bool)

	// opener is swapped for a pipe in tests
	opener func(device string) (Port, error)

	mu     sync.Mutex
	port   Port
	device string
}

func NewWatcher(globs []string, onText func(from, text string), onStatus func(online bool)) *Watcher {
	return &Watcher{
		globs:    globs,
		onText:   onText,
		onStatus: onStatus,
		opener:   openSerial,
	}
}

// Run connects and reads frames until the context is cancelled. It never
// returns early: lost devices are waited for and reattached.
func (w *Watcher) Run(ctx context.Context) {
	for ctx.Err() == nil {

		device := w.scan()
		if device == "" {
			w.pause(ctx)
			continue
		}

		port, err := w.opener(device)
		if err != nil {
			log.Printf("ERR: mesh: %s", err)
			w.pause(ctx)
			continue
		}
		log.Printf("[%s] radio connected", device)

		w.attach(port, device)
		w.notifyStatus(true)
		w.serve(ctx, port, device)
		w.detach()
		w.notifyStatus(false)
		port.Close()
		log.Printf("[%s] radio disconnected", device)

		w.pause(ctx)
	}
}

// serve reads frames off the port until the stream breaks, the device
// path disappears, or the context is cancelled.
func (w *Watcher) serve(ctx context.Context, port Port, device string) {

	// the blocking read won't notice an unplug on every platform, so a
	// watchdog also checks that the device path still exists
	watchctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(reconnectDelay)
		defer ticker.Stop()
		for {
			select {
			case <-watchctx.Done():
				return
			case <-ticker.C:
				if _, err := os.Stat(device); err != nil {
					port.Close()
					return
				}
			}
		}
	}()

	dec := NewDecoder(port)
	for {
		pkt, err := dec.Next()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[%s] read failed: %s", device, err)
			}
			return
		}
		if w.onText != nil {
			w.onText(pkt.From, pkt.Text)
		}
	}
}

// SendText transmits a text packet over the connected radio. Returns
// ErrOffline while no device is attached.
func (w *Watcher) SendText(sender, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.port == nil {
		return ErrOffline
	}
	return WriteFrame(w.port, Packet{From: sender, Text: text})
}

// Online reports whether a radio is currently attached.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.port != nil
}

// Device returns the attached device path, or an empty string.
func (w *Watcher) Device() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.device
}

// scan returns the first device matching any of the globs.
func (w *Watcher) scan() string {
	var found []string
	for _, pattern := range w.globs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			log.Printf("ERR: mesh: bad device glob %q: %s", pattern, err)
			continue
		}
		found = append(found, matches...)
	}
	if len(found) == 0 {
		return ""
	}
	sort.Strings(found)
	return found[0]
}

func (w *Watcher) attach(port Port, device string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.port = port
	w.device = device
}

func (w *Watcher) detach() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.port = nil
	w.device = ""
}

func (w *Watcher) notifyStatus(online bool) {
	if w.onStatus != nil {
		w.onStatus(online)
	}
}

// pause sleeps for the reconnect delay unless the context ends first.
func (w *Watcher) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(reconnectDelay):
	}
}
