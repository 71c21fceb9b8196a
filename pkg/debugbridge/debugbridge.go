/*
Copyright 2024 The tinykernel Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package debugbridge mirrors window-manager and terminal events onto
// connected websocket clients, for a host-side inspector window into
// a running kernel (there is no on-device analog; it only runs when
// kconfig.Config.DebugBridge names a listen address). The hub shape —
// a register/unregister channel pair, a per-connection send channel,
// and separate read/write pumps with ping/pong keepalive — is the
// teacher's pkg/search websocket hub, carried over verbatim in
// structure and narrowed to one fixed message type (event mirrors)
// instead of arbitrary search-result subscriptions. Unlike the
// teacher's hub, every broadcast passes through a rate limiter first:
// this bridge must never be the thing that backpressures the real
// event bus (see DESIGN.md's Open Questions).
package debugbridge

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"tinykernel.org/pkg/event"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 10
	sendBuffered   = 64
)

// Mirror is an outbound event snapshot, the wire shape clients see.
type Mirror struct {
	Target uint16 `json:"target"`
	Type   uint8  `json:"type"`
	X, Y   int16  `json:"x,omitempty"`
	Char   string `json:"char,omitempty"`
	ID     uint32 `json:"id,omitempty"`
}

// Hub fans mirrored events out to every connected client.
type Hub struct {
	upgrader websocket.Upgrader
	limiter  *rate.Limiter

	mu    sync.Mutex
	conns map[*conn]bool
}

// NewHub builds a hub that admits at most burst broadcasts instantly
// and perSecond thereafter, so a pathological producer on the real
// event bus cannot make the mirror path itself become a bottleneck.
func NewHub(perSecond float64, burst int) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
		conns:    make(map[*conn]bool),
	}
}

// Mirror posts ev as a Mirror message to every connected client,
// silently dropping it (not blocking) if the limiter has no tokens
// left, matching the event bus's own drop-on-overflow policy.
func (h *Hub) Mirror(target event.Handle, ev event.Event) {
	if !h.limiter.Allow() {
		return
	}
	m := Mirror{Target: uint16(target), Type: uint8(ev.Type), X: ev.X, Y: ev.Y, ID: ev.ID}
	if ev.Type == event.TypeChar {
		m.Char = string(ev.Char)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		select {
		case c.send <- b:
		default:
			// Slow client: drop rather than block the broadcaster.
		}
	}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws, send: make(chan []byte, sendBuffered), hub: h}
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()

	go c.writePump()
	c.readPump()
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// Count reports the number of connected clients, for diagnostics.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
	hub  *Hub
}

// readPump only watches for disconnect/control frames; the bridge is
// mirror-only and never accepts commands from the client.
func (c *conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
