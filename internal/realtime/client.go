// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package realtime

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/culture-thirst/fontaine/internal/logging"
)

// Tuning bounds one websocket connection. Zero values take the defaults.
type Tuning struct {
	SendBuffer     int
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

// DefaultTuning returns the production connection bounds.
func DefaultTuning() Tuning {
	return Tuning{
		SendBuffer:     256,
		PingPeriod:     54 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4 * 1024,
	}
}

func (t Tuning) withDefaults() Tuning {
	def := DefaultTuning()
	if t.SendBuffer <= 0 {
		t.SendBuffer = def.SendBuffer
	}
	if t.PongWait <= 0 {
		t.PongWait = def.PongWait
	}
	if t.PingPeriod <= 0 {
		// The ping must land before the pong deadline expires.
		t.PingPeriod = t.PongWait * 9 / 10
	}
	if t.WriteWait <= 0 {
		t.WriteWait = def.WriteWait
	}
	if t.MaxMessageSize <= 0 {
		t.MaxMessageSize = def.MaxMessageSize
	}
	return t
}

// clientIDCounter assigns monotonically increasing client ids, the sort key
// for reproducible broadcast order.
var clientIDCounter atomic.Uint64

// Client sits between one websocket connection and the hub. Outbound
// messages are encoded to the legacy wire form in the write pump; inbound
// text is decoded in the read pump and control kinds are handed to the hub's
// control callback.
type Client struct {
	id     uint64
	hub    *Hub
	conn   *websocket.Conn
	send   chan Message
	tuning Tuning
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, tuning Tuning) *Client {
	tuning = tuning.withDefaults()
	return &Client{
		id:     clientIDCounter.Add(1),
		hub:    hub,
		conn:   conn,
		send:   make(chan Message, tuning.SendBuffer),
		tuning: tuning,
	}
}

// Start launches the read and write pumps and registers with the hub.
func (c *Client) Start() {
	c.hub.Register <- c
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.tuning.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.tuning.PongWait)); err != nil {
		logging.Error().Err(err).Msg("Failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.tuning.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Msg("Unexpected websocket close")
			}
			return
		}

		msg, err := DecodeWire(string(raw))
		if err != nil {
			logging.Warn().Err(err).Msg("Dropping malformed realtime message")
			continue
		}
		switch msg.Kind {
		case KindStartFill, KindStopFill:
			c.hub.onControl(msg)
		default:
			// Clients only originate control signals.
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.tuning.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.tuning.WriteWait)); err != nil {
				logging.Error().Err(err).Msg("Failed to set write deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			wire, err := EncodeWire(message)
			if err != nil {
				logging.Error().Err(err).Str("kind", string(message.Kind)).Msg("Failed to encode realtime message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(wire)); err != nil {
				logging.Error().Err(err).Msg("Failed to write realtime message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.tuning.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
