package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/livepilot/livepilot-go/internal/services/pubsub"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 10 * time.Second
	// wsBufferSize is per topic; a slow client drops messages rather than
	// backing up the publishers.
	wsBufferSize = 16
)

// wsMessage is the envelope written to monitor clients.
type wsMessage struct {
	Topic   pubsub.Topic `json:"topic"`
	Payload interface{}  `json:"payload"`
}

// handleWebSocket streams control loop events to one monitor client. Each
// connection subscribes to every topic; an optional ?topic= query narrows
// the stream to one.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream is not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️  WebSocket upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	topics := []pubsub.Topic{
		pubsub.TopicSnapshot,
		pubsub.TopicRuleTriggered,
		pubsub.TopicSweepState,
		pubsub.TopicStatus,
	}
	if only := r.URL.Query().Get("topic"); only != "" {
		topics = []pubsub.Topic{pubsub.Topic(only)}
	}

	out := make(chan wsMessage, wsBufferSize)
	done := make(chan struct{})

	var subs []*pubsub.Subscriber
	for _, topic := range topics {
		sub := s.events.Subscribe(topic, "", wsBufferSize)
		subs = append(subs, sub)
		// Forwarder exits when Unsubscribe closes the channel. A full out
		// buffer drops the message instead of blocking the publisher.
		go func(topic pubsub.Topic, sub *pubsub.Subscriber) {
			for msg := range sub.Channel {
				select {
				case out <- wsMessage{Topic: topic, Payload: msg}:
				default:
				}
			}
		}(topic, sub)
	}
	defer func() {
		for _, sub := range subs {
			s.events.Unsubscribe(sub)
		}
	}()

	// Reader detects client disconnect; inbound payloads are ignored.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(done)
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
