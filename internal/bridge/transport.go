// Package bridge connects the matchmaking engine to NATS. The Transport side
// pushes engine events out to user.events subjects; the Consumer side turns
// inbound gateway messages into engine operations. Together they are the only
// code that knows both the engine API and the wire subjects.
package bridge

import (
	"encoding/json"
	"log"

	"github.com/looprlabs/loopr/internal/messaging"
)

// Transport delivers engine events to users over NATS. It implements the
// engine's Transport collaborator. Delivery is fire-and-forget; a user whose
// gateway is gone simply misses the event, and the engine's own liveness
// checks handle the fallout.
type Transport struct {
	nats *messaging.NATSClient
}

// NewTransport creates a Transport over the given NATS client.
func NewTransport(nc *messaging.NATSClient) *Transport {
	return &Transport{nats: nc}
}

// Notify publishes an engine event to the user's event subject. A nil
// payload is sent as an empty object so consumers always see valid JSON.
func (t *Transport) Notify(userID, event string, payload interface{}) {
	if payload == nil {
		payload = struct{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[bridge] Marshal %s payload for %s: %v", event, userID, err)
		return
	}
	t.publish(userID, messaging.UserEvent{
		Event:   event,
		UserID:  userID,
		Payload: raw,
	})
}

// JoinSharedChannel tells the user's gateway to subscribe them to the shared
// channel of a confirmed match.
func (t *Transport) JoinSharedChannel(userID, channelID string) {
	raw, err := json.Marshal(messaging.ChannelJoin{ChannelID: channelID})
	if err != nil {
		log.Printf("[bridge] Marshal channel join for %s: %v", userID, err)
		return
	}
	t.publish(userID, messaging.UserEvent{
		Event:   messaging.EventChannelJoin,
		UserID:  userID,
		Payload: raw,
	})
}

func (t *Transport) publish(userID string, ev messaging.UserEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[bridge] Marshal user event for %s: %v", userID, err)
		return
	}
	if err := t.nats.PublishUserEvent(userID, data); err != nil {
		log.Printf("[bridge] Publish %s to %s: %v", ev.Event, userID, err)
	}
}
