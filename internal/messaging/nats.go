// Package messaging provides a NATS client wrapper for pub/sub messaging
// between the Loopr gateway and the matchmaking daemon. It handles
// connection lifecycle, subject-based subscriptions, and convenience
// methods for the pairing and channel subjects.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across Loopr services.
const (
	SubjectPairingRequest     = "pairing.request"
	SubjectPairingCancel      = "pairing.cancel"
	SubjectMatchAccept        = "match.accept"
	SubjectMatchReject        = "match.reject"
	SubjectPresenceConnect    = "presence.connect"
	SubjectPresenceDisconnect = "presence.disconnect"
	SubjectUserEvents         = "user.events" // + .<user_id>
	SubjectChannel            = "channel"     // + .<channel_id>
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "loopr",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Flush waits until the server has processed all buffered publishes and
// subscriptions. Callers use it to make a fresh subscription live before
// announcing the event that triggers traffic to it.
func (c *NATSClient) Flush() error {
	return c.conn.Flush()
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.store(subject, sub)
	return nil
}

// PublishPairingRequest publishes a pairing request to the engine.
func (c *NATSClient) PublishPairingRequest(data []byte) error {
	return c.Publish(SubjectPairingRequest, data)
}

// SubscribePairingRequest subscribes to pairing requests from gateways.
func (c *NATSClient) SubscribePairingRequest(handler func(data []byte)) error {
	return c.Subscribe(SubjectPairingRequest, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishPairingCancel publishes a pairing cancellation to the engine.
func (c *NATSClient) PublishPairingCancel(data []byte) error {
	return c.Publish(SubjectPairingCancel, data)
}

// SubscribePairingCancel subscribes to pairing cancellations from gateways.
func (c *NATSClient) SubscribePairingCancel(handler func(data []byte)) error {
	return c.Subscribe(SubjectPairingCancel, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishMatchAccept publishes a match acceptance to the engine.
func (c *NATSClient) PublishMatchAccept(data []byte) error {
	return c.Publish(SubjectMatchAccept, data)
}

// SubscribeMatchAccept subscribes to match acceptances from gateways.
func (c *NATSClient) SubscribeMatchAccept(handler func(data []byte)) error {
	return c.Subscribe(SubjectMatchAccept, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishMatchReject publishes a match rejection to the engine.
func (c *NATSClient) PublishMatchReject(data []byte) error {
	return c.Publish(SubjectMatchReject, data)
}

// SubscribeMatchReject subscribes to match rejections from gateways.
func (c *NATSClient) SubscribeMatchReject(handler func(data []byte)) error {
	return c.Subscribe(SubjectMatchReject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishPresenceConnect announces a user's connection to the engine.
func (c *NATSClient) PublishPresenceConnect(data []byte) error {
	return c.Publish(SubjectPresenceConnect, data)
}

// SubscribePresenceConnect subscribes to connection announcements.
func (c *NATSClient) SubscribePresenceConnect(handler func(data []byte)) error {
	return c.Subscribe(SubjectPresenceConnect, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishPresenceDisconnect announces a user's disconnection to the engine.
func (c *NATSClient) PublishPresenceDisconnect(data []byte) error {
	return c.Publish(SubjectPresenceDisconnect, data)
}

// SubscribePresenceDisconnect subscribes to disconnection announcements.
func (c *NATSClient) SubscribePresenceDisconnect(handler func(data []byte)) error {
	return c.Subscribe(SubjectPresenceDisconnect, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishUserEvent publishes an engine event to user.events.<userID>, the
// subject the user's gateway listens on.
func (c *NATSClient) PublishUserEvent(userID string, data []byte) error {
	return c.Publish(SubjectUserEvents+"."+userID, data)
}

// SubscribeUserEvents subscribes to engine events for a specific user.
func (c *NATSClient) SubscribeUserEvents(userID string, handler func(data []byte)) error {
	subject := SubjectUserEvents + "." + userID
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeUserEvents drops the event subscription for a user.
func (c *NATSClient) UnsubscribeUserEvents(userID string) error {
	return c.unsubscribe(SubjectUserEvents + "." + userID)
}

// SubscribeToChannel subscribes to the channel.<channelID> subject for a
// specific user. The subscription is keyed by userID so multiple users on
// the same gateway can follow the same channel without overwriting each
// other. A user follows at most one channel at a time; subscribing again
// replaces any previous channel subscription.
func (c *NATSClient) SubscribeToChannel(channelID, userID string, handler func(data []byte)) error {
	subject := SubjectChannel + "." + channelID
	key := "channelsub:" + userID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.store(key, sub)
	return nil
}

// UnsubscribeFromChannel drops a user's channel subscription.
func (c *NATSClient) UnsubscribeFromChannel(userID string) error {
	return c.unsubscribe("channelsub:" + userID)
}

// PublishChannelMessage publishes data to the channel.<channelID> subject.
func (c *NATSClient) PublishChannelMessage(channelID string, data []byte) error {
	return c.Publish(SubjectChannel+"."+channelID, data)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// store tracks sub under key, unsubscribing any subscription the key
// previously held so a re-subscribe replaces it instead of leaking it.
func (c *NATSClient) store(key string, sub *nats.Subscription) {
	c.mu.Lock()
	old, ok := c.subs[key]
	c.subs[key] = sub
	c.mu.Unlock()

	if ok {
		if err := old.Unsubscribe(); err != nil {
			log.Printf("[nats] unsubscribe replaced %s: %v", key, err)
		}
	}
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
