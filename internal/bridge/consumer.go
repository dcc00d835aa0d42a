package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/looprlabs/loopr/internal/engine"
	"github.com/looprlabs/loopr/internal/messaging"
)

// Consumer subscribes to the gateway-facing NATS subjects and turns each
// inbound message into an engine operation. Errors the user should know
// about are pushed back on their event subject.
type Consumer struct {
	engine    *engine.Engine
	nats      *messaging.NATSClient
	transport *Transport
}

// NewConsumer creates a Consumer that drives the given engine.
func NewConsumer(e *engine.Engine, nc *messaging.NATSClient, t *Transport) *Consumer {
	return &Consumer{engine: e, nats: nc, transport: t}
}

// Start subscribes to all inbound subjects. It returns on the first
// subscription failure; partial subscriptions are cleaned up by the NATS
// client's Close.
func (c *Consumer) Start() error {
	subs := []struct {
		name      string
		subscribe func() error
	}{
		{"pairing requests", func() error { return c.nats.SubscribePairingRequest(c.handlePairingRequest) }},
		{"pairing cancels", func() error { return c.nats.SubscribePairingCancel(c.handlePairingCancel) }},
		{"match accepts", func() error { return c.nats.SubscribeMatchAccept(c.handleMatchAccept) }},
		{"match rejects", func() error { return c.nats.SubscribeMatchReject(c.handleMatchReject) }},
		{"presence connects", func() error { return c.nats.SubscribePresenceConnect(c.handlePresenceConnect) }},
		{"presence disconnects", func() error { return c.nats.SubscribePresenceDisconnect(c.handlePresenceDisconnect) }},
	}

	for _, s := range subs {
		if err := s.subscribe(); err != nil {
			return fmt.Errorf("bridge: subscribe %s: %w", s.name, err)
		}
	}

	log.Printf("[bridge] Consumer subscribed to %d subjects", len(subs))
	return nil
}

func (c *Consumer) handlePairingRequest(data []byte) {
	var req messaging.PairingRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[bridge] Bad pairing request payload: %v", err)
		return
	}

	criteria := engine.Criteria{
		RequirePreference: engine.Preference(req.RequirePreference),
	}

	err := c.engine.RequestPairing(req.UserID, req.ConnID, criteria)
	switch {
	case err == nil:
		c.transport.Notify(req.UserID, messaging.EventPairingStarted, nil)
	case errors.Is(err, engine.ErrPendingMatch):
		c.notifyError(req.UserID, "pending_match", "resolve your current match proposal first")
	case errors.Is(err, engine.ErrNoInterests):
		c.notifyError(req.UserID, "no_interests", "add at least one interest before pairing")
	case errors.Is(err, engine.ErrNotLive):
		c.notifyError(req.UserID, "not_live", "reconnect and identify before pairing")
	default:
		log.Printf("[bridge] Pairing request for %s failed: %v", req.UserID, err)
		c.notifyError(req.UserID, "internal", "pairing request failed, try again")
	}
}

func (c *Consumer) handlePairingCancel(data []byte) {
	var req messaging.PairingCancel
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[bridge] Bad pairing cancel payload: %v", err)
		return
	}

	if err := c.engine.CancelPairing(req.UserID); err != nil {
		// Cancelling after a proposal or when never queued is harmless; the
		// user just gets told where they actually stand.
		c.notifyError(req.UserID, "not_in_pool", "you are not in the waiting pool")
	}
}

func (c *Consumer) handleMatchAccept(data []byte) {
	decision, ok := c.parseDecision(data, "accept")
	if !ok {
		return
	}
	if err := c.engine.Accept(decision.MatchID, decision.UserID); err != nil {
		c.notifyError(decision.UserID, "match_resolved", "that match has already resolved")
	}
}

func (c *Consumer) handleMatchReject(data []byte) {
	decision, ok := c.parseDecision(data, "reject")
	if !ok {
		return
	}
	if err := c.engine.Reject(decision.MatchID, decision.UserID); err != nil {
		c.notifyError(decision.UserID, "match_resolved", "that match has already resolved")
	}
}

func (c *Consumer) parseDecision(data []byte, kind string) (messaging.MatchDecision, bool) {
	var decision messaging.MatchDecision
	if err := json.Unmarshal(data, &decision); err != nil {
		log.Printf("[bridge] Bad match %s payload: %v", kind, err)
		return decision, false
	}
	if decision.MatchID == "" || decision.UserID == "" {
		log.Printf("[bridge] Match %s missing match_id or user_id", kind)
		return decision, false
	}
	return decision, true
}

func (c *Consumer) handlePresenceConnect(data []byte) {
	var ev messaging.PresenceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("[bridge] Bad presence connect payload: %v", err)
		return
	}
	c.engine.OnConnect(ev.UserID, ev.ConnID)
}

func (c *Consumer) handlePresenceDisconnect(data []byte) {
	var ev messaging.PresenceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("[bridge] Bad presence disconnect payload: %v", err)
		return
	}
	c.engine.OnDisconnect(ev.UserID, ev.ConnID)
}

func (c *Consumer) notifyError(userID, code, message string) {
	c.transport.Notify(userID, messaging.EventError, messaging.ErrorNotice{
		Code:    code,
		Message: message,
	})
}
