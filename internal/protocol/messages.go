// Package protocol defines the WebSocket message types and structures used
// for communication between the client and the Loopr gateway. All messages
// are serialized as JSON and follow a consistent envelope format with a type
// discriminator. Older client builds use different type names for a few
// messages; those aliases are normalized on parse.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeHello          = "hello"
	TypePairingRequest = "pairing_request"
	TypePairingCancel  = "pairing_cancel"
	TypeMatchAccept    = "match_accept"
	TypeMatchDecline   = "match_decline"
	TypeMessage        = "message"
	TypeTyping         = "typing"
	TypeLeaveChannel   = "leave_channel"
	TypePing           = "ping"
)

// Legacy client type names still accepted on the wire.
const (
	aliasFindMatch    = "find_match"
	aliasCancelMatch  = "cancel_match"
	aliasAccept       = "accept"
	aliasAcceptMatch  = "accept_match"
	aliasReject       = "reject"
	aliasDeclineMatch = "decline_match"
	aliasEndChat      = "end_chat"
)

// Server -> Client message types.
const (
	TypeWelcome             = "welcome"
	TypePairingStarted      = "pairing_started"
	TypeMatchProposed       = "match_proposed"
	TypeMatchAccepted       = "match_accepted"
	TypeMatchConfirmed      = "match_confirmed"
	TypeMatchRejected       = "match_rejected"
	TypeMatchTimeout        = "match_timeout"
	TypePartnerDisconnected = "partner_disconnected"
	TypePartnerLeft         = "partner_left"
	TypeRateLimited         = "rate_limited"
	TypeError               = "error"
	TypePong                = "pong"
)

// NormalizeClientType maps legacy client type names onto their canonical
// equivalents. Unknown names pass through unchanged.
func NormalizeClientType(msgType string) string {
	switch msgType {
	case aliasFindMatch:
		return TypePairingRequest
	case aliasCancelMatch:
		return TypePairingCancel
	case aliasAccept, aliasAcceptMatch:
		return TypeMatchAccept
	case aliasReject, aliasDeclineMatch:
		return TypeMatchDecline
	case aliasEndChat:
		return TypeLeaveChannel
	}
	return msgType
}

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// HelloMsg identifies the user behind a fresh connection.
type HelloMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// PairingRequestMsg asks to join the waiting pool. Interests and preference
// update the user's stored profile when present; require_preference narrows
// which partners qualify for this request.
type PairingRequestMsg struct {
	Type              string   `json:"type"`
	Interests         []string `json:"interests,omitempty"`
	Preference        string   `json:"preference,omitempty"`
	RequirePreference string   `json:"require_preference,omitempty"`
}

// PairingCancelMsg leaves the waiting pool.
type PairingCancelMsg struct {
	Type string `json:"type"`
}

// MatchAcceptMsg accepts a proposed match.
type MatchAcceptMsg struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
}

// MatchDeclineMsg rejects a proposed match.
type MatchDeclineMsg struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
}

// ChatMsg is a text message sent into the shared channel of a confirmed
// match.
type ChatMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

// TypingMsg indicates whether the client is currently typing.
type TypingMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	IsTyping  bool   `json:"is_typing"`
}

// LeaveChannelMsg leaves the shared channel of a confirmed match.
type LeaveChannelMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// WelcomeMsg acknowledges a hello; the connection is now bound to the user.
type WelcomeMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	ConnID string `json:"conn_id"`
}

// PairingStartedMsg confirms the client entered the waiting pool.
type PairingStartedMsg struct {
	Type string `json:"type"`
}

// MatchProposedMsg announces a proposed partner. The client must accept or
// decline before the deadline.
type MatchProposedMsg struct {
	Type              string   `json:"type"`
	MatchID           string   `json:"match_id"`
	PartnerID         string   `json:"partner_id"`
	PartnerInterests  []string `json:"partner_interests"`
	PartnerPreference string   `json:"partner_preference,omitempty"`
	SharedInterests   []string `json:"shared_interests"`
	Score             float64  `json:"score"`
	DeadlineSeconds   int      `json:"deadline_seconds"`
}

// MatchAcceptedMsg tells the client their partner accepted while the match
// still awaits the client's own answer.
type MatchAcceptedMsg struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
}

// MatchConfirmedMsg announces both sides accepted; the shared channel is
// open.
type MatchConfirmedMsg struct {
	Type            string   `json:"type"`
	MatchID         string   `json:"match_id"`
	ChannelID       string   `json:"channel_id"`
	PartnerID       string   `json:"partner_id"`
	SharedInterests []string `json:"shared_interests"`
}

// MatchRejectedMsg tells the client their partner declined the match.
type MatchRejectedMsg struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
}

// MatchTimeoutMsg tells the client the proposal expired unanswered.
type MatchTimeoutMsg struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
}

// PartnerDisconnectedMsg tells the client their proposed partner's
// connection dropped before the match resolved.
type PartnerDisconnectedMsg struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
}

// ServerChatMsg is a text message relayed from the partner.
type ServerChatMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	From      string `json:"from"`
	Text      string `json:"text"`
	Ts        int64  `json:"ts"`
}

// ServerTypingMsg relays the partner's typing indicator.
type ServerTypingMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	IsTyping  bool   `json:"is_typing"`
}

// PartnerLeftMsg tells the client their partner left the shared channel.
type PartnerLeftMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

// RateLimitedMsg is sent when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg communicates an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// Legacy type names are normalized first, so the returned type string is
// always canonical. An error is returned for unknown or server-only message
// types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	msgType := NormalizeClientType(env.Type)

	var (
		msg interface{}
		err error
	)

	switch msgType {
	case TypeHello:
		var m HelloMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePairingRequest:
		var m PairingRequestMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePairingCancel:
		var m PairingCancelMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMatchAccept:
		var m MatchAcceptMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMatchDecline:
		var m MatchDeclineMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveChannel:
		var m LeaveChannelMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return msgType, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", msgType, err)
	}
	return msgType, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the Server*Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
