package messaging

import "encoding/json"

// PairingRequest is published on pairing.request when a user asks to be
// paired.
type PairingRequest struct {
	UserID            string `json:"user_id"`
	ConnID            string `json:"conn_id"`
	RequirePreference string `json:"require_preference,omitempty"`
}

// PairingCancel is published on pairing.cancel.
type PairingCancel struct {
	UserID string `json:"user_id"`
}

// MatchDecision is published on match.accept and match.reject.
type MatchDecision struct {
	MatchID string `json:"match_id"`
	UserID  string `json:"user_id"`
}

// PresenceEvent is published on presence.connect and presence.disconnect.
// ConnID identifies the gateway connection so a late disconnect for a
// replaced connection can be told apart from the current one.
type PresenceEvent struct {
	UserID string `json:"user_id"`
	ConnID string `json:"conn_id"`
}

// UserEvent is the envelope carried on user.events.<user_id>. The gateway
// forwards most events to the client as-is; a few (channel joins) it acts
// on itself.
type UserEvent struct {
	Event   string          `json:"event"`
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventChannelJoin instructs the gateway to subscribe the user to a shared
// channel. It is consumed by the gateway and never forwarded to the client.
const EventChannelJoin = "channel:join"

// EventPairingStarted confirms the user entered the waiting pool.
const EventPairingStarted = "pairing:started"

// EventError reports a failed request back to the user.
const EventError = "error"

// ChannelJoin is the payload of EventChannelJoin.
type ChannelJoin struct {
	ChannelID string `json:"channel_id"`
}

// ErrorNotice is the payload of EventError.
type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ChannelMessage is the payload relayed on channel.<channel_id> between the
// two members of a confirmed match.
type ChannelMessage struct {
	Type      string `json:"type"` // "message", "typing", "partner_left"
	ChannelID string `json:"channel_id"`
	SenderID  string `json:"sender_id"`
	Text      string `json:"text,omitempty"`
	IsTyping  bool   `json:"is_typing,omitempty"`
	Ts        int64  `json:"ts,omitempty"` // unix timestamp for messages
}

// Channel message types.
const (
	ChannelTypeMessage     = "message"
	ChannelTypeTyping      = "typing"
	ChannelTypePartnerLeft = "partner_left"
)
