package engine

// Event names pushed to users through the Transport collaborator.
const (
	EventMatchProposed     = "match:proposed"
	EventMatchAccepted     = "match:accepted"
	EventMatchConfirmed    = "match:confirmed"
	EventMatchRejected     = "match:rejected"
	EventMatchTimeout      = "match:timeout"
	EventMatchDisconnected = "match:disconnected"
)

// Reasons attached to dissolve events and requeue decisions.
const (
	ReasonRejected     = "rejected"
	ReasonTimeout      = "timed_out"
	ReasonDisconnected = "disconnected"
)

// ProposalNotice is the payload of EventMatchProposed, sent to both users
// when a pending match is created.
type ProposalNotice struct {
	MatchID           string     `json:"match_id"`
	PartnerID         string     `json:"partner_id"`
	PartnerInterests  []string   `json:"partner_interests"`
	PartnerPreference Preference `json:"partner_preference,omitempty"`
	SharedInterests   []string   `json:"shared_interests"`
	Score             float64    `json:"score"`
	DeadlineSeconds   int        `json:"deadline_seconds"`
}

// AcceptanceNotice is the payload of EventMatchAccepted, sent to the partner
// of a user who accepted while the match still awaits the partner's answer.
type AcceptanceNotice struct {
	MatchID   string `json:"match_id"`
	PartnerID string `json:"partner_id"`
}

// ConfirmNotice is the payload of EventMatchConfirmed. ChannelID is the
// shared channel both users are joined to; it equals the match ID.
type ConfirmNotice struct {
	MatchID         string   `json:"match_id"`
	ChannelID       string   `json:"channel_id"`
	PartnerID       string   `json:"partner_id"`
	SharedInterests []string `json:"shared_interests"`
}

// DissolveNotice is the payload of EventMatchRejected, EventMatchTimeout and
// EventMatchDisconnected.
type DissolveNotice struct {
	MatchID string `json:"match_id"`
	Reason  string `json:"reason"`
}
