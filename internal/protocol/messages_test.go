package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid pairing_request message
// ---------------------------------------------------------------------------

func TestParseClientMessage_PairingRequest(t *testing.T) {
	input := []byte(`{"type":"pairing_request","interests":["music","gaming","anime"],"require_preference":"voice"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypePairingRequest {
		t.Fatalf("expected type %q, got %q", TypePairingRequest, msgType)
	}

	pr, ok := msg.(PairingRequestMsg)
	if !ok {
		t.Fatalf("expected PairingRequestMsg, got %T", msg)
	}
	if len(pr.Interests) != 3 {
		t.Fatalf("expected 3 interests, got %d", len(pr.Interests))
	}
	expected := []string{"music", "gaming", "anime"}
	for i, v := range expected {
		if pr.Interests[i] != v {
			t.Errorf("interest[%d]: expected %q, got %q", i, v, pr.Interests[i])
		}
	}
	if pr.RequirePreference != "voice" {
		t.Errorf("expected require_preference %q, got %q", "voice", pr.RequirePreference)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid message (chat) message
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMsg(t *testing.T) {
	input := []byte(`{"type":"message","channel_id":"abc-123","text":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.ChannelID != "abc-123" {
		t.Errorf("expected channel_id %q, got %q", "abc-123", cm.ChannelID)
	}
	if cm.Text != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", cm.Text)
	}
}

// ---------------------------------------------------------------------------
// Test: Legacy type names normalize to their canonical equivalents
// ---------------------------------------------------------------------------

func TestParseClientMessage_LegacyAliases(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"find_match", `{"type":"find_match","interests":["music"]}`, TypePairingRequest},
		{"cancel_match", `{"type":"cancel_match"}`, TypePairingCancel},
		{"accept", `{"type":"accept","match_id":"m1"}`, TypeMatchAccept},
		{"accept_match", `{"type":"accept_match","match_id":"m1"}`, TypeMatchAccept},
		{"reject", `{"type":"reject","match_id":"m1"}`, TypeMatchDecline},
		{"decline_match", `{"type":"decline_match","match_id":"m1"}`, TypeMatchDecline},
		{"end_chat", `{"type":"end_chat","channel_id":"c1"}`, TypeLeaveChannel},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected canonical type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}

func TestParseClientMessage_AliasKeepsPayload(t *testing.T) {
	input := []byte(`{"type":"accept","match_id":"match-9"}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	am, ok := msg.(MatchAcceptMsg)
	if !ok {
		t.Fatalf("expected MatchAcceptMsg, got %T", msg)
	}
	if am.MatchID != "match-9" {
		t.Errorf("expected match_id %q, got %q", "match-9", am.MatchID)
	}
}

func TestNormalizeClientType_PassesUnknownThrough(t *testing.T) {
	if got := NormalizeClientType("mystery"); got != "mystery" {
		t.Errorf("expected unknown type untouched, got %q", got)
	}
	if got := NormalizeClientType(TypePairingRequest); got != TypePairingRequest {
		t.Errorf("expected canonical type untouched, got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a match_proposed server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_MatchProposed(t *testing.T) {
	payload := MatchProposedMsg{
		MatchID:         "uuid-456",
		PartnerID:       "user-b",
		SharedInterests: []string{"music", "gaming"},
		Score:           75,
		DeadlineSeconds: 30,
	}

	data, err := NewServerMessage(TypeMatchProposed, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeMatchProposed {
		t.Errorf("expected type %q, got %v", TypeMatchProposed, result["type"])
	}
	if result["match_id"] != "uuid-456" {
		t.Errorf("expected match_id %q, got %v", "uuid-456", result["match_id"])
	}

	interests, ok := result["shared_interests"].([]interface{})
	if !ok {
		t.Fatalf("expected shared_interests to be an array, got %T", result["shared_interests"])
	}
	if len(interests) != 2 {
		t.Fatalf("expected 2 shared interests, got %d", len(interests))
	}
	if interests[0] != "music" || interests[1] != "gaming" {
		t.Errorf("unexpected shared interests: %v", interests)
	}

	deadline, ok := result["deadline_seconds"].(float64)
	if !ok {
		t.Fatalf("expected deadline_seconds to be a number, got %T", result["deadline_seconds"])
	}
	if int(deadline) != 30 {
		t.Errorf("expected deadline_seconds 30, got %v", deadline)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Round-trip fidelity (marshal -> unmarshal)
// ---------------------------------------------------------------------------

func TestRoundTrip_MatchConfirmed(t *testing.T) {
	original := MatchConfirmedMsg{
		Type:            TypeMatchConfirmed,
		MatchID:         "test-uuid",
		ChannelID:       "test-uuid",
		PartnerID:       "user-b",
		SharedInterests: []string{"anime"},
	}

	// Create server message bytes.
	data, err := NewServerMessage(TypeMatchConfirmed, original)
	if err != nil {
		t.Fatalf("failed to create server message: %v", err)
	}

	// Unmarshal back into the struct.
	var decoded MatchConfirmedMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.Type != TypeMatchConfirmed {
		t.Errorf("type mismatch: expected %q, got %q", TypeMatchConfirmed, decoded.Type)
	}
	if decoded.MatchID != original.MatchID {
		t.Errorf("match_id mismatch: expected %q, got %q", original.MatchID, decoded.MatchID)
	}
	if decoded.ChannelID != original.ChannelID {
		t.Errorf("channel_id mismatch: expected %q, got %q", original.ChannelID, decoded.ChannelID)
	}
	if len(decoded.SharedInterests) != 1 || decoded.SharedInterests[0] != "anime" {
		t.Errorf("shared_interests mismatch: got %v", decoded.SharedInterests)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"hello", `{"type":"hello","user_id":"u1"}`, TypeHello},
		{"pairing_request", `{"type":"pairing_request"}`, TypePairingRequest},
		{"pairing_cancel", `{"type":"pairing_cancel"}`, TypePairingCancel},
		{"match_accept", `{"type":"match_accept","match_id":"m1"}`, TypeMatchAccept},
		{"match_decline", `{"type":"match_decline","match_id":"m1"}`, TypeMatchDecline},
		{"message", `{"type":"message","channel_id":"c1","text":"hi"}`, TypeMessage},
		{"typing", `{"type":"typing","channel_id":"c1","is_typing":true}`, TypeTyping},
		{"leave_channel", `{"type":"leave_channel","channel_id":"c1"}`, TypeLeaveChannel},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}
