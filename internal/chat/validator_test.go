package chat

import (
	"strings"
	"testing"
)

func TestValidateMessageOK(t *testing.T) {
	if err := ValidateMessage("hey, nice to match with you!"); err != nil {
		t.Errorf("expected valid message, got %v", err)
	}
}

func TestValidateMessageEmpty(t *testing.T) {
	if err := ValidateMessage(""); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestValidateMessageTooManyBytes(t *testing.T) {
	// Multi-byte runes push the byte count past the frame limit while the
	// character count stays legal.
	text := strings.Repeat("€", MaxTextChars)
	if len(text) <= MaxMessageBytes {
		t.Fatalf("test text too small: %d bytes", len(text))
	}
	if err := ValidateMessage(text); err == nil {
		t.Error("expected error for oversized message")
	}
}

func TestValidateMessageTooManyChars(t *testing.T) {
	text := strings.Repeat("a", MaxTextChars+1)
	if err := ValidateMessage(text); err == nil {
		t.Error("expected error for message over character limit")
	}
}

func TestValidateMessageAtLimits(t *testing.T) {
	text := strings.Repeat("a", MaxTextChars)
	if err := ValidateMessage(text); err != nil {
		t.Errorf("expected message at character limit to pass, got %v", err)
	}
}

func TestValidateMessageInvalidUTF8(t *testing.T) {
	if err := ValidateMessage("hello\xff\xfe"); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}
