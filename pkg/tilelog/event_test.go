package tilelog

import (
	"testing"
	"time"
)

func TestNewEvent(t *testing.T) {
	payload := []byte(`{"dx":1}`)

	event := NewEvent("player.move", payload)

	if event.Kind != "player.move" {
		t.Errorf("Expected kind player.move, got %s", event.Kind)
	}
	if string(event.Payload) != string(payload) {
		t.Errorf("Expected payload %s, got %s", payload, event.Payload)
	}
	if event.Seq != 0 {
		t.Errorf("Expected seq 0, got %d", event.Seq)
	}
	if event.ID == "" {
		t.Error("Expected a generated ID")
	}
	if event.Headers == nil || len(event.Headers) != 0 {
		t.Errorf("Expected empty initialized headers, got %v", event.Headers)
	}
	if time.Since(event.Timestamp) > time.Second {
		t.Error("Expected timestamp to be recent")
	}

	other := NewEvent("player.move", payload)
	if other.ID == event.ID {
		t.Error("Expected distinct IDs for distinct events")
	}
}

func TestEvent_Immutability(t *testing.T) {
	payload := []byte("original")
	headers := map[string]string{"player": "alice"}

	event := NewEventWithHeaders("chat", payload, headers)

	payload[0] = 'X'
	headers["player"] = "mallory"

	if string(event.Payload) != "original" {
		t.Errorf("Payload should be immutable, got %s", event.Payload)
	}
	if event.Headers["player"] != "alice" {
		t.Errorf("Headers should be immutable, got %s", event.Headers["player"])
	}
}

func TestEvent_WithSeq(t *testing.T) {
	original := NewEvent("chat", []byte("hi"))
	tile := Position{X: 2, Y: -1}

	stored := original.WithSeq(tile, 42)

	if stored.Seq != 42 || stored.Tile != tile {
		t.Errorf("Expected seq 42 on %s, got %d on %s", tile, stored.Seq, stored.Tile)
	}
	if stored.ID != original.ID {
		t.Error("ID should be kept")
	}
	if original.Seq != 0 || original.Tile != Origin {
		t.Error("Original should be unchanged")
	}
}

func TestEvent_Copy(t *testing.T) {
	original := NewEventWithHeaders("chat", []byte("payload"), map[string]string{"key": "value"})
	original = original.WithSeq(Origin, 7)

	dup := original.Copy()

	if dup.Seq != 7 || dup.ID != original.ID || dup.Kind != original.Kind {
		t.Error("Copy should have the same values")
	}

	dup.Payload[0] = 'X'
	dup.Headers["key"] = "modified"

	if string(original.Payload) != "payload" {
		t.Error("Original payload should be unchanged")
	}
	if original.Headers["key"] != "value" {
		t.Error("Original headers should be unchanged")
	}
}

func TestEvent_NilPayload(t *testing.T) {
	event := NewEvent("tick", nil)
	if event.Payload != nil {
		t.Errorf("Expected nil payload, got %v", event.Payload)
	}
	if event.Copy().Payload != nil {
		t.Error("Expected copy of nil payload to stay nil")
	}
}

func TestEvent_Size(t *testing.T) {
	event := NewEventWithHeaders("chat", []byte("hello"), map[string]string{"lang": "en"})

	if got := event.Size(); got != len("chat")+len("hello")+len("lang")+len("en") {
		t.Errorf("Expected size 15, got %d", got)
	}
}
