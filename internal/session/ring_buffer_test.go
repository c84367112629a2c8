package session

import (
	"fmt"
	"testing"

	"coderelay/internal/protocol"
)

func makeMessage(id int) protocol.ServerMessage {
	return protocol.NewOutput(fmt.Sprintf("line-%d", id))
}

func TestRingBuffer_EmptyRead(t *testing.T) {
	rb := NewRingBuffer(10)
	msgs := rb.ReadAll()
	if len(msgs) != 0 {
		t.Errorf("expected empty buffer, got %d messages", len(msgs))
	}
}

func TestRingBuffer_PartialFill(t *testing.T) {
	rb := NewRingBuffer(10)
	for i := 0; i < 5; i++ {
		rb.Write(makeMessage(i))
	}

	msgs := rb.ReadAll()
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}

	for i, m := range msgs {
		expected := fmt.Sprintf("line-%d", i)
		if m.Data != expected {
			t.Errorf("message %d: expected %s, got %s", i, expected, m.Data)
		}
	}
}

func TestRingBuffer_Overflow(t *testing.T) {
	rb := NewRingBuffer(5)
	for i := 0; i < 8; i++ {
		rb.Write(makeMessage(i))
	}

	msgs := rb.ReadAll()
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}

	// Should have messages 3,4,5,6,7 (oldest dropped).
	for i, m := range msgs {
		expected := fmt.Sprintf("line-%d", i+3)
		if m.Data != expected {
			t.Errorf("message %d: expected %s, got %s", i, expected, m.Data)
		}
	}
}

func TestRingBuffer_ExactCapacity(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 3; i++ {
		rb.Write(makeMessage(i))
	}

	msgs := rb.ReadAll()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	for i, m := range msgs {
		expected := fmt.Sprintf("line-%d", i)
		if m.Data != expected {
			t.Errorf("message %d: expected %s, got %s", i, expected, m.Data)
		}
	}
}

func TestRingBuffer_ZeroCapacity(t *testing.T) {
	rb := NewRingBuffer(0)
	rb.Write(makeMessage(1))
	rb.Write(makeMessage(2))
	msgs := rb.ReadAll()
	if len(msgs) != 1 || msgs[0].Data != "line-2" {
		t.Errorf("expected only the newest message, got %+v", msgs)
	}
}
