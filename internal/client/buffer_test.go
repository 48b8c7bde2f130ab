package client

import (
	"testing"

	"coursehub/internal/ws"
)

func TestNotificationBuffer_KeepsMostRecent(t *testing.T) {
	b := NewNotificationBuffer(3)
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		b.Add(ws.Frame{Type: ws.FrameEvent, Event: "TestPublished", InvocationID: id})
	}
	got := b.Recent()
	if len(got) != 3 {
		t.Fatalf("Recent() len = %d, want 3", len(got))
	}
	for i, want := range []string{"5", "4", "3"} {
		if got[i].InvocationID != want {
			t.Errorf("Recent()[%d] = %s, want %s", i, got[i].InvocationID, want)
		}
	}

	b.Clear()
	if len(b.Recent()) != 0 {
		t.Error("Clear() left notifications behind")
	}
}

func TestNotificationBuffer_PartialFill(t *testing.T) {
	b := NewNotificationBuffer(0)
	if len(b.items) != DefaultNotificationBuffer {
		t.Errorf("default size = %d, want %d", len(b.items), DefaultNotificationBuffer)
	}
	b.Add(ws.Frame{Event: "TestGraded"})
	if got := b.Recent(); len(got) != 1 || got[0].Event != "TestGraded" {
		t.Errorf("Recent() = %+v", got)
	}
}
