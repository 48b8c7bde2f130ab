package client

import (
	"testing"
	"time"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from    State
		trigger Trigger
		want    State
		wantErr bool
	}{
		{Disconnected, TriggerDial, Connecting, false},
		{Connecting, TriggerDialOK, Connected, false},
		{Connecting, TriggerDialFailed, Disconnected, false},
		{Connected, TriggerConnLost, Reconnecting, false},
		{Connected, TriggerClose, Disconnected, false},
		{Reconnecting, TriggerDialOK, Connected, false},
		{Reconnecting, TriggerGiveUp, Disconnected, false},
		{Reconnecting, TriggerClose, Disconnected, false},
		{Disconnected, TriggerDialOK, Disconnected, true},
		{Connected, TriggerDial, Connected, true},
		{Reconnecting, TriggerConnLost, Reconnecting, true},
	}
	for _, tt := range tests {
		got, err := Next(tt.from, tt.trigger)
		if (err != nil) != tt.wantErr {
			t.Errorf("Next(%s, %s) error = %v, wantErr %v", tt.from, tt.trigger, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Next(%s, %s) = %s, want %s", tt.from, tt.trigger, got, tt.want)
		}
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}
	tests := []struct {
		attempt int
		r       float64
		want    time.Duration
	}{
		{1, 0, 100 * time.Millisecond},
		{0, 0, 100 * time.Millisecond},
		{2, 0, 200 * time.Millisecond},
		{3, 1, 600 * time.Millisecond},
		{5, 0, time.Second},
		{10, 0.9, time.Second},
	}
	for _, tt := range tests {
		if got := b.delayWithRand(tt.attempt, tt.r); got != tt.want {
			t.Errorf("delayWithRand(%d, %v) = %v, want %v", tt.attempt, tt.r, got, tt.want)
		}
	}
	if got := b.Delay(1); got < 100*time.Millisecond || got > 150*time.Millisecond {
		t.Errorf("Delay(1) = %v, want within [100ms, 150ms]", got)
	}
}
