package cooldown

import (
	"testing"
	"time"
)

func TestExponentialBackoff(t *testing.T) {
	Clear()

	Set("test", 0)
	_, until := Active()
	if until.IsZero() {
		t.Fatal("should be on cooldown")
	}
	expected := time.Now().Add(15 * time.Second)
	if until.Before(expected.Add(-2*time.Second)) || until.After(expected.Add(2*time.Second)) {
		t.Errorf("first cooldown should be ~15s, got %v", time.Until(until))
	}

	Set("test", 0)
	_, until = Active()
	expected = time.Now().Add(30 * time.Second)
	if until.Before(expected.Add(-2*time.Second)) || until.After(expected.Add(2*time.Second)) {
		t.Errorf("second cooldown should be ~30s, got %v", time.Until(until))
	}
}

func TestClear_Success(t *testing.T) {
	Set("test", 0)
	if active, _ := Active(); !active {
		t.Error("should be on cooldown")
	}

	Clear()
	if active, _ := Active(); active {
		t.Error("should not be on cooldown after clear")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"60", 60},
		{"", 0},
		{"invalid", 60}, // default
	}
	for _, tt := range tests {
		got := ParseRetryAfter(tt.input)
		if got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestActive_ZeroWhenClear(t *testing.T) {
	Clear()

	active, until := Active()
	if active || !until.IsZero() {
		t.Error("should report inactive and zero time when no cooldown")
	}
}

func TestRetryAfterOverride(t *testing.T) {
	Clear()

	Set("rate_limit", 120)
	_, until := Active()
	expected := time.Now().Add(120 * time.Second)
	if until.Before(expected.Add(-2*time.Second)) || until.After(expected.Add(2*time.Second)) {
		t.Errorf("retry-after should override to ~120s, got %v", time.Until(until))
	}
}
