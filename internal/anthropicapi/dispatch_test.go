package anthropicapi

import (
	"context"
	"strings"
	"testing"

	"anthroproxy/internal/cooldown"
)

func TestBetaHeader_ThinkingOff(t *testing.T) {
	h := BetaHeader(false)
	if strings.Contains(h, betaInterleavedThinking) {
		t.Errorf("beta header should not include interleaved-thinking when off: %q", h)
	}
	for _, want := range []string{betaOAuth, betaFineGrainedToolStream, betaPromptCaching} {
		if !strings.Contains(h, want) {
			t.Errorf("beta header missing %q: %q", want, h)
		}
	}
}

func TestBetaHeader_ThinkingOn(t *testing.T) {
	h := BetaHeader(true)
	if !strings.Contains(h, betaInterleavedThinking) {
		t.Errorf("beta header should include interleaved-thinking when on: %q", h)
	}
}

func TestDispatch_ShortCircuitsDuringCooldown(t *testing.T) {
	cooldown.Set("test", 30)
	defer cooldown.Clear()

	_, err := Dispatch(context.Background(), "tok", []byte(`{}`), false, false)
	if err == nil {
		t.Fatal("expected an error while upstream is in cooldown")
	}
}
