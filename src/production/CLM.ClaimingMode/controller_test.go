package claimingmode

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	config "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Config"
	logger "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Logger"
	clmmodels "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models"
	api_models "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models/api"
)

type scriptedButton struct {
	pressed atomic.Bool
}

func (b *scriptedButton) Pressed() bool { return b.pressed.Load() }

type countingRequester struct {
	mu     sync.Mutex
	calls  int
	result api_models.OpenWindowResult
}

func (r *countingRequester) RequestOpenClaimingWindow() api_models.OpenWindowResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.result
}

func (r *countingRequester) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type nullCues struct{}

func (nullCues) Emit(clmmodels.Cue) {}

func startController(t *testing.T, button *scriptedButton, requester *countingRequester) {
	t.Helper()
	log := logger.NewLogger(&config.LoggingConfig{Level: "error", Format: "json"})
	c := NewController(button, requester, nullCues{}, 50*time.Millisecond, 5*time.Millisecond, log)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	t.Cleanup(func() {
		cancel()
		c.Wait()
	})
}

func waitForCalls(t *testing.T, requester *countingRequester, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if requester.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("requester called %d times, want %d", requester.count(), want)
}

func TestSustainedHoldOpensWindow(t *testing.T) {
	button := &scriptedButton{}
	requester := &countingRequester{result: api_models.OpenWindowResult{Opened: true}}
	startController(t, button, requester)

	button.pressed.Store(true)
	waitForCalls(t, requester, 1)

	// Keeping the button held must not re-trigger.
	time.Sleep(100 * time.Millisecond)
	if requester.count() != 1 {
		t.Errorf("continued hold triggered %d requests, want 1", requester.count())
	}
}

func TestShortTapDoesNotTrigger(t *testing.T) {
	button := &scriptedButton{}
	requester := &countingRequester{result: api_models.OpenWindowResult{Opened: true}}
	startController(t, button, requester)

	button.pressed.Store(true)
	time.Sleep(20 * time.Millisecond)
	button.pressed.Store(false)
	time.Sleep(100 * time.Millisecond)

	if requester.count() != 0 {
		t.Errorf("short tap triggered %d requests, want 0", requester.count())
	}
}

func TestReleaseThenHoldTriggersAgain(t *testing.T) {
	button := &scriptedButton{}
	requester := &countingRequester{result: api_models.OpenWindowResult{Opened: true}}
	startController(t, button, requester)

	button.pressed.Store(true)
	waitForCalls(t, requester, 1)
	button.pressed.Store(false)
	time.Sleep(20 * time.Millisecond)
	button.pressed.Store(true)
	waitForCalls(t, requester, 2)
}

func TestRejectedRequestStillCompletes(t *testing.T) {
	button := &scriptedButton{}
	requester := &countingRequester{result: api_models.OpenWindowResult{
		Opened: false,
		Reason: api_models.ReasonAlreadyClaimed,
	}}
	startController(t, button, requester)

	button.pressed.Store(true)
	waitForCalls(t, requester, 1)
}
