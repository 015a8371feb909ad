package claimingmode

import (
	"context"
	"sync"
	"time"

	logger "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Logger"
	clmmodels "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models"
	api_models "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models/api"
)

// ButtonInput samples the physical claim button. The GPIO driver is a
// collaborator; debouncing below the sample interval is its concern.
type ButtonInput interface {
	Pressed() bool
}

// WindowRequester is the slice of the claim engine this controller needs
type WindowRequester interface {
	RequestOpenClaimingWindow() api_models.OpenWindowResult
}

// Controller turns a sustained button hold into an open-window request.
// One request per press: the button must be released before another hold
// can trigger again.
type Controller struct {
	input         ButtonInput
	engine        WindowRequester
	cues          clmmodels.CueEmitter
	logger        *logger.Logger
	holdThreshold time.Duration
	sample        time.Duration

	wg sync.WaitGroup
}

// NewController creates a claiming-mode controller
func NewController(input ButtonInput, engine WindowRequester, cues clmmodels.CueEmitter, holdThreshold, sample time.Duration, log *logger.Logger) *Controller {
	return &Controller{
		input:         input,
		engine:        engine,
		cues:          cues,
		logger:        log.WithComponent("claiming_mode"),
		holdThreshold: holdThreshold,
		sample:        sample,
	}
}

// Start launches the button sampling loop
func (c *Controller) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// Wait blocks until the sampling loop has exited
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) run(ctx context.Context) {
	ticker := time.NewTicker(c.sample)
	defer ticker.Stop()

	var heldSince time.Time
	var lastProgress time.Time
	fired := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !c.input.Pressed() {
			heldSince = time.Time{}
			fired = false
			continue
		}

		now := time.Now()
		if heldSince.IsZero() {
			heldSince = now
			lastProgress = now
		}
		if fired {
			continue
		}

		if now.Sub(heldSince) >= c.holdThreshold {
			fired = true
			c.logger.Info("Button hold threshold reached, requesting claiming window")
			result := c.engine.RequestOpenClaimingWindow()
			if !result.Opened {
				// The engine already emitted the rejection cue.
				c.logger.Logger.Warn().Str("reason", result.Reason).Msg("Claiming window request rejected")
			}
			continue
		}

		// Periodic hold feedback so the user knows the press registers.
		if now.Sub(lastProgress) >= time.Second {
			lastProgress = now
			c.cues.Emit(clmmodels.CueHoldProgress)
		}
	}
}
