package engine

import (
	"context"
	"time"

	clmmodels "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models"
	api_models "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models/api"
)

// notifyWindowOpened tells the cloud a window opened. Fire and forget: a
// failure only means the seamless poll does the talking.
func (e *Engine) notifyWindowOpened(sess *session) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PollTimeout)
	defer cancel()

	err := e.deps.Cloud.NotifyClaimingStarted(ctx, api_models.NotifyClaimingRequest{
		DeviceID:  e.deps.Identity.ClientID(),
		SessionID: sess.id,
		StartedAt: sess.startedAt,
	})
	if err != nil {
		e.log.WithError(err).Debug("Window-opened notify failed")
		return
	}

	e.mu.Lock()
	if e.session == sess {
		sess.serverNotified = true
	}
	e.mu.Unlock()
}

// runWindow drives one claiming session: poll the check-in endpoint at
// the configured interval until a credential arrives, the window times
// out, or the session is replaced.
func (e *Engine) runWindow(sess *session) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(e.cfg.WindowDuration)
	defer timeout.Stop()

	for {
		select {
		case <-sess.cancel:
			return
		case <-timeout.C:
			e.expireWindow(sess)
			return
		case <-ticker.C:
			if e.pollOnce(sess) {
				return
			}
		}
	}
}

// pollOnce performs one seamless-protocol poll. Returns true once the
// session is satisfied. A failed poll is logged and retried on the next
// tick; only the window timeout terminates an unsatisfied session.
func (e *Engine) pollOnce(sess *session) bool {
	e.mu.Lock()
	if e.session != sess {
		e.mu.Unlock()
		return true
	}
	sess.lastPollAt = time.Now()
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PollTimeout)
	defer cancel()

	payload, err := e.deps.Cloud.PollCheckIn(ctx, api_models.CheckInRequest{
		DeviceID:  e.deps.Identity.ClientID(),
		SessionID: sess.id,
	})
	if err != nil {
		e.log.WithError(err).Debug("Check-in poll failed, retrying on next tick")
		return false
	}
	if payload == nil {
		return false
	}

	result, err := e.SubmitClaimCredential(*payload, ViaSeamlessPoll)
	if err != nil {
		// Storage fault: keep polling, the server keeps answering until
		// the device confirms by connecting to the broker.
		return false
	}
	if !result.Accepted {
		e.log.Logger.Warn().Str("reason", result.Reason).Msg("Polled credential payload rejected")
		return result.Reason == api_models.ReasonAlreadyClaimed
	}
	return true
}

// expireWindow closes an unsatisfied session after the window duration
func (e *Engine) expireWindow(sess *session) {
	e.mu.Lock()
	if e.session != sess {
		e.mu.Unlock()
		return
	}
	e.session = nil
	e.state = StateUnclaimed
	e.mu.Unlock()

	e.log.Logger.Info().Str("session_id", sess.id).Msg("Claiming window expired")
	e.deps.Advertiser.SetClaiming(false)
	e.deps.Cues.Emit(clmmodels.CueWindowClosedTimeout)
	e.deps.Audit.Record(clmmodels.TransitionWindowTimeout, clmmodels.SourceButtonLocal, sess.id)
}

// notifyUnclaimed reports a local clear to the cloud, best effort
func (e *Engine) notifyUnclaimed(cred clmmodels.Credential, source clmmodels.Source, actor string) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := e.deps.Cloud.NotifyUnclaimed(ctx, api_models.UnclaimNotice{
		DeviceID: cred.DeviceID,
		TenantID: cred.TenantID,
		Source:   string(source),
		Actor:    actor,
	})
	if err != nil {
		e.log.WithError(err).Warn("Unclaim notify failed; cloud will reconcile on next contact")
	}
}
