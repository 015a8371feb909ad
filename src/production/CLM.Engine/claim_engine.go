package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	logger "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Logger"
	clmmodels "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models"
	api_models "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models/api"
	interfaces "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Store/Interfaces"
)

// State is the authoritative claim state of the device
type State string

const (
	StateUnclaimed          State = "unclaimed"
	StateClaimingWindowOpen State = "claiming_window_open"
	StateClaimed            State = "claimed"
	StateRevokingPending    State = "revoking_pending"
)

// Via identifies which acquisition protocol delivered a credential payload
type Via string

const (
	ViaSeamlessPoll Via = "seamless_poll"
	ViaManualCode   Via = "manual_code"
)

// CloudAPI is the outbound claim-protocol surface. The transport owns
// retries and TLS; the engine owns payload shape and the decision rules.
type CloudAPI interface {
	NotifyClaimingStarted(ctx context.Context, req api_models.NotifyClaimingRequest) error
	PollCheckIn(ctx context.Context, req api_models.CheckInRequest) (*api_models.ClaimCompletionPayload, error)
	SubmitClaimCode(ctx context.Context, req api_models.ManualClaimRequest) (*api_models.ClaimCompletionPayload, error)
	NotifyUnclaimed(ctx context.Context, notice api_models.UnclaimNotice) error
}

// TokenVerifier validates a revocation token before any clear is permitted
type TokenVerifier interface {
	Verify(ctx context.Context, token string) error
}

// Advertiser flips the service-discovery attribute that marks the device
// discoverable while the claiming window is open
type Advertiser interface {
	SetClaiming(claiming bool)
}

// AuditRecorder appends lifecycle transitions, never failing the caller
type AuditRecorder interface {
	Record(transition clmmodels.Transition, source clmmodels.Source, actor string)
}

// Config holds the engine's timing parameters
type Config struct {
	WindowDuration time.Duration
	PollInterval   time.Duration
	PollTimeout    time.Duration
}

// Deps are the engine's collaborators. External callers only ever reach
// the credential store through the engine's operations.
type Deps struct {
	Identity   clmmodels.DeviceIdentity
	Store      interfaces.CredentialStore
	Cloud      CloudAPI
	Verifier   TokenVerifier
	Audit      AuditRecorder
	Advertiser Advertiser
	Cues       clmmodels.CueEmitter
	Logger     *logger.Logger
}

// session is the transient claiming-window state. Never persisted: a
// reboot during the window forfeits the window.
type session struct {
	id             string
	startedAt      time.Time
	serverNotified bool
	lastPollAt     time.Time
	cancel         chan struct{}
}

// Engine is the claim state machine. Every transition, from the button
// path, the HTTP path, and the message-bus path alike, funnels through
// its mutex so two destructive requests can never interleave.
type Engine struct {
	cfg  Config
	deps Deps
	log  *logger.Logger

	mu      sync.Mutex
	state   State
	session *session

	// onChange is invoked after a commit or clear with the new record.
	// The message-bus listener uses it to pick up or drop its connection.
	onChange func(cred clmmodels.Credential, claimed bool)

	wg sync.WaitGroup
}

// New creates the engine, deriving the initial state from the persisted
// credential record.
func New(cfg Config, deps Deps) (*Engine, error) {
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}

	e := &Engine{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger.WithComponent("engine"),
	}

	_, claimed, err := deps.Store.Load()
	if err != nil {
		return nil, err
	}
	if claimed {
		e.state = StateClaimed
	} else {
		e.state = StateUnclaimed
	}
	e.log.Logger.Info().Str("state", string(e.state)).Msg("Claim engine initialized")
	return e, nil
}

// OnCredentialChange installs the credential change hook. Call before the
// engine starts receiving events.
func (e *Engine) OnCredentialChange(fn func(cred clmmodels.Credential, claimed bool)) {
	e.onChange = fn
}

// State returns the current machine state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// RequestOpenClaimingWindow opens the claiming window. Rejected when the
// device is already claimed; an already-open window is replaced and its
// timeout restarts.
func (e *Engine) RequestOpenClaimingWindow() api_models.OpenWindowResult {
	e.mu.Lock()
	if e.state == StateClaimed || e.state == StateRevokingPending {
		e.mu.Unlock()
		e.log.Warn("Claiming window rejected: device already claimed")
		e.deps.Cues.Emit(clmmodels.CueRejectedAlreadyClaimed)
		return api_models.OpenWindowResult{Opened: false, Reason: api_models.ReasonAlreadyClaimed}
	}

	if e.session != nil {
		close(e.session.cancel)
	}
	sess := &session{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		cancel:    make(chan struct{}),
	}
	e.session = sess
	e.state = StateClaimingWindowOpen
	e.mu.Unlock()

	e.log.Logger.Info().Str("session_id", sess.id).Dur("window", e.cfg.WindowDuration).Msg("Claiming window opened")
	e.deps.Advertiser.SetClaiming(true)
	e.deps.Cues.Emit(clmmodels.CueWindowOpened)
	e.deps.Audit.Record(clmmodels.TransitionWindowOpened, clmmodels.SourceButtonLocal, sess.id)

	e.wg.Add(2)
	go e.notifyWindowOpened(sess)
	go e.runWindow(sess)

	return api_models.OpenWindowResult{Opened: true, SessionID: sess.id}
}

// SubmitClaimCredential applies a server-issued credential payload. Both
// acquisition protocols terminate here; validation happens exactly once.
// The returned error is non-nil only for storage faults.
func (e *Engine) SubmitClaimCredential(payload api_models.ClaimCompletionPayload, via Via) (api_models.SubmitResult, error) {
	e.mu.Lock()
	if e.state == StateClaimed || e.state == StateRevokingPending {
		e.mu.Unlock()
		return api_models.SubmitResult{Accepted: false, Reason: api_models.ReasonAlreadyClaimed}, nil
	}
	if via == ViaSeamlessPoll && e.state != StateClaimingWindowOpen {
		e.mu.Unlock()
		return api_models.SubmitResult{Accepted: false, Reason: api_models.ReasonWindowClosed}, nil
	}

	cred := payload.Credential()
	if err := cred.Validate(); err != nil {
		e.mu.Unlock()
		e.log.WithError(err).Warn("Rejecting malformed claim payload")
		return api_models.SubmitResult{Accepted: false, Reason: api_models.ReasonMalformedPayload}, nil
	}

	if err := e.deps.Store.Commit(cred); err != nil {
		e.mu.Unlock()
		e.log.ErrorWithError(err, "Credential commit failed, staying unclaimed")
		return api_models.SubmitResult{Accepted: false, Reason: api_models.ReasonStorageFailure}, err
	}

	sess := e.session
	e.session = nil
	e.state = StateClaimed
	e.mu.Unlock()

	if sess != nil {
		close(sess.cancel)
	}
	e.deps.Advertiser.SetClaiming(false)
	e.deps.Cues.Emit(clmmodels.CueWindowClosedSuccess)

	source := clmmodels.SourceButtonLocal
	actor := ""
	if sess != nil {
		actor = sess.id
	}
	if via == ViaManualCode {
		source = clmmodels.SourceAdminDashboard
	}
	e.deps.Audit.Record(clmmodels.TransitionClaimCompleted, source, actor)

	e.log.Logger.Info().Str("tenant_id", cred.TenantID).Str("device_id", cred.DeviceID).Msg("Device claimed")
	if e.onChange != nil {
		e.onChange(cred, true)
	}
	return api_models.SubmitResult{Accepted: true}, nil
}

// SubmitManualClaimCode runs the one-shot manual protocol: exchange a
// human-entered code for a credential payload and apply it through the
// shared acquisition path.
func (e *Engine) SubmitManualClaimCode(ctx context.Context, code string) (api_models.SubmitResult, error) {
	e.mu.Lock()
	if e.state == StateClaimed || e.state == StateRevokingPending {
		e.mu.Unlock()
		return api_models.SubmitResult{Accepted: false, Reason: api_models.ReasonAlreadyClaimed}, nil
	}
	e.mu.Unlock()

	payload, err := e.deps.Cloud.SubmitClaimCode(ctx, api_models.ManualClaimRequest{
		DeviceID:  e.deps.Identity.ClientID(),
		ClaimCode: code,
	})
	if err != nil {
		e.log.WithError(err).Warn("Manual claim code rejected")
		return api_models.SubmitResult{Accepted: false, Reason: api_models.ReasonCodeRejected}, nil
	}

	return e.SubmitClaimCredential(*payload, ViaManualCode)
}

// RequestLocalUnclaim clears the credential on behalf of the local
// management interface. The returned error is non-nil only for storage
// faults; in that case the prior state remains the source of truth.
func (e *Engine) RequestLocalUnclaim(source clmmodels.Source, actor string) (api_models.UnclaimResult, error) {
	e.mu.Lock()
	if e.state != StateClaimed {
		e.mu.Unlock()
		return api_models.UnclaimResult{Cleared: false, Reason: api_models.ReasonNotClaimed}, nil
	}

	cred, claimed, err := e.deps.Store.Load()
	if err != nil {
		e.mu.Unlock()
		return api_models.UnclaimResult{Cleared: false, Reason: api_models.ReasonStorageFailure}, err
	}
	if !claimed {
		// Store is authoritative; realign the machine.
		e.state = StateUnclaimed
		e.mu.Unlock()
		return api_models.UnclaimResult{Cleared: false, Reason: api_models.ReasonNotClaimed}, nil
	}

	if err := e.deps.Store.Clear(); err != nil {
		e.mu.Unlock()
		e.log.ErrorWithError(err, "Credential clear failed, staying claimed")
		return api_models.UnclaimResult{Cleared: false, Reason: api_models.ReasonStorageFailure}, err
	}
	e.state = StateUnclaimed
	e.mu.Unlock()

	e.deps.Cues.Emit(clmmodels.CueUnclaimDone)
	e.deps.Audit.Record(clmmodels.TransitionUnclaimed, source, actor)
	e.log.Logger.Info().Str("source", string(source)).Str("actor", actor).Msg("Device unclaimed locally")

	if e.onChange != nil {
		e.onChange(clmmodels.Credential{}, false)
	}

	e.wg.Add(1)
	go e.notifyUnclaimed(cred, source, actor)

	return api_models.UnclaimResult{Cleared: true}, nil
}

// HandleRevokeMessage resolves a server-initiated revoke instruction. It
// never returns an error to the message-bus caller: every outcome other
// than an explicit valid token leaves the device claimed. The engine
// mutex is held across the (bounded) verification call so a concurrent
// local unclaim observes the state this revoke leaves behind. The audit
// record and the change hook run after the mutex is released, like every
// other transition: the forwarder may touch the network.
func (e *Engine) HandleRevokeMessage(token, reason string) {
	e.mu.Lock()

	if e.state != StateClaimed {
		state := e.state
		e.mu.Unlock()
		e.log.Logger.Warn().Str("state", string(state)).Msg("Revoke message ignored: device not claimed")
		return
	}
	e.state = StateRevokingPending

	if err := e.deps.Verifier.Verify(context.Background(), token); err != nil {
		e.state = StateClaimed
		e.mu.Unlock()
		e.log.WithError(err).Warn("Revocation refused, credential retained")
		e.deps.Audit.Record(clmmodels.TransitionRevokeRejected, clmmodels.SourceCloudRevoke, err.Error())
		return
	}

	if err := e.deps.Store.Clear(); err != nil {
		e.state = StateClaimed
		e.mu.Unlock()
		e.log.ErrorWithError(err, "Credential clear failed after verified revoke, staying claimed")
		e.deps.Audit.Record(clmmodels.TransitionRevokeRejected, clmmodels.SourceCloudRevoke, api_models.ReasonStorageFailure)
		return
	}

	e.state = StateUnclaimed
	e.mu.Unlock()

	e.deps.Audit.Record(clmmodels.TransitionRevoked, clmmodels.SourceCloudRevoke, reason)
	e.deps.Cues.Emit(clmmodels.CueUnclaimDone)
	e.log.Logger.Info().Str("reason", reason).Msg("Credential revoked by cloud")

	if e.onChange != nil {
		e.onChange(clmmodels.Credential{}, false)
	}
}

// QueryClaimStatus returns a read-only snapshot. The store is read fresh
// on every call; nothing is cached across observations.
func (e *Engine) QueryClaimStatus() (api_models.ClaimStatus, error) {
	cred, claimed, err := e.deps.Store.Load()
	if err != nil {
		return api_models.ClaimStatus{}, err
	}
	if !claimed {
		return api_models.ClaimStatus{Claimed: false}, nil
	}
	return api_models.ClaimStatus{
		Claimed:        true,
		DeviceID:       cred.DeviceID,
		TenantID:       cred.TenantID,
		BrokerClientID: cred.BrokerClientID,
	}, nil
}

// Stop cancels any open claiming window and waits for background work.
// Window state is deliberately forfeited rather than resumed on restart.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.session != nil {
		close(e.session.cancel)
		e.session = nil
	}
	if e.state == StateClaimingWindowOpen {
		e.state = StateUnclaimed
	}
	e.mu.Unlock()
	e.wg.Wait()
}
