package clmmodels

// Cue is an abstract feedback signal consumed by the physical feedback
// collaborator (LED/buzzer driver). Timing and hardware detail live there.
type Cue string

const (
	CueHoldProgress           Cue = "hold_progress"
	CueWindowOpened           Cue = "window_opened"
	CueWindowClosedSuccess    Cue = "window_closed_success"
	CueWindowClosedTimeout    Cue = "window_closed_timeout"
	CueRejectedAlreadyClaimed Cue = "rejected_already_claimed"
	CueUnclaimDone            Cue = "unclaim_done"
)

// CueEmitter is implemented by the physical feedback collaborator
type CueEmitter interface {
	Emit(cue Cue)
}
