package claimingmode

import (
	logger "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Logger"
	clmmodels "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models"
)

// LogEmitter logs feedback cues. Used when no hardware feedback driver
// (LED/buzzer) is wired in, and during development on a workstation.
type LogEmitter struct {
	logger *logger.Logger
}

// NewLogEmitter creates a cue emitter that only logs
func NewLogEmitter(log *logger.Logger) *LogEmitter {
	return &LogEmitter{logger: log.WithComponent("feedback")}
}

func (e *LogEmitter) Emit(cue clmmodels.Cue) {
	e.logger.Logger.Info().Str("cue", string(cue)).Msg("Feedback cue")
}
