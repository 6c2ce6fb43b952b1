package scoring

import "github.com/okian/momentum/internal/domain/model"

// Classification is a zone decision plus whether hysteresis held the
// previous state in place.
type Classification struct {
	State             model.MomentumState
	HysteresisApplied bool
}

// Classify maps a final score and the user's previous state to a state.
func (e *Engine) Classify(final float64, previous model.NullState) model.MomentumState {
	return e.ClassifyDetailed(final, previous).State
}

// ClassifyDetailed is Classify with the hysteresis decision exposed.
//
// Hysteresis only keeps a user in Rising or NeedsCare when the base
// thresholds would move them to Steady:
//
//	previous Rising,    score in [rising-buffer, rising)        -> Rising
//	previous NeedsCare, score in (needsCare, needsCare+buffer]  -> NeedsCare
//
// A jump straight between Rising and NeedsCare is never damped.
func (e *Engine) ClassifyDetailed(final float64, previous model.NullState) Classification {
	base := e.baseState(final)
	if !previous.Valid {
		return e.firstClassification(base)
	}
	if base != model.StateSteady || e.cfg.HysteresisBuffer <= 0 {
		return Classification{State: base}
	}

	switch previous.State {
	case model.StateRising:
		if final >= e.cfg.RisingThreshold-e.cfg.HysteresisBuffer {
			return Classification{State: model.StateRising, HysteresisApplied: true}
		}
	case model.StateNeedsCare:
		if final > e.cfg.NeedsCareThreshold && final <= e.cfg.NeedsCareThreshold+e.cfg.HysteresisBuffer {
			return Classification{State: model.StateNeedsCare, HysteresisApplied: true}
		}
	}
	return Classification{State: base}
}

// firstClassification handles a user with no prior state: base thresholds only.
func (e *Engine) firstClassification(base model.MomentumState) Classification {
	return Classification{State: base}
}

func (e *Engine) baseState(final float64) model.MomentumState {
	switch {
	case final >= e.cfg.RisingThreshold:
		return model.StateRising
	case final < e.cfg.NeedsCareThreshold:
		return model.StateNeedsCare
	default:
		return model.StateSteady
	}
}
