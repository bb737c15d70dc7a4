package roulette

import "github.com/dukerupert/giftroulette/internal/model"

// Phase names the step a session is in.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseSpinning Phase = "spinning"
	PhaseReveal   Phase = "reveal"
	PhaseWish     Phase = "wish"
	PhaseClaimed  Phase = "claimed"
)

// state is one variant of the session state machine. Every variant except
// idle carries the drawn gift.
type state interface {
	phase() Phase
}

type idle struct{}

type spinning struct{ gift model.GiftDefinition }

type reveal struct{ gift model.GiftDefinition }

type wishing struct{ gift model.GiftDefinition }

type claimed struct{ gift model.GiftDefinition }

func (idle) phase() Phase     { return PhaseIdle }
func (spinning) phase() Phase { return PhaseSpinning }
func (reveal) phase() Phase   { return PhaseReveal }
func (wishing) phase() Phase  { return PhaseWish }
func (claimed) phase() Phase  { return PhaseClaimed }

func giftOf(s state) (model.GiftDefinition, bool) {
	switch v := s.(type) {
	case spinning:
		return v.gift, true
	case reveal:
		return v.gift, true
	case wishing:
		return v.gift, true
	case claimed:
		return v.gift, true
	default:
		return model.GiftDefinition{}, false
	}
}
