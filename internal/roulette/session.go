package roulette

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dukerupert/giftroulette/internal/catalog"
	"github.com/dukerupert/giftroulette/internal/model"
	"github.com/dukerupert/giftroulette/internal/wish"
)

// Session is one player's pass through the roulette. It is never persisted.
type Session struct {
	id     string
	engine *Engine

	mu       sync.Mutex
	state    state
	err      error
	wishLink string
	lastUsed time.Time
}

// SessionView is the JSON shape of a session for the UI.
type SessionView struct {
	ID               string                 `json:"id"`
	Phase            Phase                  `json:"phase"`
	CurrentGift      *model.GiftDefinition  `json:"current_gift"`
	Available        []model.GiftDefinition `json:"available"`
	OnCooldown       bool                   `json:"on_cooldown"`
	SpinCooldownDays int                    `json:"spin_cooldown_days"`
	Loading          bool                   `json:"loading"`
	Error            string                 `json:"error,omitempty"`
	Offline          bool                   `json:"offline"`
	WishLink         string                 `json:"wish_link,omitempty"`
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) touch() {
	s.lastUsed = s.engine.clock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.phase()
}

// CurrentGift returns the drawn gift. It is kept through the claimed phase
// for display and cleared by Reset.
func (s *Session) CurrentGift() (model.GiftDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return giftOf(s.state)
}

// Err returns the last failed operation's error, cleared by the next success.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) transitionErr(op string) error {
	return fmt.Errorf("%s from %s: %w", op, s.state.phase(), ErrInvalidTransition)
}

// Spin draws a gift. Only valid from idle.
func (s *Session) Spin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if _, ok := s.state.(idle); !ok {
		return s.transitionErr("spin")
	}

	gift, err := s.engine.draw(ctx)
	if err != nil {
		s.err = err
		return err
	}
	s.state = spinning{gift: gift}
	s.err = nil
	return nil
}

// CompleteAnimation moves from spinning to reveal.
func (s *Session) CompleteAnimation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	cur, ok := s.state.(spinning)
	if !ok {
		return s.transitionErr("complete animation")
	}
	s.state = reveal{gift: cur.gift}
	return nil
}

// ClaimCurrent claims the revealed gift. The wish first asks for its text
// and is claimed by CompleteWish. On failure the session stays in reveal.
func (s *Session) ClaimCurrent(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	cur, ok := s.state.(reveal)
	if !ok {
		return s.transitionErr("claim")
	}

	if catalog.IsWish(cur.gift.ID) {
		s.state = wishing{gift: cur.gift}
		return nil
	}

	if err := s.engine.claim(ctx, cur.gift.ID); err != nil {
		s.err = err
		return err
	}
	s.state = claimed{gift: cur.gift}
	s.err = nil
	return nil
}

// CompleteWish claims the wish and returns the message link carrying text.
func (s *Session) CompleteWish(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	cur, ok := s.state.(wishing)
	if !ok {
		return "", s.transitionErr("complete wish")
	}

	text, err := wish.Normalize(text)
	if err != nil {
		return "", err
	}

	if err := s.engine.claim(ctx, cur.gift.ID); err != nil {
		s.err = err
		return "", err
	}

	s.state = claimed{gift: cur.gift}
	s.err = nil
	s.wishLink = wish.Link(s.engine.wishPhone, text)
	return s.wishLink, nil
}

// Reset returns to idle from any phase.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	s.state = idle{}
	s.err = nil
	s.wishLink = ""
}

func (s *Session) View() SessionView {
	s.mu.Lock()
	v := SessionView{
		ID:       s.id,
		Phase:    s.state.phase(),
		WishLink: s.wishLink,
	}
	if gift, ok := giftOf(s.state); ok {
		v.CurrentGift = &gift
	}
	if s.err != nil {
		v.Error = s.err.Error()
	}
	s.mu.Unlock()

	e := s.engine
	v.Available = e.Available()
	v.OnCooldown = e.OnCooldown()
	v.SpinCooldownDays = e.SpinCooldownDays()
	v.Loading = e.Loading()
	v.Offline = e.Offline()
	if v.Available == nil {
		v.Available = []model.GiftDefinition{}
	}
	return v
}
