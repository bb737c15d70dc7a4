package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/giftroulette/internal/model"
	"github.com/dukerupert/giftroulette/internal/roulette"
	"github.com/dukerupert/giftroulette/internal/websocket"
)

type GiftHandler struct {
	engine *roulette.Engine
	logger *slog.Logger
}

func NewGiftHandler(e *roulette.Engine, logger *slog.Logger) *GiftHandler {
	return &GiftHandler{engine: e, logger: logger}
}

type giftView struct {
	model.GiftDefinition
	ClaimedCount  int     `json:"claimed_count"`
	Remaining     *int    `json:"remaining"`
	LastClaimedAt *string `json:"last_claimed_at"`
	Available     bool    `json:"available"`
	Invalid       bool    `json:"invalid,omitempty"`
}

type giftsResponse struct {
	Gifts            []giftView `json:"gifts"`
	OnCooldown       bool       `json:"on_cooldown"`
	SpinCooldownDays int        `json:"spin_cooldown_days"`
	Loading          bool       `json:"loading"`
	Offline          bool       `json:"offline"`
}

func buildGifts(e *roulette.Engine, snap model.Snapshot) giftsResponse {
	avail := make(map[string]bool)
	for _, def := range e.Available() {
		avail[def.ID] = true
	}

	defs := e.Catalog().All()
	resp := giftsResponse{
		Gifts:            make([]giftView, 0, len(defs)),
		OnCooldown:       e.OnCooldown(),
		SpinCooldownDays: e.SpinCooldownDays(),
		Loading:          e.Loading(),
		Offline:          e.Offline(),
	}
	for _, def := range defs {
		st, _ := snap.State(def.ID)
		v := giftView{
			GiftDefinition: def,
			ClaimedCount:   st.ClaimedCount,
			Available:      avail[def.ID],
			Invalid:        snap.IsInvalid(def.ID),
		}
		if n, ok := def.Remaining(st.ClaimedCount); ok {
			v.Remaining = &n
		}
		if last := st.LastClaim(); last != nil {
			s := last.Format("2006-01-02T15:04:05.000Z07:00")
			v.LastClaimedAt = &s
		}
		resp.Gifts = append(resp.Gifts, v)
	}
	return resp
}

// List returns the catalog with current claim counts and availability.
func (h *GiftHandler) List(w http.ResponseWriter, r *http.Request) {
	resp := buildGifts(h.engine, h.engine.Snapshot())
	if resp.Offline {
		h.logger.Debug("serving gifts from offline store", "cause", h.engine.Err())
	}
	writeJSON(w, http.StatusOK, resp)
}

// GiftStatesMessage is pushed to WebSocket clients after every snapshot.
func GiftStatesMessage(e *roulette.Engine, snap model.Snapshot) websocket.Message {
	return websocket.NewMessage("gift_states", "updated", "", buildGifts(e, snap))
}

// SpinStateMessage is pushed to WebSocket clients after every spin record.
func SpinStateMessage(e *roulette.Engine, rec model.SpinRecord) websocket.Message {
	return websocket.NewMessage("spin_state", "updated", "", map[string]any{
		"last_spin_at":       rec.LastSpinAt,
		"on_cooldown":        e.OnCooldown(),
		"spin_cooldown_days": e.SpinCooldownDays(),
	})
}

// InitialMessages is what a newly connected WebSocket client receives.
func InitialMessages(e *roulette.Engine) func() []websocket.Message {
	return func() []websocket.Message {
		return []websocket.Message{
			GiftStatesMessage(e, e.Snapshot()),
			SpinStateMessage(e, model.SpinRecord{LastSpinAt: e.LastSpin()}),
		}
	}
}
