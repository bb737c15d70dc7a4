package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/giftroulette/internal/catalog"
	"github.com/dukerupert/giftroulette/internal/database"
	"github.com/dukerupert/giftroulette/internal/roulette"
	"github.com/dukerupert/giftroulette/internal/store"
)

// 2024-01-03 is a Wednesday.
var wednesday = time.Date(2024, time.January, 3, 12, 0, 0, 0, time.UTC)

// zeroSource always lands on the first available gift.
type zeroSource struct{}

func (zeroSource) Float64() float64 { return 0 }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupEngine(t *testing.T, cat *catalog.Catalog) *roulette.Engine {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := func() time.Time { return wednesday }
	gs := store.NewGiftStateStore(db, database.SQLite, cat, store.WithClock(now))
	e := roulette.New(gs, cat,
		roulette.WithClock(now),
		roulette.WithSource(zeroSource{}),
		roulette.WithMarker(store.NewSpinMarker(filepath.Join(t.TempDir(), "last_spin"))),
		roulette.WithLogger(discardLogger()),
		roulette.WithWishPhone("+33 6 12 34 56 78"),
	)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func setupMux(e *roulette.Engine) *http.ServeMux {
	gifts := NewGiftHandler(e, discardLogger())
	sessions := NewSessionHandler(e, discardLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/gifts", gifts.List)
	mux.HandleFunc("POST /api/sessions", sessions.Create)
	mux.HandleFunc("GET /api/sessions/{id}", sessions.Get)
	mux.HandleFunc("DELETE /api/sessions/{id}", sessions.Delete)
	mux.HandleFunc("POST /api/sessions/{id}/spin", sessions.Spin)
	mux.HandleFunc("POST /api/sessions/{id}/complete-animation", sessions.CompleteAnimation)
	mux.HandleFunc("POST /api/sessions/{id}/claim", sessions.Claim)
	mux.HandleFunc("POST /api/sessions/{id}/wish", sessions.Wish)
	mux.HandleFunc("POST /api/sessions/{id}/reset", sessions.Reset)
	return mux
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) roulette.SessionView {
	t.Helper()
	var v roulette.SessionView
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return v
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var v errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return v
}

func createSession(t *testing.T, mux http.Handler) string {
	t.Helper()
	rec := do(t, mux, "POST", "/api/sessions", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d", rec.Code)
	}
	v := decodeView(t, rec)
	if v.Phase != roulette.PhaseIdle || v.ID == "" {
		t.Fatalf("new session = %+v", v)
	}
	return v.ID
}

func TestListGifts(t *testing.T) {
	e := setupEngine(t, catalog.Default())
	mux := setupMux(e)

	rec := do(t, mux, "GET", "/api/gifts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var resp giftsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Gifts) != catalog.Default().Len() {
		t.Fatalf("gifts = %d, want %d", len(resp.Gifts), catalog.Default().Len())
	}
	if resp.Loading || resp.Offline || resp.OnCooldown {
		t.Errorf("flags = %+v", resp)
	}
	for _, g := range resp.Gifts {
		if !g.Available {
			t.Errorf("%s not available on a fresh store", g.ID)
		}
		if g.Unbounded() != (g.Remaining == nil) {
			t.Errorf("%s remaining = %v, max = %v", g.ID, g.Remaining, g.MaxClaims)
		}
	}
}

func TestSessionClaimFlow(t *testing.T) {
	e := setupEngine(t, catalog.Default())
	mux := setupMux(e)
	id := createSession(t, mux)
	base := "/api/sessions/" + id

	rec := do(t, mux, "POST", base+"/spin", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("spin: status %d", rec.Code)
	}
	v := decodeView(t, rec)
	if v.Phase != roulette.PhaseSpinning || v.CurrentGift == nil || v.CurrentGift.ID != "dessert" {
		t.Fatalf("after spin = %+v", v)
	}
	if !v.OnCooldown || v.SpinCooldownDays != 5 {
		t.Errorf("cooldown = %v/%d, want true/5", v.OnCooldown, v.SpinCooldownDays)
	}

	// Claiming before the reveal is out of order.
	rec = do(t, mux, "POST", base+"/claim", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("early claim: status %d, want 409", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != "invalid_transition" || got.Session == nil {
		t.Errorf("early claim body = %+v", got)
	}

	if rec := do(t, mux, "POST", base+"/complete-animation", ""); rec.Code != http.StatusOK {
		t.Fatalf("complete animation: status %d", rec.Code)
	}
	rec = do(t, mux, "POST", base+"/claim", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: status %d", rec.Code)
	}
	if v := decodeView(t, rec); v.Phase != roulette.PhaseClaimed {
		t.Fatalf("phase = %s, want claimed", v.Phase)
	}

	snap := e.Snapshot()
	if got := snap.States["dessert"].ClaimedCount; got != 1 {
		t.Errorf("dessert claimed_count = %d, want 1", got)
	}

	rec = do(t, mux, "POST", base+"/reset", "")
	if v := decodeView(t, rec); v.Phase != roulette.PhaseIdle || v.CurrentGift != nil {
		t.Fatalf("after reset = %+v", v)
	}

	// Same week: a second spin is refused.
	rec = do(t, mux, "POST", base+"/spin", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second spin: status %d, want 409", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != "on_cooldown" {
		t.Errorf("second spin code = %q", got.Code)
	}
}

func TestSessionWishFlow(t *testing.T) {
	def, ok := catalog.Default().Lookup(catalog.WishID)
	if !ok {
		t.Fatal("wish missing from catalog")
	}
	e := setupEngine(t, catalog.New(def))
	mux := setupMux(e)
	id := createSession(t, mux)
	base := "/api/sessions/" + id

	do(t, mux, "POST", base+"/spin", "")
	do(t, mux, "POST", base+"/complete-animation", "")
	rec := do(t, mux, "POST", base+"/claim", "")
	if v := decodeView(t, rec); v.Phase != roulette.PhaseWish {
		t.Fatalf("phase = %s, want wish", v.Phase)
	}

	rec = do(t, mux, "POST", base+"/wish", `{"wish": "   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty wish: status %d, want 400", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != "wish_empty" {
		t.Errorf("empty wish code = %q", got.Code)
	}

	rec = do(t, mux, "POST", base+"/wish", `{"wish": "`+strings.Repeat("a", 301)+`"}`)
	if got := decodeError(t, rec); rec.Code != http.StatusBadRequest || got.Code != "wish_too_long" {
		t.Fatalf("long wish: status %d code %q", rec.Code, got.Code)
	}

	rec = do(t, mux, "POST", base+"/wish", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body: status %d, want 400", rec.Code)
	}

	rec = do(t, mux, "POST", base+"/wish", `{"wish": "Un week-end à la mer"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("wish: status %d", rec.Code)
	}
	v := decodeView(t, rec)
	if v.Phase != roulette.PhaseClaimed {
		t.Fatalf("phase = %s, want claimed", v.Phase)
	}
	if !strings.HasPrefix(v.WishLink, "https://wa.me/33612345678?text=") {
		t.Errorf("wish link = %q", v.WishLink)
	}
	if len(v.Available) != 0 {
		t.Errorf("wish still available right after its claim: %+v", v.Available)
	}
}

func TestUnknownSession(t *testing.T) {
	e := setupEngine(t, catalog.Default())
	mux := setupMux(e)

	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/sessions/nope"},
		{"DELETE", "/api/sessions/nope"},
		{"POST", "/api/sessions/nope/spin"},
		{"POST", "/api/sessions/nope/reset"},
	} {
		rec := do(t, mux, tc.method, tc.path, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: status %d, want 404", tc.method, tc.path, rec.Code)
		}
	}
}

func TestDeleteSession(t *testing.T) {
	e := setupEngine(t, catalog.Default())
	mux := setupMux(e)
	id := createSession(t, mux)

	if rec := do(t, mux, "DELETE", "/api/sessions/"+id, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	if rec := do(t, mux, "GET", "/api/sessions/"+id, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status %d", rec.Code)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{roulette.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{store.ErrExhausted, http.StatusConflict, "exhausted"},
		{store.ErrOnCooldown, http.StatusConflict, "on_cooldown"},
		{roulette.ErrNothingAvailable, http.StatusConflict, "nothing_available"},
		{store.ErrUnknownGift, http.StatusNotFound, "unknown_gift"},
		{store.ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
		{store.ErrInvariant, http.StatusInternalServerError, "invalid_state"},
		{io.EOF, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, code := classify(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("classify(%v) = %d %q, want %d %q", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestWebSocketMessages(t *testing.T) {
	e := setupEngine(t, catalog.Default())

	msgs := InitialMessages(e)()
	if len(msgs) != 2 {
		t.Fatalf("initial messages = %d, want 2", len(msgs))
	}
	if msgs[0].Type != "gift_states_updated" {
		t.Errorf("first message type = %s", msgs[0].Type)
	}
	if msgs[1].Entity != "spin_state" || msgs[1].Action != "updated" {
		t.Errorf("second message = %s/%s", msgs[1].Entity, msgs[1].Action)
	}
	if _, ok := msgs[0].Data.(giftsResponse); !ok {
		t.Errorf("gift_states data is %T", msgs[0].Data)
	}
}

func TestWriteErrorLogsServerFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	rec := httptest.NewRecorder()
	writeError(rec, logger, store.ErrExhausted, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if buf.Len() != 0 {
		t.Errorf("expected refusal was logged: %s", buf.String())
	}

	rec = httptest.NewRecorder()
	writeError(rec, logger, store.ErrUnavailable, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if out := buf.String(); !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "code=unavailable") {
		t.Errorf("log = %q, want an error line with code=unavailable", out)
	}
}
