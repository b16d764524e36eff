package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mpokorn/EventGo-backend/internal/repository"
	"github.com/mpokorn/EventGo-backend/internal/service"
)

// newTestRouter wires the handler the way main does: user-facing routes
// behind Identity, ops routes outside it.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := repository.NewMemoryStore()
	engine := service.NewOfferEngine(store, logger, service.NoopNotifier{})
	h := NewWaitlistHandler(
		service.NewWaitlistService(store, logger, engine),
		service.NewRefundService(store, logger, engine),
		service.NewAcceptanceService(store, logger, engine, service.NoopNotifier{}),
		service.NewSweeper(store, logger, engine, service.NoopNotifier{}),
		service.NewLedger(store, logger),
		logger,
	)

	r := chi.NewRouter()
	r.Get("/health", HealthCheck)
	r.Group(func(r chi.Router) {
		r.Use(Identity)
		h.Routes(r)
	})
	h.InternalRoutes(r)
	return r
}

// The scheduler and operators call the ops endpoints without any user
// identity; they must not sit behind the identity check.
func TestInternalRoutesNeedNoIdentity(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/internal/sweep", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		CleanedCount int `json:"cleaned_count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, 0, body.CleanedCount)
}

func TestUserRoutesRequireIdentity(t *testing.T) {
	router := newTestRouter(t)
	const event = "/events/11111111-1111-4111-8111-111111111111/waitlist"

	req := httptest.NewRequest(http.MethodPost, event, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// With an identity the request reaches the core; the unknown event
	// misses, proving the route itself is live.
	req = httptest.NewRequest(http.MethodPost, event, nil)
	req.Header.Set("X-User-ID", "alice")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthIsPublic(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
