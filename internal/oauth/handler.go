package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	"golang.org/x/oauth2"

	"atlas-auth/internal/auth"
	"atlas-auth/internal/observability"
)

// SessionService is the slice of the session manager the bridge needs.
type SessionService interface {
	LoginWithIdentity(ctx context.Context, identity auth.Identity) (auth.Tokens, error)
}

type Handler struct {
	registry *Registry
	states   StateStore
	sessions SessionService
	logger   *observability.Logger

	// exchange is swappable so tests can stand in for the provider.
	exchange func(ctx context.Context, p *Provider, code string) (auth.Identity, error)
}

func NewHandler(registry *Registry, states StateStore, sessions SessionService, logger *observability.Logger) *Handler {
	h := &Handler{
		registry: registry,
		states:   states,
		sessions: sessions,
		logger:   logger,
	}
	h.exchange = h.exchangeCode
	return h
}

// Redirect starts the authorization flow: mint a single-use state nonce and
// send the client to the provider's consent page.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.registry.Lookup(r.PathValue("provider"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported oauth provider")
		return
	}

	state, err := randomState()
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to start oauth flow")
		return
	}

	if err := h.states.Put(r.Context(), state, provider.Name); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to start oauth flow")
		return
	}

	http.Redirect(w, r, provider.Config.AuthCodeURL(state), http.StatusFound)
}

// Callback finishes the flow: the state must round-trip exactly once and
// name the same provider, the code is exchanged upstream, and the verified
// identity funnels into the regular session issuance path.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.registry.Lookup(r.PathValue("provider"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported oauth provider")
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "missing code or state")
		return
	}

	storedProvider, found, err := h.states.Take(r.Context(), state)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to complete oauth flow")
		return
	}
	if !found || storedProvider != provider.Name {
		writeError(w, http.StatusBadRequest, "invalid state parameter")
		return
	}

	identity, err := h.exchange(r.Context(), provider, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			writeError(w, http.StatusBadRequest, "invalid authorization code")
			return
		}
		h.logger.Error("oauth_upstream_failed", map[string]any{
			"provider": provider.Name,
			"error":    err.Error(),
		})
		writeError(w, http.StatusBadGateway, "oauth provider is unavailable")
		return
	}

	tokens, err := h.sessions.LoginWithIdentity(r.Context(), identity)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to complete oauth flow")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) exchangeCode(ctx context.Context, p *Provider, code string) (auth.Identity, error) {
	token, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("exchange code with %s: %w", p.Name, err)
	}
	return p.FetchIdentity(ctx, token)
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
