package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/stagecraft/internal/auth"
)

// AuthHandler issues and refreshes player tokens.
type AuthHandler struct {
	jwtMgr     *auth.JWTManager
	devEnabled bool
}

// NewAuthHandler creates an AuthHandler. devEnabled turns on the dev login route.
func NewAuthHandler(jwtMgr *auth.JWTManager, devEnabled bool) *AuthHandler {
	return &AuthHandler{jwtMgr: jwtMgr, devEnabled: devEnabled}
}

// RefreshToken exchanges a refresh token for a new token pair.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims, err := h.jwtMgr.ValidateToken(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	tokens, err := h.jwtMgr.GenerateTokenPair(claims.PlayerID, claims.SlotID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// DevLogin returns a token pair for the named player without any identity
// check. The slot defaults to one derived from the player name.
func (h *AuthHandler) DevLogin(w http.ResponseWriter, r *http.Request) {
	if !h.devEnabled {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var req struct {
		Name   string `json:"name"`
		SlotID string `json:"slot_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	playerID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("dev:"+req.Name)).String()
	slotID := req.SlotID
	if slotID == "" {
		slotID = playerID + "-1"
	}

	tokens, err := h.jwtMgr.GenerateTokenPair(playerID, slotID)
	if err != nil {
		log.Error().Err(err).Str("name", req.Name).Msg("Failed to generate dev tokens")
		writeError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}
