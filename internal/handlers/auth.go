package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/saferoam/incident-server/internal/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler issues operator tokens for the dashboard.
type AuthHandler struct {
	jwtSecret    string
	operatorUser string
	passwordHash string // bcrypt
	logger       *zap.SugaredLogger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(jwtSecret, operatorUser, passwordHash string, logger *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{
		jwtSecret:    jwtSecret,
		operatorUser: operatorUser,
		passwordHash: passwordHash,
		logger:       logger,
	}
}

// Login handles POST /api/v1/auth/login.
// Checks the operator credentials against the configured bcrypt hash and
// returns a signed JWT carrying the operator name for audit attribution.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if h.passwordHash == "" {
		respondError(w, http.StatusServiceUnavailable, "Operator login is not configured")
		return
	}
	if req.Username != h.operatorUser ||
		bcrypt.CompareHashAndPassword([]byte(h.passwordHash), []byte(req.Password)) != nil {
		h.logger.Warnw("Failed operator login", "username", req.Username)
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  req.Username,
		"name": req.Username,
		"iat":  now.Unix(),
		"exp":  now.Add(12 * time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(h.jwtSecret))
	if err != nil {
		h.logger.Errorw("Failed to sign token", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token":      signed,
		"expires_at": now.Add(12 * time.Hour).UTC(),
	})
}
