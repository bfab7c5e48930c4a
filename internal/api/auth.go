package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	defaultSessionExpiration = time.Hour * 24
	tokenCookieKey           = "token"
)

const (
	sessionIdClaim = "sid"
	expClaim       = "exp"
)

type UnlockRequest struct {
	Code string `json:"code"`
}

type UnlockResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// unlock trades the shared unlock code for a session token. Attempts are
// rate limited per client address.
func (s *MsgDropApp) unlock(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientAddr(r), time.Now()) {
		errResp := NewTooManyRequestsError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(s.unlockCodeHash), []byte(req.Code)) != nil {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	expiresAt := time.Now().Add(defaultSessionExpiration)
	token, err := s.createSessionToken(defaultSessionExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createSessionCookie(token, defaultSessionExpiration))

	s.writeJson(w, http.StatusOK, UnlockResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

func (s *MsgDropApp) session(w http.ResponseWriter, _ *http.Request) {
	// authMiddleware already validated the token
	s.writeJson(w, http.StatusOK, map[string]bool{"ok": true})
}

func createSessionCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func (s *MsgDropApp) createSessionToken(exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		sessionIdClaim: uuid.NewString(),
		expClaim:       time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func (s *MsgDropApp) verifySessionToken(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return fmt.Errorf("invalid token")
	}

	return nil
}

// requestToken pulls the session token from the cookie, the Authorization
// header, or a query parameter, in that order. The query form exists for
// the websocket handshake.
func requestToken(r *http.Request) string {
	if cookie, err := r.Cookie(tokenCookieKey); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	return r.URL.Query().Get("token")
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
