package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bookorama/internal/domain/auth"
)

// HeaderAPIKey carries the storefront backend's API key.
const HeaderAPIKey = "api_key"

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API
// keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Require rejects requests without a valid key granting scope.
func (s *SecurityHandler) Require(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderAPIKey)
		if key == "" {
			writeError(w, apiError{Code: http.StatusUnauthorized, Reason: "unauthorized", Message: "missing api key"})
			return
		}

		info, ok := s.authenticate(r, key)
		if !ok {
			writeError(w, apiError{Code: http.StatusUnauthorized, Reason: "unauthorized", Message: "invalid api key"})
			return
		}
		if !info.HasScope(scope) {
			writeError(w, apiError{Code: http.StatusForbidden, Reason: "forbidden", Message: "api key lacks scope " + scope})
			return
		}

		ctx := zctx.With(r.Context(), zap.String("api_key_id", info.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *SecurityHandler) authenticate(r *http.Request, key string) (*auth.APIKeyInfo, bool) {
	hexHash := auth.HashKey(key, s.pepper)

	info, err := s.apikeys.FindByHash(r.Context(), hexHash)
	if err != nil {
		if !errors.Is(err, auth.ErrKeyNotFound) {
			zctx.From(r.Context()).Error("API key lookup failed", zap.Error(err))
		}
		return nil, false
	}

	// The row must carry exactly the hash we computed.
	hash, _ := hex.DecodeString(hexHash)
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, false
	}
	return info, true
}
