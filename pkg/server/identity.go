package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// IdentityHeader is the HTTP header carrying the base64-encoded caller
// identity, as set by the ingress gateway in front of this service.
const IdentityHeader = "x-rh-identity"

type identityCtxKey struct{}

// Identity is the authenticated caller extracted from the identity header.
type Identity struct {
	OrgID         int
	AccountNumber string
}

// identityPayload is the wire shape of the decoded header.
type identityPayload struct {
	Identity struct {
		AccountNumber string `json:"account_number"`
		OrgID         string `json:"org_id"`
		Type          string `json:"type"`
	} `json:"identity"`
}

// DecodeIdentity decodes and validates a raw identity header value.
func DecodeIdentity(raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, fmt.Errorf("missing %s header", IdentityHeader)
	}

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid base64 in %s header: %w", IdentityHeader, err)
	}

	var payload identityPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return Identity{}, fmt.Errorf("invalid JSON in %s header: %w", IdentityHeader, err)
	}

	orgID, err := strconv.Atoi(payload.Identity.OrgID)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid org_id %q in identity header", payload.Identity.OrgID)
	}

	return Identity{
		OrgID:         orgID,
		AccountNumber: payload.Identity.AccountNumber,
	}, nil
}

// IdentityFromContext returns the identity stored by RequireIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// RequireIdentity is middleware that rejects requests without a valid
// identity header and stores the decoded identity in the request context.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := DecodeIdentity(r.Header.Get(IdentityHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), identityCtxKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
