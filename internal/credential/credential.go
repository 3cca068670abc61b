// Package credential persists the session payload returned by a successful phone verification.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"phone-login/client/internal/phone"
)

// tokenFields are the payload keys that may carry the issued access token.
var tokenFields = []string{"token", "accessToken", "access_token"}

// Credential is the handed-off result of a verified login attempt.
type Credential struct {
	ID string `json:"id"`
	// SessionID is the verification session that produced this credential.
	SessionID string       `json:"sessionId"`
	Phone     phone.Number `json:"phone"`
	// Subject identifies the user: the token's sub claim, else the payload's id field.
	Subject   string          `json:"subject,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"` // nil when the payload carries no token expiry
	CreatedAt time.Time       `json:"createdAt"`
}

// Store persists credentials. Get returns (nil, nil) when the id is unknown or expired.
type Store interface {
	Save(ctx context.Context, c *Credential) error
	Get(ctx context.Context, id string) (*Credential, error)
}

// FromPayload builds a Credential from the verification service's session payload.
// A token in the payload is decoded without signature verification; the server already issued it
// and this client only reads sub and exp from it. Opaque tokens are kept in the payload without claims.
func FromPayload(sessionID string, p phone.Number, payload json.RawMessage, now time.Time) *Credential {
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage(`{}`)
	}
	c := &Credential{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Phone:     p,
		Payload:   payload,
		CreatedAt: now.UTC(),
	}

	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		// Non-object payloads are stored as-is.
		return c
	}

	for _, key := range tokenFields {
		tok, ok := fields[key].(string)
		if !ok || tok == "" {
			continue
		}
		claims, err := readClaims(tok)
		if err != nil {
			break
		}
		c.Subject = claims.Subject
		if claims.ExpiresAt != nil {
			exp := claims.ExpiresAt.Time.UTC()
			c.ExpiresAt = &exp
		}
		break
	}
	if c.Subject == "" {
		switch id := fields["id"].(type) {
		case string:
			c.Subject = id
		case json.Number:
			c.Subject = id.String()
		}
	}
	return c
}

func readClaims(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Expired reports whether the credential has an expiry at or before now.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// TTL is the remaining lifetime, or fallback when the credential has no expiry.
func (c *Credential) TTL(now time.Time, fallback time.Duration) time.Duration {
	if c.ExpiresAt == nil {
		return fallback
	}
	return c.ExpiresAt.Sub(now)
}
