// Package token implements the connection-token validator (§4.C): a
// read-through lookup against a shared short-lived store that never
// mutates what it reads. It is grounded on the teacher's own
// internal/login.SessionManager, re-pointed at Redis so the TTL and the
// store itself are owned by the gateway (an external collaborator) rather
// than held in process memory.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrInvalid is returned for a token that is missing, expired, or
// malformed. Validator failures of any kind collapse to this single
// sentinel: per §4.C the caller's only decision is AuthResponse{success}
// vs disconnect, it never needs to distinguish why.
var ErrInvalid = errors.New("token: invalid connection token")

// Claims is what a valid connection token resolves to.
type Claims struct {
	UserID      uuid.UUID
	CharacterID uuid.UUID
}

// Validator performs read-through lookups against Redis. It never writes;
// a token's TTL and revocation are entirely owned by whatever gateway
// minted it.
type Validator struct {
	client  *redis.Client
	timeout time.Duration
}

const keyPrefix = "connection_token:"

// DefaultTimeout bounds a single lookup per §5's "bounded timeout" rule.
const DefaultTimeout = 2 * time.Second

func NewValidator(client *redis.Client, timeout time.Duration) *Validator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Validator{client: client, timeout: timeout}
}

// Validate resolves an opaque connection token to its claims. The stored
// value is expected to be "<user_id>:<character_id>", matching the
// gateway-issued format (§6.2). Any failure — miss, Redis error, malformed
// value, or timeout — returns ErrInvalid; the store is left untouched.
func (v *Validator) Validate(ctx context.Context, connectionToken string) (Claims, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	raw, err := v.client.Get(ctx, keyPrefix+connectionToken).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Claims{}, ErrInvalid
		}
		return Claims{}, fmt.Errorf("%w: redis lookup: %v", ErrInvalid, err)
	}

	claims, err := parseClaims(raw)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return claims, nil
}

func parseClaims(raw string) (Claims, error) {
	const sep = ':'
	idx := -1
	for i := 0; i < len(raw); i++ {
		if raw[i] == sep {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Claims{}, fmt.Errorf("malformed claims value %q", raw)
	}
	userID, err := uuid.Parse(raw[:idx])
	if err != nil {
		return Claims{}, fmt.Errorf("parsing user_id: %w", err)
	}
	charID, err := uuid.Parse(raw[idx+1:])
	if err != nil {
		return Claims{}, fmt.Errorf("parsing character_id: %w", err)
	}
	return Claims{UserID: userID, CharacterID: charID}, nil
}
