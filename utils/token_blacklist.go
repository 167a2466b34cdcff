package utils

import (
	"context"
	"time"
)

var blacklist = NewTTLStore("jwt:blacklist:")

// BlacklistToken revokes a token until its natural expiration.
func BlacklistToken(ctx context.Context, token string, expiresAt time.Time) error {
	return blacklist.Set(ctx, token, "1", time.Until(expiresAt))
}

// IsTokenBlacklisted checks if a token was revoked before natural expiration.
// On store errors it fails open to avoid locking every viewer out.
func IsTokenBlacklisted(ctx context.Context, token string) bool {
	revoked, err := blacklist.Exists(ctx, token)
	if err != nil {
		Sugar.Warnf("token blacklist lookup failed: %v", err)
		return false
	}
	return revoked
}
