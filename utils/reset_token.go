package utils

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ForgetPasswordPrefix namespaces password reset tokens.
const ForgetPasswordPrefix = "forget-password:"

var resetTokens = NewTTLStore(ForgetPasswordPrefix)

// IssueResetToken creates a single-use token bound to userID.
func IssueResetToken(ctx context.Context, userID uint, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	if err := resetTokens.Set(ctx, token, strconv.FormatUint(uint64(userID), 10), ttl); err != nil {
		return "", err
	}
	return token, nil
}

// ConsumeResetToken returns the user bound to token and invalidates it.
func ConsumeResetToken(ctx context.Context, token string) (uint, bool, error) {
	v, ok, err := resetTokens.Take(ctx, token)
	if err != nil || !ok {
		return 0, false, err
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return uint(id), true, nil
}
