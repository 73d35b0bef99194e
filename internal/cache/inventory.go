package cache

import (
	"context"
	"time"
)

const (
	UserKeyPrefix         = "user:"
	RevokedTokenKeyPrefix = "jwt:revoked:"
)

const (
	UserTTL = 5 * time.Minute
)

func UserKey(userID string) string {
	return UserKeyPrefix + userID
}

func RevokedTokenKey(jti string) string {
	return RevokedTokenKeyPrefix + jti
}

func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

func InvalidateUser(ctx context.Context, userID string) {
	Invalidate(ctx, UserKey(userID))
}
