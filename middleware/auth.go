package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/updoot/utils"
)

const (
	// ContextUserIDKey is the key used to store authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"
	// ContextClaimsKey stores the parsed token claims, used by logout to revoke them.
	ContextClaimsKey = "claims"
	// ContextTokenKey stores the raw bearer token.
	ContextTokenKey = "token"
)

// AuthRequired ensures the request is authenticated via JWT.
func AuthRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenString, code, msg := bearerToken(ctx)
		if code != 0 {
			utils.Error(ctx, http.StatusUnauthorized, code, msg)
			return
		}

		if utils.IsTokenBlacklisted(ctx.Request.Context(), tokenString) {
			utils.Error(ctx, http.StatusUnauthorized, 40104, "token revoked")
			return
		}

		claims, err := utils.ParseToken(tokenString)
		if err != nil {
			utils.Error(ctx, http.StatusUnauthorized, 40105, "invalid token")
			return
		}

		setViewer(ctx, tokenString, claims)
		ctx.Next()
	}
}

// OptionalAuth identifies the viewer when a valid token is present and otherwise lets the request through as anonymous.
func OptionalAuth() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenString, code, _ := bearerToken(ctx)
		if code == 0 && !utils.IsTokenBlacklisted(ctx.Request.Context(), tokenString) {
			if claims, err := utils.ParseToken(tokenString); err == nil {
				setViewer(ctx, tokenString, claims)
			}
		}
		ctx.Next()
	}
}

func bearerToken(ctx *gin.Context) (string, int, string) {
	authHeader := ctx.GetHeader("Authorization")
	if authHeader == "" {
		return "", 40101, "authorization header missing"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", 40102, "invalid authorization header format"
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return "", 40103, "empty bearer token"
	}
	return tokenString, 0, ""
}

func setViewer(ctx *gin.Context, token string, claims *utils.Claims) {
	ctx.Set(ContextUserIDKey, claims.UserID)
	ctx.Set(ContextUsernameKey, claims.Username)
	ctx.Set(ContextClaimsKey, claims)
	ctx.Set(ContextTokenKey, token)
}

// ViewerID returns the authenticated user id, or 0 for anonymous requests.
func ViewerID(ctx *gin.Context) uint {
	value, exists := ctx.Get(ContextUserIDKey)
	if !exists {
		return 0
	}
	id, _ := value.(uint)
	return id
}
