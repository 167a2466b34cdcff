package middleware

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/updoot/loaders"
)

// Loaders attaches a fresh set of batch loaders to every request context.
func Loaders(db *gorm.DB) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Request = ctx.Request.WithContext(loaders.WithContext(ctx.Request.Context(), loaders.New(db)))
		ctx.Next()
	}
}
