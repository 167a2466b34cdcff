package controllers

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/updoot/config"
	"github.com/cppla/updoot/ledger"
	"github.com/cppla/updoot/middleware"
	"github.com/cppla/updoot/models"
	"github.com/cppla/updoot/utils"
)

// AuthController handles accounts, sessions and public profiles.
type AuthController struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	mailer utils.Mailer
}

// NewAuthController creates an AuthController.
func NewAuthController(db *gorm.DB, l *ledger.Ledger, mailer utils.Mailer) *AuthController {
	return &AuthController{db: db, ledger: l, mailer: mailer}
}

// FieldError reports a problem with one input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type inputField struct {
	name  string
	value string
}

// validateInput checks credentials fields. Email is exempt from the length rule.
func validateInput(fields ...inputField) []FieldError {
	var errs []FieldError
	for _, f := range fields {
		if f.name != "email" && len([]rune(f.value)) <= 2 {
			errs = append(errs, FieldError{Field: f.name, Message: "Length must be >= 3"})
		}
	}
	for _, f := range fields {
		if strings.IndexFunc(f.value, unicode.IsSpace) >= 0 {
			errs = append(errs, FieldError{Field: f.name, Message: "Field cannot contain spaces"})
		}
	}
	for _, f := range fields {
		switch {
		case f.name == "email" && !strings.Contains(f.value, "@"):
			errs = append(errs, FieldError{Field: "email", Message: "Email must contain '@'"})
		case f.name == "username" && strings.Contains(f.value, "@"):
			errs = append(errs, FieldError{Field: "username", Message: "Username cannot contain '@'"})
		}
	}
	return errs
}

func respondFieldErrors(ctx *gin.Context, errs []FieldError) {
	utils.Respond(ctx, http.StatusBadRequest, 40002, "invalid input", gin.H{"errors": errs})
	ctx.Abort()
}

// Register handles local account registration with bcrypt hashing.
func (a *AuthController) Register(ctx *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.Password = strings.TrimSpace(req.Password)

	if errs := validateInput(
		inputField{"username", req.Username},
		inputField{"email", req.Email},
		inputField{"password", req.Password},
	); len(errs) > 0 {
		respondFieldErrors(ctx, errs)
		return
	}

	rctx := ctx.Request.Context()
	var taken int64
	if err := a.db.WithContext(rctx).Model(&models.User{}).
		Where("username = ? OR email = ?", req.Username, req.Email).Count(&taken).Error; err != nil {
		utils.Fail(ctx, err)
		return
	}
	if taken > 0 {
		utils.Respond(ctx, http.StatusConflict, 40901, "username or email already taken",
			gin.H{"errors": []FieldError{{Field: "username", Message: "username already taken"}}})
		ctx.Abort()
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	user := models.User{Username: req.Username, Email: req.Email, PasswordHash: hash}
	if err := a.db.WithContext(rctx).Create(&user).Error; err != nil {
		utils.Fail(ctx, err)
		return
	}
	a.respondSession(ctx, user)
}

// Login verifies credentials and issues a JWT. The identifier is treated as an email when it contains '@'.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		UsernameOrEmail string `json:"username_or_email"`
		Username        string `json:"username"`
		Password        string `json:"password"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40003, "invalid request payload")
		return
	}
	ident := strings.TrimSpace(req.UsernameOrEmail)
	if ident == "" {
		ident = strings.TrimSpace(req.Username)
	}

	column := "username"
	if strings.Contains(ident, "@") {
		column = "email"
	}

	var user models.User
	err := a.db.WithContext(ctx.Request.Context()).Where(column+" = ?", ident).First(&user).Error
	if err != nil || !utils.CheckPassword(user.PasswordHash, req.Password) {
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Fail(ctx, err)
			return
		}
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}
	a.respondSession(ctx, user)
}

func (a *AuthController) respondSession(ctx *gin.Context, user models.User) {
	token, expiresAt, err := utils.GenerateToken(user.ID, user.Username)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to generate token")
		return
	}
	utils.Success(ctx, gin.H{
		"token":      token,
		"expires_at": expiresAt,
		"user":       user.PublicFor(user.ID),
	})
}

// Logout revokes the bearer token until its natural expiration.
func (a *AuthController) Logout(ctx *gin.Context) {
	token := ctx.GetString(middleware.ContextTokenKey)
	claims, _ := ctx.MustGet(middleware.ContextClaimsKey).(*utils.Claims)

	if err := utils.BlacklistToken(ctx.Request.Context(), token, utils.TokenExpiry(claims)); err != nil {
		utils.Fail(ctx, fmt.Errorf("revoke token: %w: %w", utils.ErrUnavailable, err))
		return
	}
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the current viewer, or null for anonymous requests.
func (a *AuthController) Me(ctx *gin.Context) {
	viewer := middleware.ViewerID(ctx)
	if viewer == 0 {
		utils.Success(ctx, nil)
		return
	}

	var user models.User
	err := a.db.WithContext(ctx.Request.Context()).First(&user, viewer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Success(ctx, nil)
		return
	}
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, user.PublicFor(viewer))
}

// DeleteMe removes the viewer's account, posts and votes, and revokes the current token.
func (a *AuthController) DeleteMe(ctx *gin.Context) {
	viewer := middleware.ViewerID(ctx)
	rctx := ctx.Request.Context()
	if err := a.ledger.DeleteUser(rctx, viewer); err != nil {
		utils.Fail(ctx, err)
		return
	}

	claims, _ := ctx.MustGet(middleware.ContextClaimsKey).(*utils.Claims)
	if err := utils.BlacklistToken(rctx, ctx.GetString(middleware.ContextTokenKey), utils.TokenExpiry(claims)); err != nil {
		utils.Sugar.Warnw("revoke token after account deletion failed", "user_id", viewer, "err", err)
	}
	utils.CacheDelete(rctx, publicUserCacheKey(viewer))
	utils.Success(ctx, gin.H{"deleted": true})
}

// ForgotPassword mails a single-use reset link. It reports whether a mail was sent.
func (a *AuthController) ForgotPassword(ctx *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40004, "invalid request payload")
		return
	}

	rctx := ctx.Request.Context()
	var user models.User
	err := a.db.WithContext(rctx).Where("email = ?", strings.TrimSpace(req.Email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Success(ctx, gin.H{"sent": false})
		return
	}
	if err != nil {
		utils.Fail(ctx, err)
		return
	}

	cfg := config.Get()
	token, err := utils.IssueResetToken(rctx, user.ID, time.Duration(cfg.ResetTokenTTLMinutes)*time.Minute)
	if err != nil {
		utils.Fail(ctx, fmt.Errorf("issue reset token: %w: %w", utils.ErrUnavailable, err))
		return
	}

	link := strings.TrimRight(cfg.ResetURLBase, "/") + "/change-password/" + token
	body := fmt.Sprintf(`<a href="%s">Reset Password</a>`, html.EscapeString(link))
	if err := a.mailer.Send(user.Email, "Change password", body); err != nil {
		utils.Sugar.Errorw("reset mail failed", "user_id", user.ID, "err", err)
		utils.Success(ctx, gin.H{"sent": false})
		return
	}
	utils.Success(ctx, gin.H{"sent": true})
}

// ChangePassword consumes a reset token, stores the new password and signs the user in.
func (a *AuthController) ChangePassword(ctx *gin.Context) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40005, "invalid request payload")
		return
	}

	if errs := validateInput(inputField{"new_password", req.NewPassword}); len(errs) > 0 {
		respondFieldErrors(ctx, errs)
		return
	}

	rctx := ctx.Request.Context()
	userID, ok, err := utils.ConsumeResetToken(rctx, strings.TrimSpace(req.Token))
	if err != nil {
		utils.Fail(ctx, fmt.Errorf("consume reset token: %w: %w", utils.ErrUnavailable, err))
		return
	}
	if !ok {
		respondFieldErrors(ctx, []FieldError{{Field: "token", Message: "Token expired"}})
		return
	}

	var user models.User
	if err := a.db.WithContext(rctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondFieldErrors(ctx, []FieldError{{Field: "token", Message: "User no longer exists"}})
			return
		}
		utils.Fail(ctx, err)
		return
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	if err := a.db.WithContext(rctx).Model(&user).Update("password_hash", hash).Error; err != nil {
		utils.Fail(ctx, err)
		return
	}
	a.respondSession(ctx, user)
}

func publicUserCacheKey(id uint) string {
	return "cache:user:public:" + strconv.FormatUint(uint64(id), 10)
}

// GetUserPublic returns public user info by ID. Responses are cached in Redis when it is available.
func (a *AuthController) GetUserPublic(ctx *gin.Context) {
	id, err := parseID(ctx.Param("id"))
	if err != nil {
		utils.Fail(ctx, err)
		return
	}

	rctx := ctx.Request.Context()
	var payload models.PublicUser
	if utils.CacheGetJSON(rctx, publicUserCacheKey(id), &payload) {
		utils.Success(ctx, payload)
		return
	}

	var user models.User
	if err := a.db.WithContext(rctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40410, "user not found")
			return
		}
		utils.Fail(ctx, err)
		return
	}
	// The route is public, so the cached projection never carries an email.
	payload = user.PublicFor(0)
	utils.CacheSetJSON(rctx, publicUserCacheKey(id), payload, time.Hour)
	utils.Success(ctx, payload)
}
