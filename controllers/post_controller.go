package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/updoot/config"
	"github.com/cppla/updoot/dataloader"
	"github.com/cppla/updoot/ledger"
	"github.com/cppla/updoot/loaders"
	"github.com/cppla/updoot/middleware"
	"github.com/cppla/updoot/models"
	"github.com/cppla/updoot/utils"
)

// PostController serves the feed, post CRUD and votes.
type PostController struct {
	db     *gorm.DB
	ledger *ledger.Ledger
}

// NewPostController creates a new PostController instance.
func NewPostController(db *gorm.DB, l *ledger.Ledger) *PostController {
	return &PostController{db: db, ledger: l}
}

type postInput struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (in postInput) clean() (string, string, error) {
	title := utils.SanitizeTitle(in.Title)
	if title == "" {
		return "", "", fmt.Errorf("title cannot be empty: %w", utils.ErrValidation)
	}
	return title, utils.SanitizeText(in.Text), nil
}

// ListPosts returns one page of the feed, newest first.
func (p *PostController) ListPosts(ctx *gin.Context) {
	limit, err := parseLimit(ctx.Query("limit"))
	if err != nil {
		utils.Fail(ctx, err)
		return
	}

	query := p.db.WithContext(ctx.Request.Context()).Order("created_at DESC, id DESC").Limit(limit + 1)
	if raw := strings.TrimSpace(ctx.Query("cursor")); raw != "" {
		before, err := models.ParseCursor(raw)
		if err != nil {
			utils.Fail(ctx, fmt.Errorf("cursor: %v: %w", err, utils.ErrValidation))
			return
		}
		query = query.Where("created_at < ?", before)
	}

	var posts []models.Post
	if err := query.Find(&posts).Error; err != nil {
		utils.Fail(ctx, err)
		return
	}

	hasMore := len(posts) > limit
	if hasMore {
		posts = posts[:limit]
	}

	views, err := p.render(ctx, posts)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, models.PaginatedPosts{Posts: views, HasMore: hasMore})
}

// parseLimit applies the default for an empty value and clamps to the configured maximum.
func parseLimit(raw string) (int, error) {
	cfg := config.Get()
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return min(cfg.FeedDefaultLimit, cfg.FeedMaxLimit), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer: %w", utils.ErrValidation)
	}
	return min(n, cfg.FeedMaxLimit), nil
}

// GetPost returns a single post.
func (p *PostController) GetPost(ctx *gin.Context) {
	post, err := p.findPost(ctx)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	p.respondPost(ctx, post)
}

// CreatePost allows authenticated users to create new posts.
func (p *PostController) CreatePost(ctx *gin.Context) {
	var req postInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}
	title, text, err := req.clean()
	if err != nil {
		utils.Fail(ctx, err)
		return
	}

	post := models.Post{CreatorID: middleware.ViewerID(ctx), Title: title, Text: text}
	if err := p.db.WithContext(ctx.Request.Context()).Create(&post).Error; err != nil {
		utils.Fail(ctx, err)
		return
	}
	p.respondPost(ctx, post)
}

// UpdatePost allows the creator to change title and text.
func (p *PostController) UpdatePost(ctx *gin.Context) {
	var req postInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40024, "invalid request payload")
		return
	}
	title, text, err := req.clean()
	if err != nil {
		utils.Fail(ctx, err)
		return
	}

	post, err := p.findPost(ctx)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	if post.CreatorID != middleware.ViewerID(ctx) {
		utils.Fail(ctx, fmt.Errorf("you can only update your own posts: %w", utils.ErrForbidden))
		return
	}

	// Points are never written here; the ledger owns them.
	err = p.db.WithContext(ctx.Request.Context()).Model(&post).
		Updates(map[string]interface{}{"title": title, "text": text}).Error
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	post.Title, post.Text = title, text
	p.respondPost(ctx, post)
}

// DeletePost deletes the viewer's own post together with its votes.
func (p *PostController) DeletePost(ctx *gin.Context) {
	id, err := parseID(ctx.Param("id"))
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	deleted, err := p.ledger.DeletePost(ctx.Request.Context(), middleware.ViewerID(ctx), id)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"deleted": deleted})
}

// Vote casts the viewer's vote on a post. Any integer is accepted and clamped to its sign.
func (p *PostController) Vote(ctx *gin.Context) {
	id, err := parseID(ctx.Param("id"))
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	var req struct {
		Value *int `json:"value"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Value == nil {
		utils.Error(ctx, http.StatusBadRequest, 40030, "value is required")
		return
	}

	if err := p.ledger.CastVote(ctx.Request.Context(), middleware.ViewerID(ctx), id, *req.Value); err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"success": true})
}

func (p *PostController) findPost(ctx *gin.Context) (models.Post, error) {
	var post models.Post
	id, err := parseID(ctx.Param("id"))
	if err != nil {
		return post, err
	}
	err = p.db.WithContext(ctx.Request.Context()).First(&post, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return post, fmt.Errorf("post %d: %w", id, utils.ErrNotFound)
	}
	return post, err
}

func (p *PostController) respondPost(ctx *gin.Context, post models.Post) {
	views, err := p.render(ctx, []models.Post{post})
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, views[0])
}

// render resolves creators and the viewer's votes through the request loaders.
// All loads are registered before the first value is read, so each relation costs one query per page.
func (p *PostController) render(ctx *gin.Context, posts []models.Post) ([]models.PostView, error) {
	rctx := ctx.Request.Context()
	ls := loaders.FromContext(rctx)
	if ls == nil {
		ls = loaders.New(p.db)
	}
	viewer := middleware.ViewerID(ctx)

	creators := make([]*dataloader.Thunk[uint, models.User], len(posts))
	votes := make([]*dataloader.Thunk[models.VoteKey, models.Vote], len(posts))
	for i, post := range posts {
		creators[i] = ls.Users.Load(post.CreatorID)
		if viewer != 0 {
			votes[i] = ls.Votes.Load(models.VoteKey{UserID: viewer, PostID: post.ID})
		}
	}

	views := make([]models.PostView, len(posts))
	for i, post := range posts {
		view, err := buildView(rctx, post, viewer, creators[i], votes[i])
		if err != nil {
			return nil, err
		}
		views[i] = view
	}
	return views, nil
}

func buildView(ctx context.Context, post models.Post, viewer uint,
	creator *dataloader.Thunk[uint, models.User], vote *dataloader.Thunk[models.VoteKey, models.Vote]) (models.PostView, error) {
	view := models.PostView{
		ID:          post.ID,
		CreatedAt:   post.CreatedAt,
		UpdatedAt:   post.UpdatedAt,
		CreatorID:   post.CreatorID,
		Title:       post.Title,
		Text:        post.Text,
		TextSnippet: post.TextSnippet(),
		Points:      post.Points,
	}

	u, found, err := creator.Get(ctx)
	if err != nil {
		return view, err
	}
	if found {
		pub := u.PublicFor(viewer)
		view.Creator = &pub
	}

	if vote != nil {
		v, found, err := vote.Get(ctx)
		if err != nil {
			return view, err
		}
		if found {
			value := v.Value
			view.MyVote = &value
		}
	}
	return view, nil
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q: %w", raw, utils.ErrValidation)
	}
	return uint(id), nil
}
