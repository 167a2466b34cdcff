// Package client talks to the updoot JSON API and keeps a feedcache.Cache in
// step with every response, the way a UI would.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cppla/updoot/feedcache"
	"github.com/cppla/updoot/models"
	"github.com/cppla/updoot/utils"
)

// FieldError is a per-field validation message returned by the API.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is a non-2xx API response. It unwraps to the matching utils sentinel.
type APIError struct {
	Status  int
	Code    int
	Message string
	Fields  []FieldError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d, code %d): %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return utils.ErrUnauthenticated
	case e.Status == http.StatusForbidden:
		return utils.ErrForbidden
	case e.Status == http.StatusNotFound:
		return utils.ErrNotFound
	case e.Status == http.StatusConflict:
		return utils.ErrConflict
	case e.Status == http.StatusBadRequest:
		return utils.ErrValidation
	case e.Status >= 500:
		return utils.ErrUnavailable
	}
	return nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client is safe for concurrent use.
type Client struct {
	base       string
	httpClient *http.Client
	cache      *feedcache.Cache

	mu    sync.Mutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the API served at baseURL, writing into cache.
func New(baseURL string, cache *feedcache.Cache, opts ...Option) *Client {
	c := &Client{
		base:       baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      cache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cache returns the cache this client writes into.
func (c *Client) Cache() *feedcache.Cache { return c.cache }

// Feed returns the merged feed, fetching the first page when it is not cached yet.
func (c *Client) Feed(ctx context.Context, limit int) (feedcache.Feed, error) {
	return c.readPage(ctx, feedcache.Args{Limit: limit})
}

// LoadMore fetches the page older than cursor and returns the merged feed.
func (c *Client) LoadMore(ctx context.Context, limit int, cursor string) (feedcache.Feed, error) {
	return c.readPage(ctx, feedcache.Args{Limit: limit, Cursor: cursor})
}

// Refresh refetches the page for args even when it is cached.
func (c *Client) Refresh(ctx context.Context, limit int, cursor string) (feedcache.Feed, error) {
	args := feedcache.Args{Limit: limit, Cursor: cursor}
	if err := c.fetchPage(ctx, args); err != nil {
		return feedcache.Feed{}, err
	}
	feed, _ := c.cache.Read(feedcache.FieldPosts, args)
	return feed, nil
}

func (c *Client) readPage(ctx context.Context, args feedcache.Args) (feedcache.Feed, error) {
	if feed, partial := c.cache.Read(feedcache.FieldPosts, args); !partial {
		return feed, nil
	}
	return c.Refresh(ctx, args.Limit, args.Cursor)
}

func (c *Client) fetchPage(ctx context.Context, args feedcache.Args) error {
	q := url.Values{}
	if args.Limit > 0 {
		q.Set("limit", strconv.Itoa(args.Limit))
	}
	if args.Cursor != "" {
		q.Set("cursor", args.Cursor)
	}

	issued := c.cache.Begin()
	var page models.PaginatedPosts
	if err := c.do(ctx, http.MethodGet, "/api/v1/posts?"+q.Encode(), nil, &page); err != nil {
		return fmt.Errorf("list posts: %w", err)
	}
	c.cache.WritePage(feedcache.FieldPosts, args, feedcache.Page{Posts: page.Posts, HasMore: page.HasMore}, issued)
	return nil
}

// Post fetches a single post and stores it in the cache.
func (c *Client) Post(ctx context.Context, id uint) (models.PostView, error) {
	issued := c.cache.Begin()
	var post models.PostView
	if err := c.do(ctx, http.MethodGet, postPath(id), nil, &post); err != nil {
		return post, fmt.Errorf("get post: %w", err)
	}
	c.cache.WritePost(post, issued)
	return post, nil
}

// Vote casts the viewer's vote and patches the cached post.
func (c *Client) Vote(ctx context.Context, postID uint, value int) error {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.do(ctx, http.MethodPost, postPath(postID)+"/vote", map[string]int{"value": value}, &resp); err != nil {
		return fmt.Errorf("vote: %w", err)
	}
	c.cache.ApplyMutationResult(feedcache.MutationVote,
		feedcache.MutationArgs{PostID: postID, Value: value},
		feedcache.MutationResult{OK: resp.Success})
	return nil
}

// CreatePost publishes a post. Cached feed pages are invalidated.
func (c *Client) CreatePost(ctx context.Context, title, text string) (models.PostView, error) {
	var post models.PostView
	if err := c.do(ctx, http.MethodPost, "/api/v1/posts", map[string]string{"title": title, "text": text}, &post); err != nil {
		return post, fmt.Errorf("create post: %w", err)
	}
	c.cache.ApplyMutationResult(feedcache.MutationCreatePost, feedcache.MutationArgs{PostID: post.ID}, feedcache.MutationResult{OK: true})
	return post, nil
}

// UpdatePost edits the viewer's own post.
func (c *Client) UpdatePost(ctx context.Context, id uint, title, text string) (models.PostView, error) {
	issued := c.cache.Begin()
	var post models.PostView
	if err := c.do(ctx, http.MethodPut, postPath(id), map[string]string{"title": title, "text": text}, &post); err != nil {
		return post, fmt.Errorf("update post: %w", err)
	}
	c.cache.WritePost(post, issued)
	return post, nil
}

// DeletePost deletes the viewer's own post and evicts it from the cache.
func (c *Client) DeletePost(ctx context.Context, id uint) (bool, error) {
	var resp struct {
		Deleted bool `json:"deleted"`
	}
	if err := c.do(ctx, http.MethodDelete, postPath(id), nil, &resp); err != nil {
		return false, fmt.Errorf("delete post: %w", err)
	}
	c.cache.ApplyMutationResult(feedcache.MutationDeletePost, feedcache.MutationArgs{PostID: id}, feedcache.MutationResult{OK: resp.Deleted})
	return resp.Deleted, nil
}

type session struct {
	Token string            `json:"token"`
	User  models.PublicUser `json:"user"`
}

// Login signs in by username or email.
func (c *Client) Login(ctx context.Context, usernameOrEmail, password string) (models.PublicUser, error) {
	body := map[string]string{"username_or_email": usernameOrEmail, "password": password}
	return c.startSession(ctx, feedcache.MutationLogin, "/api/v1/auth/login", body)
}

// Register creates an account and signs in.
func (c *Client) Register(ctx context.Context, username, email, password string) (models.PublicUser, error) {
	body := map[string]string{"username": username, "email": email, "password": password}
	return c.startSession(ctx, feedcache.MutationRegister, "/api/v1/auth/register", body)
}

// ChangePassword redeems a reset token and signs in.
func (c *Client) ChangePassword(ctx context.Context, token, newPassword string) (models.PublicUser, error) {
	body := map[string]string{"token": token, "new_password": newPassword}
	return c.startSession(ctx, feedcache.MutationChangePassword, "/api/v1/auth/change-password", body)
}

func (c *Client) startSession(ctx context.Context, m feedcache.Mutation, path string, body any) (models.PublicUser, error) {
	var sess session
	if err := c.do(ctx, http.MethodPost, path, body, &sess); err != nil {
		return models.PublicUser{}, fmt.Errorf("%s: %w", m, err)
	}
	c.mu.Lock()
	c.token = sess.Token
	c.mu.Unlock()
	c.cache.ApplyMutationResult(m, feedcache.MutationArgs{}, feedcache.MutationResult{OK: true, User: &sess.User})
	return sess.User, nil
}

// Logout revokes the current token and forgets the viewer.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	c.cache.ApplyMutationResult(feedcache.MutationLogout, feedcache.MutationArgs{}, feedcache.MutationResult{OK: true})
	return nil
}

// Me returns the current viewer, or nil when anonymous. A cached viewer is returned without a request.
func (c *Client) Me(ctx context.Context) (*models.PublicUser, error) {
	if me, known := c.cache.Me(); known {
		return &me, nil
	}
	var me *models.PublicUser
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/me", nil, &me); err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}
	c.cache.WriteMe(me)
	return me, nil
}

func postPath(id uint) string {
	return "/api/v1/posts/" + strconv.FormatUint(uint64(id), 10)
}

func (c *Client) do(ctx context.Context, method, path string, body any, result any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w: %w", utils.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: string(respBody)}
		}
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
		var details struct {
			Errors []FieldError `json:"errors"`
		}
		if len(env.Data) > 0 && json.Unmarshal(env.Data, &details) == nil {
			apiErr.Fields = details.Errors
		}
		return apiErr
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}
	return nil
}
