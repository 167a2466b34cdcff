// Package loaders builds the per-request batch loaders used while rendering posts.
package loaders

import (
	"context"
	"strconv"

	"gorm.io/gorm"

	"github.com/cppla/updoot/dataloader"
	"github.com/cppla/updoot/models"
)

// Loaders is the set of batch loaders owned by one request.
type Loaders struct {
	Users *dataloader.Loader[uint, models.User]
	Votes *dataloader.Loader[models.VoteKey, models.Vote]
}

type ctxKey struct{}

// New creates a fresh set of loaders reading from db. Never share the result across requests.
func New(db *gorm.DB, opts ...dataloader.Option) *Loaders {
	return &Loaders{
		Users: dataloader.New[uint, models.User](usersFetcher(db), userKey, opts...),
		Votes: dataloader.New[models.VoteKey, models.Vote](votesFetcher(db), models.VoteKey.Key, opts...),
	}
}

func userKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func usersFetcher(db *gorm.DB) dataloader.BatchFunc[uint, models.User] {
	return func(ctx context.Context, ids []uint) (map[string]models.User, error) {
		var users []models.User
		if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
			return nil, err
		}
		out := make(map[string]models.User, len(users))
		for _, u := range users {
			out[userKey(u.ID)] = u
		}
		return out, nil
	}
}

// votesFetcher resolves (user, post) pairs. A request only ever asks for one viewer,
// so pairs are grouped by user to keep the query on the primary key.
func votesFetcher(db *gorm.DB) dataloader.BatchFunc[models.VoteKey, models.Vote] {
	return func(ctx context.Context, keys []models.VoteKey) (map[string]models.Vote, error) {
		byUser := map[uint][]uint{}
		for _, k := range keys {
			byUser[k.UserID] = append(byUser[k.UserID], k.PostID)
		}
		out := make(map[string]models.Vote, len(keys))
		for userID, postIDs := range byUser {
			var votes []models.Vote
			err := db.WithContext(ctx).
				Where("user_id = ? AND post_id IN ?", userID, postIDs).
				Find(&votes).Error
			if err != nil {
				return nil, err
			}
			for _, v := range votes {
				out[v.Key()] = v
			}
		}
		return out, nil
	}
}

// WithContext returns a copy of ctx carrying l.
func WithContext(ctx context.Context, l *Loaders) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the loaders stored by WithContext, or nil.
func FromContext(ctx context.Context) *Loaders {
	l, _ := ctx.Value(ctxKey{}).(*Loaders)
	return l
}
