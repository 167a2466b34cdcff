// Package ledger owns vote rows and the aggregate points of every post.
//
// Points are maintained incrementally: a vote adds the difference between
// the new and the previous value of that viewer's vote. The post row is
// locked for the duration of the unit of work, so voters on the same post
// are serialized while votes on different posts never share a lock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/updoot/models"
	"github.com/cppla/updoot/utils"
)

const (
	defaultMaxAttempts = 5
	defaultBackoff     = 20 * time.Millisecond
)

// Ledger applies votes and post deletions atomically.
type Ledger struct {
	db          *gorm.DB
	maxAttempts int
	backoff     time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithRetry bounds how many times a conflicting unit of work is attempted, and the base backoff between attempts.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(l *Ledger) {
		if maxAttempts > 0 {
			l.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			l.backoff = backoff
		}
	}
}

// New creates a Ledger over db.
func New(db *gorm.DB, opts ...Option) *Ledger {
	l := &Ledger{db: db, maxAttempts: defaultMaxAttempts, backoff: defaultBackoff}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Clamp maps any integer to its sign: -1, 0 or 1.
func Clamp(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// CastVote records viewerID's vote on postID and adjusts the post's points by the change.
// Re-casting the same value succeeds without touching points.
func (l *Ledger) CastVote(ctx context.Context, viewerID, postID uint, raw int) error {
	if viewerID == 0 {
		return utils.ErrUnauthenticated
	}
	value := Clamp(raw)
	return l.retry(ctx, "vote", func(tx *gorm.DB) error {
		return castVote(tx, viewerID, postID, value)
	})
}

func castVote(tx *gorm.DB, viewerID, postID uint, value int) error {
	if err := lockVoter(tx, viewerID); err != nil {
		return err
	}
	if err := lockPost(tx, postID); err != nil {
		return err
	}

	var current models.Vote
	res := tx.Where("user_id = ? AND post_id = ?", viewerID, postID).Limit(1).Find(&current)
	if res.Error != nil {
		return res.Error
	}
	exists := res.RowsAffected > 0

	delta := value - current.Value
	if delta != 0 {
		if err := tx.Model(&models.Post{}).Where("id = ?", postID).
			UpdateColumn("points", gorm.Expr("points + ?", delta)).Error; err != nil {
			return err
		}
	} else if exists {
		return nil
	}

	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "post_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&models.Vote{UserID: viewerID, PostID: postID, Value: value}).Error
}

// lockVoter takes a shared lock on the voter's row, so an account deletion cannot run between
// the vote and its commit. A voter whose account is gone is unauthenticated.
func lockVoter(tx *gorm.DB, userID uint) error {
	var user models.User
	res := tx.Clauses(clause.Locking{Strength: "SHARE"}).Select("id").Where("id = ?", userID).Limit(1).Find(&user)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %d: %w", userID, utils.ErrUnauthenticated)
	}
	return nil
}

// lockPost takes the row lock that serializes all ledger writes on one post.
// It reports ErrNotFound before anything is written.
func lockPost(tx *gorm.DB, postID uint) error {
	var post models.Post
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&post, postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("post %d: %w", postID, utils.ErrNotFound)
	}
	return err
}

// DeletePost removes postID and its votes when viewerID created it. It reports false
// when the post does not exist or belongs to someone else.
func (l *Ledger) DeletePost(ctx context.Context, viewerID, postID uint) (bool, error) {
	if viewerID == 0 {
		return false, utils.ErrUnauthenticated
	}
	deleted := false
	err := l.retry(ctx, "delete post", func(tx *gorm.DB) error {
		deleted = false
		var post models.Post
		res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND creator_id = ?", postID, viewerID).Limit(1).Find(&post)
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		if err := tx.Where("post_id = ?", postID).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		res = tx.Delete(&models.Post{}, postID)
		deleted = res.RowsAffected > 0
		return res.Error
	})
	return deleted, err
}

// DeleteUser removes a user, their posts and their votes. Votes the user cast on other
// posts are withdrawn from those posts' points first, so the aggregate stays exact.
func (l *Ledger) DeleteUser(ctx context.Context, userID uint) error {
	if userID == 0 {
		return utils.ErrUnauthenticated
	}
	return l.retry(ctx, "delete user", func(tx *gorm.DB) error {
		// The exclusive user lock waits for votes this user has in flight and holds off new ones.
		var user models.User
		res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Where("id = ?", userID).Limit(1).Find(&user)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("user %d: %w", userID, utils.ErrNotFound)
		}

		var voted []models.Vote
		// Lock posts in id order so concurrent deletions cannot deadlock each other.
		if err := tx.Select("post_id").Where("user_id = ?", userID).Order("post_id").Find(&voted).Error; err != nil {
			return err
		}
		for _, v := range voted {
			if err := withdrawVote(tx, userID, v.PostID); err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		owned := tx.Model(&models.Post{}).Select("id").Where("creator_id = ?", userID)
		if err := tx.Where("post_id IN (?)", owned).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("creator_id = ?", userID).Delete(&models.Post{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, userID).Error
	})
}

// withdrawVote removes userID's vote on postID and takes its value back out of the points. The
// vote is read again under the post lock, so the withdrawn value is the committed one.
func withdrawVote(tx *gorm.DB, userID, postID uint) error {
	if err := lockPost(tx, postID); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil
		}
		return err
	}
	var vote models.Vote
	res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND post_id = ?", userID, postID).Limit(1).Find(&vote)
	if res.Error != nil || res.RowsAffected == 0 {
		return res.Error
	}
	if vote.Value != 0 {
		if err := tx.Model(&models.Post{}).Where("id = ?", postID).
			UpdateColumn("points", gorm.Expr("points - ?", vote.Value)).Error; err != nil {
			return err
		}
	}
	return tx.Where("user_id = ? AND post_id = ?", userID, postID).Delete(&models.Vote{}).Error
}

// Recount returns the full-scan sum of votes on postID. The vote path never calls it;
// it exists to audit the incremental aggregate.
func (l *Ledger) Recount(ctx context.Context, postID uint) (int, error) {
	var sum int
	err := l.db.WithContext(ctx).Model(&models.Vote{}).
		Select("COALESCE(SUM(value), 0)").Where("post_id = ?", postID).Scan(&sum).Error
	return sum, err
}

// retry runs fn in a transaction, re-running it on transient conflicts until the attempt budget is spent.
func (l *Ledger) retry(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		err := l.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if !IsConflict(err) {
			return err
		}
		lastErr = err
		utils.Sugar.Warnw("ledger conflict, retrying", "op", op, "attempt", attempt, "err", err)
		if attempt == l.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w: %w", op, utils.ErrUnavailable, ctx.Err())
		case <-time.After(l.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("%s: %w after %d attempts: %w: %w", op, utils.ErrUnavailable, l.maxAttempts, utils.ErrConflict, lastErr)
}
