package loaders

import (
	"context"
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"github.com/cppla/updoot/config"
	"github.com/cppla/updoot/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "loaders.db") + "?_foreign_keys=on"
	db, err := config.OpenDatabase(config.AppConfig{DBDriver: "sqlite", DatabaseURI: dsn, LogLevel: "silent"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db
}

// countQueries counts SELECT statements issued against table.
func countQueries(t *testing.T, db *gorm.DB, table string) *int {
	t.Helper()
	n := new(int)
	err := db.Callback().Query().Before("gorm:query").Register("test:count_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table == table {
			*n++
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
	return n
}

func TestUsersLoaderBatchesAndReportsMissing(t *testing.T) {
	db := newTestDB(t)
	alice := models.User{Username: "alice", Email: "alice@example.com", PasswordHash: "x"}
	bob := models.User{Username: "bob", Email: "bob@example.com", PasswordHash: "x"}
	db.Create(&alice)
	db.Create(&bob)
	queries := countQueries(t, db, "users")

	l := New(db)
	got, err := l.Users.LoadMany(context.Background(), []uint{bob.ID, alice.ID, bob.ID, 999})
	if err != nil {
		t.Fatalf("LoadMany: %v", err)
	}
	if *queries != 1 {
		t.Fatalf("user queries = %d, want 1", *queries)
	}
	if got[0].Value.Username != "bob" || got[1].Value.Username != "alice" || got[2].Value.Username != "bob" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got[3].Found {
		t.Fatalf("unknown user reported found")
	}
}

func TestVotesLoaderResolvesCompositeKeys(t *testing.T) {
	db := newTestDB(t)
	u := models.User{Username: "carol", Email: "carol@example.com", PasswordHash: "x"}
	db.Create(&u)
	p1 := models.Post{CreatorID: u.ID, Title: "a", Text: "a"}
	p2 := models.Post{CreatorID: u.ID, Title: "b", Text: "b"}
	db.Create(&p1)
	db.Create(&p2)
	db.Create(&models.Vote{UserID: u.ID, PostID: p2.ID, Value: -1})

	l := New(db)
	got, err := l.Votes.LoadMany(context.Background(), []models.VoteKey{
		{UserID: u.ID, PostID: p1.ID},
		{UserID: u.ID, PostID: p2.ID},
	})
	if err != nil {
		t.Fatalf("LoadMany: %v", err)
	}
	if got[0].Found {
		t.Fatalf("vote on p1 should be absent")
	}
	if !got[1].Found || got[1].Value.Value != -1 {
		t.Fatalf("vote on p2 = %+v", got[1])
	}
}

func TestContextRoundTrip(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Fatal("empty context should carry no loaders")
	}
	l := &Loaders{}
	if FromContext(WithContext(context.Background(), l)) != l {
		t.Fatal("loaders lost in context")
	}
}
