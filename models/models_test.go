package models

import (
	"strings"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 123_000_000, time.UTC)
	got, err := ParseCursor(FormatCursor(at))
	if err != nil || !got.Equal(at) {
		t.Fatalf("round trip = %v, %v", got, err)
	}
	for _, bad := range []string{"", "abc", "0", "-5"} {
		if _, err := ParseCursor(bad); err == nil {
			t.Errorf("ParseCursor(%q) accepted", bad)
		}
	}
}

func TestTextSnippet(t *testing.T) {
	short := Post{Text: "hello"}
	if short.TextSnippet() != "hello" {
		t.Fatalf("short snippet = %q", short.TextSnippet())
	}
	long := Post{Text: strings.Repeat("é", SnippetLength+5)}
	want := strings.Repeat("é", SnippetLength) + "..."
	if long.TextSnippet() != want {
		t.Fatalf("long snippet = %q", long.TextSnippet())
	}
}

func TestBeforeCreateTruncatesToMillis(t *testing.T) {
	p := Post{CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 1_234_567, time.FixedZone("x", 3600))}
	if err := p.BeforeCreate(nil); err != nil {
		t.Fatal(err)
	}
	if p.CreatedAt.Nanosecond() != 1_000_000 || p.CreatedAt.Location() != time.UTC {
		t.Fatalf("created at = %v", p.CreatedAt)
	}
}

func TestPublicForHidesEmailFromOthers(t *testing.T) {
	u := User{ID: 4, Username: "pat", Email: "pat@example.com"}
	if u.PublicFor(4).Email != "pat@example.com" {
		t.Fatal("owner cannot see own email")
	}
	if u.PublicFor(5).Email != "" || u.PublicFor(0).Email != "" {
		t.Fatal("email leaked")
	}
}

func TestVoteKeyIsCollisionFree(t *testing.T) {
	a := VoteKey{UserID: 1, PostID: 23}.Key()
	b := VoteKey{UserID: 12, PostID: 3}.Key()
	if a == b {
		t.Fatalf("keys collide: %s", a)
	}
	if (Vote{UserID: 1, PostID: 23}).Key() != a {
		t.Fatal("vote key differs from its VoteKey")
	}
}
