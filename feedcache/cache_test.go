package feedcache

import (
	"sync"
	"testing"

	"github.com/cppla/updoot/models"
)

func post(id uint, points int, myVote *int) models.PostView {
	return models.PostView{ID: id, Title: "p", Points: points, MyVote: myVote}
}

func intp(v int) *int { return &v }

func ids(posts []models.PostView) []uint {
	out := make([]uint, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

func equalIDs(a []uint, b ...uint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReadMergesPagesInFetchOrder(t *testing.T) {
	c := New()
	first := Args{Limit: 2}
	second := Args{Limit: 2, Cursor: "1700000000000"}

	c.WritePage(FieldPosts, first, Page{Posts: []models.PostView{post(1, 0, nil), post(2, 0, nil)}, HasMore: true}, c.Begin())
	c.WritePage(FieldPosts, second, Page{Posts: []models.PostView{post(3, 0, nil), post(4, 0, nil)}, HasMore: false}, c.Begin())

	feed, partial := c.Read(FieldPosts, second)
	if partial {
		t.Fatal("read of a cached cursor reported partial")
	}
	if !equalIDs(ids(feed.Posts), 1, 2, 3, 4) {
		t.Fatalf("posts = %v, want [1 2 3 4]", ids(feed.Posts))
	}
	if feed.HasMore {
		t.Fatal("hasMore = true, want false")
	}
}

func TestFirstExhaustedPageSuppressesHasMore(t *testing.T) {
	c := New()
	c.WritePage(FieldPosts, Args{Limit: 1}, Page{Posts: []models.PostView{post(1, 0, nil)}, HasMore: false}, c.Begin())
	c.WritePage(FieldPosts, Args{Limit: 1, Cursor: "5"}, Page{Posts: []models.PostView{post(2, 0, nil)}, HasMore: true}, c.Begin())

	feed, _ := c.Read(FieldPosts, Args{Limit: 1})
	if feed.HasMore {
		t.Fatal("a later page re-enabled hasMore")
	}
}

func TestReadUnknownArgsIsPartial(t *testing.T) {
	c := New()
	if _, partial := c.Read(FieldPosts, Args{Limit: 10}); !partial {
		t.Fatal("empty cache read not partial")
	}
	c.WritePage(FieldPosts, Args{Limit: 10}, Page{Posts: []models.PostView{post(1, 0, nil)}, HasMore: true}, c.Begin())

	feed, partial := c.Read(FieldPosts, Args{Limit: 10, Cursor: "99"})
	if !partial {
		t.Fatal("uncached cursor not partial")
	}
	if len(feed.Posts) != 1 {
		t.Fatalf("partial read should still merge cached pages, got %d posts", len(feed.Posts))
	}
}

func TestVotePatch(t *testing.T) {
	c := New()
	c.WritePage(FieldPosts, Args{Limit: 10}, Page{Posts: []models.PostView{post(1, 10, intp(1))}}, c.Begin())

	c.ApplyMutationResult(MutationVote, MutationArgs{PostID: 1, Value: 1}, MutationResult{OK: true})
	got, _ := c.Post(1)
	if got.Points != 10 || *got.MyVote != 1 {
		t.Fatalf("same vote changed post: points %d myVote %d", got.Points, *got.MyVote)
	}

	c.ApplyMutationResult(MutationVote, MutationArgs{PostID: 1, Value: -1}, MutationResult{OK: true})
	got, _ = c.Post(1)
	if got.Points != 8 || *got.MyVote != -1 {
		t.Fatalf("after downvote: points %d myVote %d, want 8 -1", got.Points, *got.MyVote)
	}
}

func TestVotePatchWithoutPriorVote(t *testing.T) {
	c := New()
	c.WritePost(post(1, 3, nil), c.Begin())

	c.ApplyMutationResult(MutationVote, MutationArgs{PostID: 1, Value: -4}, MutationResult{OK: true})
	got, _ := c.Post(1)
	if got.Points != 2 || got.MyVote == nil || *got.MyVote != -1 {
		t.Fatalf("points %d myVote %v, want 2 -1", got.Points, got.MyVote)
	}

	c.ApplyMutationResult(MutationVote, MutationArgs{PostID: 1, Value: 1}, MutationResult{OK: false})
	if got, _ := c.Post(1); got.Points != 2 {
		t.Fatal("failed mutation was applied")
	}
}

func TestCreatePostInvalidatesEveryFeedVariant(t *testing.T) {
	c := New()
	variants := []Args{{Limit: 10}, {Limit: 10, Cursor: "100"}, {Limit: 5}}
	for i, a := range variants {
		c.WritePage(FieldPosts, a, Page{Posts: []models.PostView{post(uint(i+1), 0, nil)}, HasMore: true}, c.Begin())
	}

	c.ApplyMutationResult(MutationCreatePost, MutationArgs{}, MutationResult{OK: true})
	for _, a := range variants {
		if _, partial := c.Read(FieldPosts, a); !partial {
			t.Errorf("args %+v still cached after createPost", a)
		}
	}
	if _, ok := c.Post(1); !ok {
		t.Fatal("createPost should keep normalized entities")
	}
}

func TestDeletePostEvictsEntity(t *testing.T) {
	c := New()
	args := Args{Limit: 10}
	c.WritePage(FieldPosts, args, Page{Posts: []models.PostView{post(1, 0, nil), post(2, 0, nil)}, HasMore: false}, c.Begin())

	c.ApplyMutationResult(MutationDeletePost, MutationArgs{PostID: 1}, MutationResult{OK: true})
	feed, partial := c.Read(FieldPosts, args)
	if partial || !equalIDs(ids(feed.Posts), 2) {
		t.Fatalf("posts = %v partial %v, want [2] false", ids(feed.Posts), partial)
	}
}

func TestSessionMutations(t *testing.T) {
	c := New()
	if _, known := c.Me(); known {
		t.Fatal("me known on empty cache")
	}
	user := &models.PublicUser{ID: 7, Username: "mona"}
	c.ApplyMutationResult(MutationLogin, MutationArgs{}, MutationResult{OK: true, User: user})
	if me, known := c.Me(); !known || me.Username != "mona" {
		t.Fatalf("me after login = %+v %v", me, known)
	}
	c.ApplyMutationResult(MutationLogout, MutationArgs{}, MutationResult{OK: true})
	if _, known := c.Me(); known {
		t.Fatal("me survived logout")
	}
}

func TestStaleRefetchKeepsNewerVotePatch(t *testing.T) {
	c := New()
	args := Args{Limit: 10}
	c.WritePage(FieldPosts, args, Page{Posts: []models.PostView{post(1, 10, nil)}, HasMore: true}, c.Begin())

	// A refetch goes out, then the viewer votes before its response arrives.
	refetch := c.Begin()
	c.ApplyMutationResult(MutationVote, MutationArgs{PostID: 1, Value: 1}, MutationResult{OK: true})
	c.WritePage(FieldPosts, args, Page{Posts: []models.PostView{post(1, 10, nil)}, HasMore: true}, refetch)

	got, _ := c.Post(1)
	if got.Points != 11 || got.MyVote == nil || *got.MyVote != 1 {
		t.Fatalf("stale response overwrote patch: points %d myVote %v", got.Points, got.MyVote)
	}

	// A request issued after the patch is authoritative.
	c.WritePage(FieldPosts, args, Page{Posts: []models.PostView{post(1, 12, intp(1))}, HasMore: true}, c.Begin())
	got, _ = c.Post(1)
	if got.Points != 12 {
		t.Fatalf("fresh response ignored: points %d", got.Points)
	}
}

func TestRefetchKeepsPagePosition(t *testing.T) {
	c := New()
	a, b := Args{Limit: 1}, Args{Limit: 1, Cursor: "9"}
	c.WritePage(FieldPosts, a, Page{Posts: []models.PostView{post(1, 0, nil)}, HasMore: true}, c.Begin())
	c.WritePage(FieldPosts, b, Page{Posts: []models.PostView{post(2, 0, nil)}, HasMore: true}, c.Begin())
	c.WritePage(FieldPosts, a, Page{Posts: []models.PostView{post(3, 0, nil)}, HasMore: true}, c.Begin())

	feed, _ := c.Read(FieldPosts, a)
	if !equalIDs(ids(feed.Posts), 3, 2) {
		t.Fatalf("posts = %v, want [3 2]", ids(feed.Posts))
	}
}

func TestReadReturnsCopies(t *testing.T) {
	c := New()
	c.WritePost(post(1, 0, intp(1)), c.Begin())
	got, _ := c.Post(1)
	*got.MyVote = -1
	again, _ := c.Post(1)
	if *again.MyVote != 1 {
		t.Fatal("caller mutated cached entity")
	}
}

func TestConcurrentWrites(t *testing.T) {
	c := New()
	c.WritePost(post(1, 0, nil), c.Begin())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.WritePage(FieldPosts, Args{Limit: 1, Cursor: string(rune('a' + i%26))}, Page{Posts: []models.PostView{post(1, 0, nil)}, HasMore: true}, c.Begin())
		}(i)
		go func(i int) {
			defer wg.Done()
			c.ApplyMutationResult(MutationVote, MutationArgs{PostID: 1, Value: i%3 - 1}, MutationResult{OK: true})
			c.Read(FieldPosts, Args{Limit: 1})
		}(i)
	}
	wg.Wait()
	if _, ok := c.Post(1); !ok {
		t.Fatal("post lost")
	}
}
