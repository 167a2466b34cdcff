// Package feedcache is the client-side normalized cache for the feed.
//
// Posts are stored once, keyed "Post:<id>", and list fields hold only
// references. Every page fetched for a field is kept under its arguments;
// reading a field merges all of its pages in fetch order. Mutation results
// patch entities in place instead of forcing a refetch.
//
// Writes are sequence numbered. A request takes its sequence from Begin
// before it is sent; when its page is written, vote fields that were
// patched by a mutation applied after that sequence keep the patched values.
// In every other case the most recently arrived response wins.
package feedcache

import (
	"strconv"
	"sync"

	"github.com/cppla/updoot/models"
)

// FieldPosts is the feed list field.
const FieldPosts = "posts"

// Seq orders requests and patches applied to a Cache.
type Seq uint64

// Args are the arguments a list page was fetched with.
type Args struct {
	Limit  int
	Cursor string
}

// Key is the canonical form of a.
func (a Args) Key() string {
	return "limit=" + strconv.Itoa(a.Limit) + "&cursor=" + a.Cursor
}

// Page is one network response for a list field.
type Page struct {
	Posts   []models.PostView
	HasMore bool
}

// Feed is the merged view over every cached page of a field.
type Feed struct {
	Posts   []models.PostView
	HasMore bool
}

// EntityKey returns the normalized key of a post.
func EntityKey(postID uint) string {
	return "Post:" + strconv.FormatUint(uint64(postID), 10)
}

type entity struct {
	post      models.PostView
	votePatch Seq
}

type pageRecord struct {
	args    string
	refs    []string
	hasMore bool
}

type field struct {
	pages []*pageRecord
}

func (f *field) page(args string) *pageRecord {
	for _, p := range f.pages {
		if p.args == args {
			return p
		}
	}
	return nil
}

// Cache is safe for concurrent use; all operations are serialized.
type Cache struct {
	mu       sync.Mutex
	seq      Seq
	entities map[string]*entity
	fields   map[string]*field
	me       *models.PublicUser
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		entities: map[string]*entity{},
		fields:   map[string]*field{},
	}
}

// Begin returns the sequence to pass to WritePage for a request about to be issued.
func (c *Cache) Begin() Seq {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next()
}

func (c *Cache) next() Seq {
	c.seq++
	return c.seq
}

// Read merges every cached page of name in fetch order. hasMore starts true and the first page
// reporting no more results turns it off for the whole view. partial is true when no page was
// fetched with args yet, meaning the caller should go to the network.
func (c *Cache) Read(name string, args Args) (feed Feed, partial bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	feed.HasMore = true
	f := c.fields[name]
	if f == nil || f.page(args.Key()) == nil {
		partial = true
	}
	if f == nil {
		return feed, partial
	}

	for _, p := range f.pages {
		for _, ref := range p.refs {
			e, ok := c.entities[ref]
			if !ok {
				continue
			}
			feed.Posts = append(feed.Posts, copyPost(e.post))
		}
		if !p.hasMore {
			feed.HasMore = false
		}
	}
	return feed, partial
}

// WritePage stores a response for name fetched with args. issued is the value Begin returned
// when the request was sent. A page refetched with the same args keeps its original position.
func (c *Cache) WritePage(name string, args Args, page Page, issued Seq) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next()

	refs := make([]string, 0, len(page.Posts))
	for _, post := range page.Posts {
		refs = append(refs, c.writePost(post, issued))
	}

	f := c.fields[name]
	if f == nil {
		f = &field{}
		c.fields[name] = f
	}
	key := args.Key()
	if p := f.page(key); p != nil {
		p.refs, p.hasMore = refs, page.HasMore
		return
	}
	f.pages = append(f.pages, &pageRecord{args: key, refs: refs, hasMore: page.HasMore})
}

// WritePost stores a single post response, such as a post detail fetch.
func (c *Cache) WritePost(post models.PostView, issued Seq) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next()
	c.writePost(post, issued)
}

func (c *Cache) writePost(post models.PostView, issued Seq) string {
	key := EntityKey(post.ID)
	post = copyPost(post)
	e, ok := c.entities[key]
	if !ok {
		c.entities[key] = &entity{post: post}
		return key
	}
	if e.votePatch > issued {
		// A vote was applied after this response was requested.
		post.Points, post.MyVote = e.post.Points, e.post.MyVote
	}
	e.post = post
	return key
}

// Post returns the cached post with id.
func (c *Cache) Post(id uint) (models.PostView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entities[EntityKey(id)]
	if !ok {
		return models.PostView{}, false
	}
	return copyPost(e.post), true
}

// Me returns the cached viewer. known is false when it was never fetched or was cleared.
func (c *Cache) Me() (user models.PublicUser, known bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.me == nil {
		return models.PublicUser{}, false
	}
	return *c.me, true
}

// WriteMe stores the result of a me query. A nil user clears the entry.
func (c *Cache) WriteMe(user *models.PublicUser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next()
	c.setMe(user)
}

func (c *Cache) setMe(user *models.PublicUser) {
	if user == nil {
		c.me = nil
		return
	}
	u := *user
	c.me = &u
}

func copyPost(p models.PostView) models.PostView {
	if p.MyVote != nil {
		v := *p.MyVote
		p.MyVote = &v
	}
	if p.Creator != nil {
		u := *p.Creator
		p.Creator = &u
	}
	return p
}
