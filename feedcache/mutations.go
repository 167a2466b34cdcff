package feedcache

import "github.com/cppla/updoot/models"

// Mutation names a server mutation whose result the cache understands.
type Mutation string

const (
	MutationVote           Mutation = "vote"
	MutationCreatePost     Mutation = "createPost"
	MutationDeletePost     Mutation = "deletePost"
	MutationLogin          Mutation = "login"
	MutationRegister       Mutation = "register"
	MutationChangePassword Mutation = "changePassword"
	MutationLogout         Mutation = "logout"
)

// MutationArgs are the arguments the mutation was sent with.
type MutationArgs struct {
	PostID uint
	Value  int
}

// MutationResult is what the server answered. User is set by session mutations.
type MutationResult struct {
	OK   bool
	User *models.PublicUser
}

// ApplyMutationResult patches the cache for a completed mutation. Failed mutations and unknown names are ignored.
func (c *Cache) ApplyMutationResult(m Mutation, args MutationArgs, result MutationResult) {
	if !result.OK {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.next()

	switch m {
	case MutationVote:
		c.patchVote(args.PostID, clamp(args.Value), seq)
	case MutationCreatePost:
		// The new post's position is unknown, so every feed variant is refetched from the first page.
		delete(c.fields, FieldPosts)
	case MutationDeletePost:
		delete(c.entities, EntityKey(args.PostID))
	case MutationLogin, MutationRegister, MutationChangePassword:
		c.setMe(result.User)
	case MutationLogout:
		c.setMe(nil)
	}
}

func (c *Cache) patchVote(postID uint, value int, seq Seq) {
	e, ok := c.entities[EntityKey(postID)]
	if !ok {
		return
	}
	current := 0
	if e.post.MyVote != nil {
		current = *e.post.MyVote
	}
	if e.post.MyVote != nil && current == value {
		return
	}
	e.post.Points = e.post.Points - current + value
	e.post.MyVote = &value
	e.votePatch = seq
}

func clamp(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
