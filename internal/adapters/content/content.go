package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/becmacc/beyflow-chat-sub000/internal/adapters"
	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
)

const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

var ErrPostNotFound = errors.New("post not found")

type Post struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Category    string     `json:"category"`
	Tags        []string   `json:"tags"`
	Status      string     `json:"status"`
	Slug        string     `json:"slug"`
	Created     time.Time  `json:"created"`
	Published   *time.Time `json:"published,omitempty"`
	Enhanced    bool       `json:"enhanced,omitempty"`
	RemoteSaved bool       `json:"remote_saved,omitempty"`
}

// NewPost is the input of CreatePost.
type NewPost struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
	Publish  bool     `json:"publish"`
}

// Update carries optional field changes; nil fields are left alone.
type Update struct {
	Title    *string  `json:"title,omitempty"`
	Content  *string  `json:"content,omitempty"`
	Category *string  `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Client adapts the content-management service. Posts and drafts live in a
// local store; the remote service is mirrored while it is reachable.
type Client struct {
	*adapters.Service

	mu     sync.RWMutex
	posts  []Post
	drafts []Post
	nowFn  func() time.Time
}

func New(opts adapters.Options) *Client {
	if opts.Name == "" {
		opts.Name = "content"
	}
	if opts.ProbePath == "" {
		opts.ProbePath = "/"
	}
	c := &Client{Service: adapters.NewService(opts), nowFn: time.Now}
	c.OnRefresh(func(ctx context.Context) error {
		c.Emit(ctx, "content_loaded", c.counts())
		return nil
	})
	return c
}

func (c *Client) counts() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]any{"posts": len(c.posts), "drafts": len(c.drafts)}
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases title and joins alphanumeric runs with dashes.
func Slug(title string) string {
	return strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(title), "-"), "-")
}

func (c *Client) CreatePost(ctx context.Context, in NewPost) (Post, error) {
	if strings.TrimSpace(in.Title) == "" {
		return Post{}, fmt.Errorf("post title is required")
	}
	if in.Category == "" {
		in.Category = "general"
	}
	if in.Tags == nil {
		in.Tags = []string{}
	}
	post := Post{
		ID:       uuid.NewString(),
		Title:    strings.TrimSpace(in.Title),
		Content:  in.Content,
		Category: in.Category,
		Tags:     append([]string(nil), in.Tags...),
		Status:   StatusDraft,
		Slug:     Slug(in.Title),
		Created:  c.nowFn().UTC(),
	}
	if in.Publish {
		post.Status = StatusPublished
		now := post.Created
		post.Published = &now
	}
	post.RemoteSaved = c.mirror(ctx, "/api/create-content", post)

	err := c.Exclusive(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if in.Publish {
			c.posts = append(c.posts, post)
		} else {
			c.drafts = append(c.drafts, post)
		}
		return nil
	})
	if err != nil {
		return Post{}, err
	}

	if in.Publish {
		c.Emit(ctx, "post_published", adapters.ToMap(post))
	} else {
		c.Emit(ctx, "draft_created", adapters.ToMap(post))
	}
	return post, nil
}

// mirror pushes post to the remote service when connected. Remote failures
// never fail the local operation.
func (c *Client) mirror(ctx context.Context, path string, post Post) bool {
	if !c.Connected() {
		return false
	}
	body := map[string]any{
		"title":    post.Title,
		"content":  post.Content,
		"category": post.Category,
		"tags":     post.Tags,
		"slug":     post.Slug,
		"status":   post.Status,
	}
	if err := c.Do(ctx, http.MethodPost, path, body, nil); err != nil {
		slog.Warn("content mirror failed", "path", path, "slug", post.Slug, "error", err)
		return false
	}
	return true
}

func apply(p *Post, u Update) {
	if u.Title != nil {
		p.Title = *u.Title
		p.Slug = Slug(*u.Title)
	}
	if u.Content != nil {
		p.Content = *u.Content
	}
	if u.Category != nil {
		p.Category = *u.Category
	}
	if u.Tags != nil {
		p.Tags = append([]string(nil), u.Tags...)
	}
}

// UpdatePost edits a published post or a draft, in that lookup order.
func (c *Client) UpdatePost(ctx context.Context, id string, u Update) (Post, error) {
	var (
		out   Post
		event string
	)
	err := c.Exclusive(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i := range c.posts {
			if c.posts[i].ID == id {
				apply(&c.posts[i], u)
				out, event = c.posts[i], "post_updated"
				return nil
			}
		}
		for i := range c.drafts {
			if c.drafts[i].ID == id {
				apply(&c.drafts[i], u)
				out, event = c.drafts[i], "draft_updated"
				return nil
			}
		}
		return ErrPostNotFound
	})
	if err != nil {
		return Post{}, err
	}
	c.Emit(ctx, event, adapters.ToMap(out))
	return out, nil
}

// MarkEnhanced replaces the content of a post with an enhanced version.
func (c *Client) MarkEnhanced(ctx context.Context, id, enhanced string) (Post, error) {
	post, err := c.UpdatePost(ctx, id, Update{Content: &enhanced})
	if err != nil {
		return Post{}, err
	}
	c.mu.Lock()
	for _, list := range [][]Post{c.posts, c.drafts} {
		for i := range list {
			if list[i].ID == id {
				list[i].Enhanced = true
				post.Enhanced = true
			}
		}
	}
	c.mu.Unlock()
	return post, nil
}

func (c *Client) PublishDraft(ctx context.Context, id string) (Post, error) {
	var post Post
	err := c.Exclusive(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i := range c.drafts {
			if c.drafts[i].ID != id {
				continue
			}
			post = c.drafts[i]
			c.drafts = append(c.drafts[:i:i], c.drafts[i+1:]...)
			post.Status = StatusPublished
			now := c.nowFn().UTC()
			post.Published = &now
			c.posts = append(c.posts, post)
			return nil
		}
		return ErrPostNotFound
	})
	if err != nil {
		return Post{}, err
	}
	if c.mirror(ctx, "/api/publish", post) {
		post.RemoteSaved = true
	}
	c.Emit(ctx, "post_published", adapters.ToMap(post))
	return post, nil
}

// PublishLatest publishes the most recently created draft.
func (c *Client) PublishLatest(ctx context.Context) (Post, error) {
	c.mu.RLock()
	if len(c.drafts) == 0 {
		c.mu.RUnlock()
		return Post{}, ErrPostNotFound
	}
	id := c.drafts[len(c.drafts)-1].ID
	c.mu.RUnlock()
	return c.PublishDraft(ctx, id)
}

func (c *Client) DeletePost(ctx context.Context, id string) (bool, error) {
	var post Post
	found := false
	_ = c.Exclusive(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i := range c.posts {
			if c.posts[i].ID == id {
				post = c.posts[i]
				c.posts = append(c.posts[:i:i], c.posts[i+1:]...)
				found = true
				return nil
			}
		}
		return nil
	})
	if !found {
		return false, nil
	}
	c.Emit(ctx, "post_deleted", adapters.ToMap(post))
	return true, nil
}

func (c *Client) Posts() []Post {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Post(nil), c.posts...)
}

func (c *Client) Drafts() []Post {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Post(nil), c.drafts...)
}

func (c *Client) Post(id string) (Post, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, list := range [][]Post{c.posts, c.drafts} {
		for _, p := range list {
			if p.ID == id {
				return p, true
			}
		}
	}
	return Post{}, false
}

// Search matches term against title, content and tags of published posts.
func (c *Client) Search(term string) []Post {
	term = strings.ToLower(strings.TrimSpace(term))
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Post
	for _, p := range c.posts {
		if strings.Contains(strings.ToLower(p.Title), term) || strings.Contains(strings.ToLower(p.Content), term) {
			out = append(out, p)
			continue
		}
		for _, tag := range p.Tags {
			if strings.Contains(strings.ToLower(tag), term) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

type Summary struct {
	Title    string    `json:"title"`
	Category string    `json:"category"`
	Created  time.Time `json:"created"`
	URL      string    `json:"url"`
	Excerpt  string    `json:"excerpt"`
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= 100 {
		return s
	}
	return string(r[:100]) + "..."
}

// LatestPosts returns up to limit published posts, newest first.
func (c *Client) LatestPosts(limit int) []Summary {
	if limit <= 0 {
		limit = 5
	}
	posts := c.Posts()
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].Created.After(posts[j].Created) })
	if len(posts) > limit {
		posts = posts[:limit]
	}
	out := make([]Summary, 0, len(posts))
	for _, p := range posts {
		out = append(out, Summary{
			Title:    p.Title,
			Category: p.Category,
			Created:  p.Created,
			URL:      c.BaseURL() + "/" + p.Slug,
			Excerpt:  excerpt(p.Content),
		})
	}
	return out
}

var (
	titlePattern   = regexp.MustCompile(`(?i)(?:title|called?|named?)[:\s]+"([^"]+)"`)
	contentPattern = regexp.MustCompile(`(?i)(?:content|about|write)[:\s]+"([^"]+)"`)
)

// HandleCommand implements hub.CommandHandler.
func (c *Client) HandleCommand(ctx context.Context, text string) (any, bool, error) {
	t := strings.ToLower(text)
	if !strings.Contains(t, "blog") && !strings.Contains(t, "post") {
		return nil, false, nil
	}
	switch {
	case strings.Contains(t, "create") || strings.Contains(t, "write"):
		title := fmt.Sprintf("Chat Post %s", c.nowFn().UTC().Format("2006-01-02 15:04"))
		if m := titlePattern.FindStringSubmatch(text); m != nil {
			title = m[1]
		}
		body := text
		if m := contentPattern.FindStringSubmatch(text); m != nil {
			body = m[1]
		}
		post, err := c.CreatePost(ctx, NewPost{
			Title:    title,
			Content:  body,
			Category: "chat-generated",
			Tags:     []string{"chat", "auto-generated"},
		})
		if err != nil {
			return nil, true, err
		}
		return map[string]any{
			"action":  "post_created",
			"id":      post.ID,
			"title":   post.Title,
			"status":  post.Status,
			"message": fmt.Sprintf("Created draft post: %q", post.Title),
		}, true, nil
	case strings.Contains(t, "publish"):
		post, err := c.PublishLatest(ctx)
		if errors.Is(err, ErrPostNotFound) {
			return map[string]any{"message": "No drafts available to publish"}, true, nil
		}
		if err != nil {
			return nil, true, err
		}
		return map[string]any{
			"action":  "post_published",
			"title":   post.Title,
			"url":     c.BaseURL() + "/" + post.Slug,
			"message": fmt.Sprintf("Published: %q", post.Title),
		}, true, nil
	case strings.Contains(t, "latest") || strings.Contains(t, "recent"):
		return c.LatestPosts(5), true, nil
	case strings.Contains(t, "draft"):
		return c.Drafts(), true, nil
	}
	return nil, false, nil
}

func newPostFrom(p map[string]any) NewPost {
	return NewPost{
		Title:    adapters.String(p, "title"),
		Content:  adapters.FirstString(p, "content", "message", "response"),
		Category: adapters.String(p, "category"),
		Tags:     adapters.Strings(p, "tags"),
		Publish:  adapters.Bool(p, "publish"),
	}
}

// Methods implements hub.Invoker.
func (c *Client) Methods() map[string]hub.Method {
	return map[string]hub.Method{
		"create_post": func(ctx context.Context, p map[string]any) (any, error) {
			return c.CreatePost(ctx, newPostFrom(p))
		},
		"publish": func(ctx context.Context, p map[string]any) (any, error) {
			if id := adapters.String(p, "id"); id != "" {
				return c.PublishDraft(ctx, id)
			}
			in := newPostFrom(p)
			in.Publish = true
			return c.CreatePost(ctx, in)
		},
		"update_post": func(ctx context.Context, p map[string]any) (any, error) {
			var u Update
			if _, ok := p["title"]; ok {
				v := adapters.String(p, "title")
				u.Title = &v
			}
			if _, ok := p["content"]; ok {
				v := adapters.String(p, "content")
				u.Content = &v
			}
			if _, ok := p["category"]; ok {
				v := adapters.String(p, "category")
				u.Category = &v
			}
			u.Tags = adapters.Strings(p, "tags")
			return c.UpdatePost(ctx, adapters.String(p, "id"), u)
		},
		"publish_draft": func(ctx context.Context, p map[string]any) (any, error) {
			return c.PublishDraft(ctx, adapters.String(p, "id"))
		},
		"delete_post": func(ctx context.Context, p map[string]any) (any, error) {
			ok, err := c.DeletePost(ctx, adapters.String(p, "id"))
			return map[string]any{"deleted": ok}, err
		},
		"posts": func(ctx context.Context, p map[string]any) (any, error) {
			return c.Posts(), nil
		},
		"drafts": func(ctx context.Context, p map[string]any) (any, error) {
			return c.Drafts(), nil
		},
		"search": func(ctx context.Context, p map[string]any) (any, error) {
			return c.Search(adapters.FirstString(p, "query", "term", "q")), nil
		},
		"latest": func(ctx context.Context, p map[string]any) (any, error) {
			return c.LatestPosts(5), nil
		},
	}
}
