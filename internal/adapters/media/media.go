package media

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/becmacc/beyflow-chat-sub000/internal/adapters"
	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
)

// Torrent mirrors one entry of the download client's torrent list.
type Torrent struct {
	Hash     string  `json:"hash"`
	Name     string  `json:"name"`
	Progress float64 `json:"progress"`
	Size     int64   `json:"size"`
	SavePath string  `json:"save_path"`
	State    string  `json:"state,omitempty"`
}

// SearchResult is one hit from the indexer search endpoint. Field names vary
// between indexers, so both spellings are accepted.
type SearchResult struct {
	Title     string `json:"title,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	Size      int64  `json:"size,omitempty"`
	FileSize  int64  `json:"fileSize,omitempty"`
	Seeds     int    `json:"nbSeeders,omitempty"`
	URL       string `json:"url,omitempty"`
	DescrLink string `json:"descrLink,omitempty"`
}

func (r SearchResult) Name() string {
	if r.FileName != "" {
		return r.FileName
	}
	return r.Title
}

func (r SearchResult) Link() string {
	if r.DescrLink != "" {
		return r.DescrLink
	}
	return r.URL
}

type Suggestion struct {
	Title string `json:"title"`
	Size  int64  `json:"size"`
	Seeds int    `json:"seeds"`
	URL   string `json:"url"`
}

type FeedItem struct {
	Title string `json:"title"`
	Link  string `json:"link"`
	Feed  string `json:"feed,omitempty"`
}

type Status struct {
	Connected bool           `json:"connected"`
	Client    map[string]any `json:"client,omitempty"`
	Torrents  []Torrent      `json:"torrents"`
	Queue     []any          `json:"queue"`
}

// Client adapts the media-download automation service.
type Client struct {
	*adapters.Service

	mu        sync.Mutex
	downloads map[string]Torrent
	synced    bool
	feeds     []FeedItem
	cache     *adapters.Cache[[]SearchResult]
}

func New(opts adapters.Options, searchTTL time.Duration) *Client {
	if opts.Name == "" {
		opts.Name = "media"
	}
	if opts.ProbePath == "" {
		opts.ProbePath = "/api/qbt-status"
	}
	c := &Client{
		Service:   adapters.NewService(opts),
		downloads: map[string]Torrent{},
		cache:     adapters.NewCache[[]SearchResult](searchTTL),
	}
	c.OnRefresh(c.checkDownloads)
	return c
}

// checkDownloads emits download_complete the first time a torrent reaches
// full progress. The first sync only records state.
func (c *Client) checkDownloads(ctx context.Context) error {
	var torrents []Torrent
	if err := c.Do(ctx, http.MethodGet, "/api/qbt-torrents", nil, &torrents); err != nil {
		return err
	}
	c.mu.Lock()
	first := !c.synced
	c.synced = true
	var done []Torrent
	for _, t := range torrents {
		prev := c.downloads[t.Hash]
		if !first && t.Progress >= 1 && prev.Progress < 1 {
			done = append(done, t)
		}
		c.downloads[t.Hash] = t
	}
	c.mu.Unlock()

	for _, t := range done {
		c.Emit(ctx, "download_complete", map[string]any{
			"title": t.Name,
			"hash":  t.Hash,
			"size":  t.Size,
			"path":  t.SavePath,
		})
	}
	return nil
}

func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if res, ok := c.cache.Get(strings.ToLower(query)); ok {
		return res, nil
	}
	var res []SearchResult
	if err := c.Do(ctx, http.MethodGet, "/api/search?q="+url.QueryEscape(query), nil, &res); err != nil {
		return nil, err
	}
	c.cache.Set(strings.ToLower(query), res)
	return res, nil
}

// SearchAndSuggest returns the top three results and announces them.
func (c *Client) SearchAndSuggest(ctx context.Context, query string) ([]Suggestion, error) {
	res, err := c.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(res) > 3 {
		res = res[:3]
	}
	out := make([]Suggestion, 0, len(res))
	for _, r := range res {
		size := r.FileSize
		if size == 0 {
			size = r.Size
		}
		out = append(out, Suggestion{Title: r.Name(), Size: size, Seeds: r.Seeds, URL: r.Link()})
	}
	if len(out) > 0 {
		c.Emit(ctx, "search_suggestions", map[string]any{"query": query, "suggestions": out})
	}
	return out, nil
}

func (c *Client) AddDownload(ctx context.Context, magnetURL, title string) error {
	if strings.TrimSpace(magnetURL) == "" {
		return fmt.Errorf("download url is required")
	}
	err := c.Exclusive(func() error {
		return c.Do(ctx, http.MethodPost, "/api/add-torrent", map[string]any{"url": magnetURL, "title": title}, nil)
	})
	if err != nil {
		return err
	}
	c.Emit(ctx, "download_started", map[string]any{"title": title, "magnet_url": magnetURL})
	return nil
}

func (c *Client) QueueForPlex(ctx context.Context, magnetURL, title string) error {
	if strings.TrimSpace(magnetURL) == "" {
		return fmt.Errorf("download url is required")
	}
	err := c.Exclusive(func() error {
		return c.Do(ctx, http.MethodPost, "/api/queue-download", map[string]any{"url": magnetURL, "title": title}, nil)
	})
	if err != nil {
		return err
	}
	c.Emit(ctx, "queued_for_plex", map[string]any{"title": title, "magnet_url": magnetURL})
	return nil
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := c.Do(ctx, http.MethodGet, "/api/qbt-status", nil, &st.Client); err != nil {
		return Status{}, err
	}
	if err := c.Do(ctx, http.MethodGet, "/api/qbt-torrents", nil, &st.Torrents); err != nil {
		return Status{}, err
	}
	if err := c.Do(ctx, http.MethodGet, "/api/queue", nil, &st.Queue); err != nil {
		return Status{}, err
	}
	st.Connected = true
	return st, nil
}

func (c *Client) Feeds(ctx context.Context, feed string) ([]FeedItem, error) {
	path := "/api/feeds"
	if feed = strings.TrimSpace(feed); feed != "" && feed != "all" {
		path += "?feed=" + url.QueryEscape(feed)
	}
	var items []FeedItem
	if err := c.Do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) RefreshFeeds(ctx context.Context) ([]FeedItem, error) {
	var items []FeedItem
	err := c.Exclusive(func() error {
		return c.Do(ctx, http.MethodGet, "/api/feeds/refresh", nil, &items)
	})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.feeds = items
	c.mu.Unlock()
	c.Emit(ctx, "feeds_refreshed", map[string]any{"count": len(items), "items": items})
	return items, nil
}

var searchSubject = regexp.MustCompile(`(?i)\b(?:for|about)\s+(.+)$`)

// searchQuery reads an explicit query, falling back to the chat text that
// started a workflow ("... for dune" searches "dune").
func searchQuery(p map[string]any) string {
	if q := adapters.FirstString(p, "query", "q", "title"); q != "" {
		return q
	}
	text := strings.TrimSpace(adapters.FirstString(p, "content", "message"))
	if m := searchSubject.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(strings.TrimRight(m[1], ".!?"))
	}
	return text
}

var commandWords = regexp.MustCompile(`\b(download|torrent|get|find)\b`)

// HandleCommand implements hub.CommandHandler with simple keyword matching.
func (c *Client) HandleCommand(ctx context.Context, text string) (any, bool, error) {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "status") && strings.Contains(t, "download"):
		st, err := c.Status(ctx)
		return st, true, err
	case strings.Contains(t, "download") || strings.Contains(t, "torrent"):
		query := strings.Join(strings.Fields(commandWords.ReplaceAllString(t, "")), " ")
		if query == "" {
			return nil, false, nil
		}
		res, err := c.SearchAndSuggest(ctx, query)
		return res, true, err
	case strings.Contains(t, "rss") || strings.Contains(t, "feed"):
		items, err := c.Feeds(ctx, "all")
		return items, true, err
	}
	return nil, false, nil
}

// Methods implements hub.Invoker.
func (c *Client) Methods() map[string]hub.Method {
	return map[string]hub.Method{
		"search": func(ctx context.Context, p map[string]any) (any, error) {
			return c.Search(ctx, searchQuery(p))
		},
		"search_and_suggest": func(ctx context.Context, p map[string]any) (any, error) {
			return c.SearchAndSuggest(ctx, searchQuery(p))
		},
		"add_download": func(ctx context.Context, p map[string]any) (any, error) {
			title := adapters.String(p, "title")
			if err := c.AddDownload(ctx, adapters.FirstString(p, "url", "magnet_url", "magnet"), title); err != nil {
				return nil, err
			}
			return map[string]any{"started": true, "title": title}, nil
		},
		"queue_for_plex": func(ctx context.Context, p map[string]any) (any, error) {
			title := adapters.String(p, "title")
			if err := c.QueueForPlex(ctx, adapters.FirstString(p, "url", "magnet_url", "magnet"), title); err != nil {
				return nil, err
			}
			return map[string]any{"queued": true, "title": title}, nil
		},
		"status": func(ctx context.Context, p map[string]any) (any, error) {
			return c.Status(ctx)
		},
		"feeds": func(ctx context.Context, p map[string]any) (any, error) {
			return c.Feeds(ctx, adapters.String(p, "feed"))
		},
		"refresh_feeds": func(ctx context.Context, p map[string]any) (any, error) {
			return c.RefreshFeeds(ctx)
		},
	}
}
