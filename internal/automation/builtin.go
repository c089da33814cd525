package automation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/becmacc/beyflow-chat-sub000/internal/adapters"
	"github.com/becmacc/beyflow-chat-sub000/internal/match"
)

// Builtins returns the default cross-component rules.
func Builtins(rt Runtime, now func() time.Time) []Rule {
	if now == nil {
		now = time.Now
	}
	return []Rule{
		{
			Name:        "chat_to_blog",
			Trigger:     "chat:message_sent",
			Description: "Save chat messages tagged #blog as drafts",
			Source:      "builtin",
			Condition: AnyOf(
				match.Condition{Path: "message", Op: "contains", Value: "#blog"},
				match.Condition{Path: "saveToBlog", Op: "eq", Value: true},
			),
			Action: func(ctx context.Context, p map[string]any) (any, error) {
				return rt.Invoke(ctx, "content", "create_post", map[string]any{
					"title":    "Chat Entry - " + now().Format("2006-01-02"),
					"content":  adapters.String(p, "message"),
					"category": "chat-logs",
					"tags":     []string{"chat", "auto-generated"},
				})
			},
		},
		{
			Name:        "ai_media_suggestion",
			Trigger:     "ai:response_generated",
			Description: "Search media suggested by an assistant reply",
			Source:      "builtin",
			Condition: func(p map[string]any) bool {
				return len(actionsFor(p, "media")) > 0
			},
			Action: func(ctx context.Context, p map[string]any) (any, error) {
				var results []any
				for _, a := range actionsFor(p, "media") {
					if adapters.String(a, "action") != "search" {
						continue
					}
					query := adapters.String(a, "query")
					res, err := rt.Invoke(ctx, "media", "search_and_suggest", map[string]any{"query": query})
					if err != nil {
						return nil, err
					}
					results = append(results, map[string]any{"action": "search", "query": query, "results": res})
				}
				return results, nil
			},
		},
		{
			Name:        "media_to_content",
			Trigger:     "media:download_complete",
			Description: "Draft a post for every finished download",
			Source:      "builtin",
			Condition: AllOf(
				match.Condition{Path: "title", Op: "exists"},
				match.Condition{Path: "title", Op: "neq", Value: ""},
			),
			Action: func(ctx context.Context, p map[string]any) (any, error) {
				title := adapters.String(p, "title")
				size, _ := match.ToFloat(p["size"])
				return rt.Invoke(ctx, "content", "create_post", map[string]any{
					"title":    "Media Downloaded: " + title,
					"content":  fmt.Sprintf("Successfully downloaded %s\n\nSize: %dMB\nPath: %s", title, int64(math.Round(size/1024/1024)), adapters.String(p, "path")),
					"category": "downloads",
					"tags":     []string{"media", "download", "auto-generated"},
				})
			},
		},
		{
			Name:        "enhance_blog_content",
			Trigger:     "content:draft_created",
			Description: "Run new drafts through the assistant, except chat logs",
			Source:      "builtin",
			Condition:   AllOf(match.Condition{Path: "category", Op: "neq", Value: "chat-logs"}),
			Action: func(ctx context.Context, p map[string]any) (any, error) {
				res, err := rt.Invoke(ctx, "ai", "enhance", map[string]any{"content": adapters.String(p, "content"), "kind": "blog_post"})
				if err != nil {
					return nil, err
				}
				out, _ := res.(map[string]any)
				if changed, _ := out["changed"].(bool); !changed {
					return nil, nil
				}
				return rt.Invoke(ctx, "content", "update_post", map[string]any{"id": adapters.String(p, "id"), "content": out["content"]})
			},
		},
		{
			Name:        "media_download_notice",
			Trigger:     "media:download_complete",
			Description: "Tell the chat when a download finishes",
			Source:      "builtin",
			Action: func(ctx context.Context, p map[string]any) (any, error) {
				return rt.Invoke(ctx, "chat", "system_message", map[string]any{
					"message": "Download complete: " + adapters.String(p, "title"),
					"type":    "media_notification",
				})
			},
		},
		{
			Name:        "content_published_notice",
			Trigger:     "content:post_published",
			Description: "Tell the chat when a post goes live",
			Source:      "builtin",
			Action: func(ctx context.Context, p map[string]any) (any, error) {
				return rt.Invoke(ctx, "chat", "system_message", map[string]any{
					"message": "New post published: " + adapters.String(p, "title"),
					"type":    "content_notification",
					"link":    adapters.String(p, "slug"),
				})
			},
		},
		{
			Name:        "ai_response_to_chat",
			Trigger:     "ai:response_generated",
			Description: "Show assistant replies in the chat log",
			Source:      "builtin",
			Condition: AllOf(
				match.Condition{Path: "response", Op: "exists"},
				match.Condition{Path: "response", Op: "neq", Value: ""},
			),
			Action: func(ctx context.Context, p map[string]any) (any, error) {
				return rt.Invoke(ctx, "chat", "ai_message", map[string]any{
					"response":       adapters.String(p, "response"),
					"conversationId": adapters.String(p, "conversationId"),
				})
			},
		},
	}
}

func actionsFor(p map[string]any, component string) []map[string]any {
	list, _ := p["componentActions"].([]any)
	var out []map[string]any
	for _, a := range list {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		if strings.EqualFold(adapters.String(m, "component"), component) {
			out = append(out, m)
		}
	}
	return out
}
