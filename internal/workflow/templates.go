package workflow

import "sort"

// Template is a predefined graph.
type Template struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Graph       Graph  `json:"graph"`
}

func chain(nodes ...Node) Graph {
	g := Graph{Nodes: nodes}
	for i := 1; i < len(nodes); i++ {
		g.Edges = append(g.Edges, Edge{From: nodes[i-1].ID, To: nodes[i].ID})
	}
	return g
}

var templates = map[string]Template{
	"content_creation": {
		Name:        "content_creation",
		Title:       "Content Creation Pipeline",
		Description: "AI-assisted content creation and publishing",
		Graph: chain(
			Node{ID: "t1", Category: CategoryTrigger, Type: "message"},
			Node{ID: "a1", Category: CategoryAction, Type: "ai.enhance", Config: map[string]any{"kind": "blog_post"}},
			Node{ID: "a2", Category: CategoryAction, Type: "content.create", Config: map[string]any{"title": "Workflow Draft", "category": "workflow"}},
			Node{ID: "a3", Category: CategoryAction, Type: "content.publish"},
		),
	},
	"media_discovery": {
		Name:        "media_discovery",
		Title:       "Smart Media Discovery",
		Description: "Search media, summarize the results and catalog them",
		Graph: chain(
			Node{ID: "t1", Category: CategoryTrigger, Type: "message"},
			Node{ID: "a1", Category: CategoryAction, Type: "media.search"},
			Node{ID: "a2", Category: CategoryAction, Type: "openai"},
			Node{ID: "a3", Category: CategoryAction, Type: "content.create", Config: map[string]any{"title": "Media Discovery", "category": "media"}},
		),
	},
	"cross_platform_publish": {
		Name:        "cross_platform_publish",
		Title:       "Cross-Platform Content Publishing",
		Description: "Publish content and hand it to the automation platform",
		Graph: chain(
			Node{ID: "t1", Category: CategoryTrigger, Type: "webhook"},
			Node{ID: "a1", Category: CategoryAction, Type: "content.publish", Config: map[string]any{"category": "general"}},
			Node{ID: "a2", Category: CategoryAction, Type: "gptMarketer"},
			Node{ID: "a3", Category: CategoryAction, Type: "make"},
		),
	},
	"daily_automation": {
		Name:        "daily_automation",
		Title:       "Daily BeyFlow Automation",
		Description: "Daily RSS check, content curation and digest",
		Graph: chain(
			Node{ID: "t1", Category: CategoryTrigger, Type: "schedule", Config: map[string]any{"cron": "0 0 8 * * *"}},
			Node{ID: "a1", Category: CategoryAction, Type: "media.feeds"},
			Node{ID: "a2", Category: CategoryAction, Type: "omnigen"},
			Node{ID: "a3", Category: CategoryAction, Type: "content.create", Config: map[string]any{"title": "Daily Digest", "category": "digest"}},
		),
	},
}

// Templates lists the predefined graphs sorted by name.
func Templates() []Template {
	out := make([]Template, 0, len(templates))
	for _, t := range templates {
		t.Graph = t.Graph.Clone()
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TemplateNamed returns a copy of the named template.
func TemplateNamed(name string) (Template, bool) {
	t, ok := templates[name]
	if !ok {
		return Template{}, false
	}
	t.Graph = t.Graph.Clone()
	return t, true
}
