// Package workflow runs explicit node graphs end-to-end.
//
// Wire format:
//
//	{
//	  "nodes": [{"id":"n1","category":"trigger","type":"message","config":{}, "x":0, "y":0}],
//	  "edges": [{"from":"n1","to":"n2"}]
//	}
//
// Categories:
// - trigger: entry points producing a normalized envelope (message, chatgpt, webhook, schedule)
// - action: dispatched to a registered ActionHandler by type
// - logic: condition, delay, filter, transform
//
// Edges are data dependencies. Nodes run one at a time in topological order;
// x/y are kept for the UI and ignored by execution.
package workflow

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	CategoryTrigger = "trigger"
	CategoryAction  = "action"
	CategoryLogic   = "logic"
)

type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

type Node struct {
	ID       string         `json:"id"`
	Category string         `json:"category"`
	Type     string         `json:"type"`
	Config   map[string]any `json:"config,omitempty"`
	X        float64        `json:"x,omitempty"`
	Y        float64        `json:"y,omitempty"`
}

type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

//go:embed graph.schema.json
var graphSchema []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("graph.schema.json", bytes.NewReader(graphSchema)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("graph.schema.json")
	})
	return schema, schemaErr
}

// Parse decodes a wire-format graph, checks it against the graph schema and
// then runs the semantic checks of Validate.
func Parse(data []byte) (Graph, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Graph{}, fmt.Errorf("decode graph: %w", err)
	}
	s, err := compiledSchema()
	if err != nil {
		return Graph{}, fmt.Errorf("compile graph schema: %w", err)
	}
	if err := s.Validate(raw); err != nil {
		return Graph{}, fmt.Errorf("invalid graph: %w", err)
	}
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return Graph{}, fmt.Errorf("decode graph: %w", err)
	}
	if err := g.Validate(); err != nil {
		return Graph{}, err
	}
	return g, nil
}

// FromMap converts a decoded JSON payload (as received by webhooks and bus
// methods) into a validated graph.
func FromMap(m map[string]any) (Graph, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return Graph{}, fmt.Errorf("encode graph: %w", err)
	}
	return Parse(b)
}

// Validate normalizes ids and checks the graph is well formed: unique node
// ids, known categories, edges between known nodes and no self edges.
// Cycles are not an error here; see OrderStrict.
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return errors.New("graph.nodes is required")
	}
	seen := map[string]struct{}{}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		n.ID = strings.TrimSpace(n.ID)
		n.Type = strings.TrimSpace(n.Type)
		n.Category = strings.ToLower(strings.TrimSpace(n.Category))
		if n.ID == "" {
			return fmt.Errorf("graph.nodes[%d].id is required", i)
		}
		if n.Type == "" {
			return fmt.Errorf("graph.nodes[%d].type is required", i)
		}
		switch n.Category {
		case CategoryTrigger, CategoryAction, CategoryLogic:
		default:
			return fmt.Errorf("node %s: unknown category %q", n.ID, n.Category)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("duplicate node id: %s", n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	for i := range g.Edges {
		e := &g.Edges[i]
		e.From = strings.TrimSpace(e.From)
		e.To = strings.TrimSpace(e.To)
		if e.From == "" || e.To == "" {
			return errors.New("graph.edges[].from and .to are required")
		}
		if e.From == e.To {
			return fmt.Errorf("self edge on node %s is not allowed", e.From)
		}
		if _, ok := seen[e.From]; !ok {
			return fmt.Errorf("edge.from references unknown node: %s", e.From)
		}
		if _, ok := seen[e.To]; !ok {
			return fmt.Errorf("edge.to references unknown node: %s", e.To)
		}
	}
	return nil
}

// Clone copies nodes, edges and node configs.
func (g Graph) Clone() Graph {
	out := Graph{Nodes: make([]Node, len(g.Nodes)), Edges: append([]Edge(nil), g.Edges...)}
	for i, n := range g.Nodes {
		if n.Config != nil {
			n.Config = copyMap(n.Config)
		}
		out.Nodes[i] = n
	}
	return out
}

func (g Graph) index() map[string]Node {
	out := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		out[n.ID] = n
	}
	return out
}
