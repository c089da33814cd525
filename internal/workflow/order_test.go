package workflow

import (
	"errors"
	"reflect"
	"testing"
)

func nodes(ids ...string) []Node {
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, Node{ID: id, Category: CategoryAction, Type: "noop"})
	}
	return out
}

func TestOrder_Chain(t *testing.T) {
	g := Graph{Nodes: nodes("C", "B", "A"), Edges: []Edge{{From: "A", To: "B"}, {From: "B", To: "C"}}}
	got := Order(g)
	if want := []string{"A", "B", "C"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestOrder_JoinRunsAfterBothParents(t *testing.T) {
	g := Graph{Nodes: nodes("C", "B", "A"), Edges: []Edge{{From: "A", To: "C"}, {From: "B", To: "C"}}}
	got := Order(g)
	if want := []string{"B", "A", "C"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestOrder_CycleWithoutEntryIsExcluded(t *testing.T) {
	g := Graph{
		Nodes: nodes("A", "X", "Y", "Z"),
		Edges: []Edge{{From: "X", To: "Y"}, {From: "Y", To: "X"}, {From: "Y", To: "Z"}},
	}
	got := Order(g)
	if want := []string{"A"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}

	_, err := OrderStrict(g)
	var cerr *CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if want := []string{"X", "Y", "Z"}; !reflect.DeepEqual(cerr.Nodes, want) {
		t.Fatalf("cycle nodes = %v, want %v", cerr.Nodes, want)
	}
}

func TestOrderStrict_AcyclicGraph(t *testing.T) {
	g := Graph{Nodes: nodes("A", "B"), Edges: []Edge{{From: "A", To: "B"}}}
	order, err := OrderStrict(g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 {
		t.Fatalf("order = %v", order)
	}
}
