package gc

import (
	"context"
	"testing"
)

func TestMarker_VisitsReachableObjectsOnce(t *testing.T) {
	leaf := &Object{}
	mid := &Object{Refs: []*Object{leaf, leaf}} // diamond: leaf reachable two ways
	root := &Object{Refs: []*Object{mid}}

	m := NewMarker(4)
	visited, err := m.Mark(context.Background(), []*Object{root})
	if err != nil {
		t.Fatalf("Mark() error = %v", err)
	}
	if visited != 3 {
		t.Fatalf("visited = %d, want 3 (root, mid, leaf each marked once)", visited)
	}
	if !root.IsMarked() || !mid.IsMarked() || !leaf.IsMarked() {
		t.Fatal("expected every reachable object marked")
	}
}

func TestMarker_UnreachableObjectsStayUnmarked(t *testing.T) {
	reachable := &Object{}
	unreachable := &Object{}

	m := NewMarker(2)
	if _, err := m.Mark(context.Background(), []*Object{reachable}); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}
	if unreachable.IsMarked() {
		t.Fatal("unreachable object should not be marked")
	}
}

func TestMarker_SingleWorkerFallback(t *testing.T) {
	m := NewMarker(0)
	if m.workers != 1 {
		t.Fatalf("workers = %d, want 1", m.workers)
	}
	root := &Object{}
	visited, err := m.Mark(context.Background(), []*Object{root})
	if err != nil || visited != 1 {
		t.Fatalf("Mark() = %d, %v, want 1, nil", visited, err)
	}
}

func TestMarker_NoRootsVisitsNothing(t *testing.T) {
	m := NewMarker(3)
	visited, err := m.Mark(context.Background(), nil)
	if err != nil {
		t.Fatalf("Mark() error = %v", err)
	}
	if visited != 0 {
		t.Fatalf("visited = %d, want 0", visited)
	}
}

func TestMarker_ManyRootsDistributeAcrossWorkers(t *testing.T) {
	roots := make([]*Object, 50)
	for i := range roots {
		roots[i] = &Object{}
	}
	m := NewMarker(8)
	visited, err := m.Mark(context.Background(), roots)
	if err != nil {
		t.Fatalf("Mark() error = %v", err)
	}
	if visited != len(roots) {
		t.Fatalf("visited = %d, want %d", visited, len(roots))
	}
}
