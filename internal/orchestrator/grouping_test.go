package orchestrator

import (
	"reflect"
	"testing"
)

func TestSplitChunksSevenIntoFive(t *testing.T) {
	ids := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7"}
	chunks := splitChunks(ids, 5)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Index != 0 || chunks[1].Index != 1 {
		t.Fatalf("expected contiguous indices 0,1 got %d,%d", chunks[0].Index, chunks[1].Index)
	}
	if len(chunks[0].PaymentIDs) != 5 || len(chunks[1].PaymentIDs) != 2 {
		t.Fatalf("expected sizes [5 2], got [%d %d]", len(chunks[0].PaymentIDs), len(chunks[1].PaymentIDs))
	}
	if !reflect.DeepEqual(chunks[1].PaymentIDs, []string{"p6", "p7"}) {
		t.Fatalf("tail chunk lost ordering: %v", chunks[1].PaymentIDs)
	}
}

func TestSplitChunksExactMultiple(t *testing.T) {
	chunks := splitChunks([]string{"a", "b", "c", "d"}, 2)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("chunk %d has index %d", i, c.Index)
		}
		if len(c.PaymentIDs) != 2 {
			t.Fatalf("chunk %d has size %d", i, len(c.PaymentIDs))
		}
	}
}

func TestSplitBatches(t *testing.T) {
	bounds := splitBatches(25, 10)
	if len(bounds) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(bounds))
	}
	sizes := []int{bounds[0].end - bounds[0].start, bounds[1].end - bounds[1].start, bounds[2].end - bounds[2].start}
	if !reflect.DeepEqual(sizes, []int{10, 10, 5}) {
		t.Fatalf("expected batch sizes [10 10 5], got %v", sizes)
	}
	if bounds[0].start != 0 || bounds[2].end != 25 {
		t.Fatalf("batches do not cover the input: %+v", bounds)
	}
}

func TestGatewayGroupsPreserveFirstAppearanceOrder(t *testing.T) {
	g := newGatewayGroups()
	g.add("beta", "p1")
	g.add("alpha", "p2")
	g.add("beta", "p3")

	if !reflect.DeepEqual(g.order, []string{"beta", "alpha"}) {
		t.Fatalf("unexpected gateway order: %v", g.order)
	}
	if !reflect.DeepEqual(g.members["beta"], []string{"p1", "p3"}) {
		t.Fatalf("beta members out of order: %v", g.members["beta"])
	}
}

func TestBuildChunksTotals(t *testing.T) {
	g := newGatewayGroups()
	for _, id := range []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7"} {
		g.add("alpha", id)
	}
	for _, id := range []string{"b1", "b2", "b3"} {
		g.add("beta", id)
	}

	chunked, total := buildChunks(g, 5)
	if total != 3 {
		t.Fatalf("expected 3 chunks total, got %d", total)
	}
	if len(chunked["alpha"]) != 2 || len(chunked["beta"]) != 1 {
		t.Fatalf("unexpected per-gateway chunk counts: alpha=%d beta=%d", len(chunked["alpha"]), len(chunked["beta"]))
	}
}
