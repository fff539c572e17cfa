package waitgraph

import (
	"bytes"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/kolkov/objmonitor/internal/objsync/heap"
	"github.com/kolkov/objmonitor/internal/objsync/vmsync"
)

// staticGraph is a hand-built graph for exercising the algorithms.
type staticGraph [][]int

func (g staticGraph) NumNodes() int   { return len(g) }
func (g staticGraph) Out(i int) []int { return g[i] }

func TestDeadlocksStatic(t *testing.T) {
	tests := []struct {
		name string
		g    staticGraph
		want [][]int
	}{
		{"empty", staticGraph{}, nil},
		{"chain", staticGraph{{1}, {2}, {}}, nil},
		{"pair", staticGraph{{1}, {0}}, [][]int{{0, 1}}},
		{"cycle plus tail", staticGraph{{1}, {2}, {1}, {0}}, [][]int{{1, 2}}},
		{"two cycles", staticGraph{{1}, {0}, {3}, {2}}, [][]int{{0, 1}, {2, 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Deadlocks(tt.g)
			for _, c := range got {
				sort.Ints(c)
			}
			sort.Slice(got, func(i, j int) bool { return got[i][0] < got[j][0] })
			if len(got) != len(tt.want) {
				t.Fatalf("Deadlocks() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if len(got[i]) != len(tt.want[i]) {
					t.Fatalf("Deadlocks() = %v, want %v", got, tt.want)
				}
				for j := range got[i] {
					if got[i][j] != tt.want[i][j] {
						t.Fatalf("Deadlocks() = %v, want %v", got, tt.want)
					}
				}
			}
		})
	}
}

func TestCyclesEdges(t *testing.T) {
	g := staticGraph{{1, 3}, {0}, {0}, {}}
	nodes, edges := Cycles(g)
	if len(nodes) != 2 || nodes[0] != 0 || nodes[1] != 1 {
		t.Fatalf("nodes = %v, want [0 1]", nodes)
	}
	if len(edges) != 2 {
		t.Fatalf("edges = %v, want two", edges)
	}
	for _, e := range edges {
		if target := g.Out(e.Node)[e.Edge]; target == 3 {
			t.Errorf("edge to node 3 reported in cycle")
		}
	}
}

// TestBuildDeadlock creates a real two-thread lock-order deadlock and
// verifies Build and Deadlocks find it.
func TestBuildDeadlock(t *testing.T) {
	rt := vmsync.New(vmsync.Options{SpinMin: 50 * time.Microsecond, SpinMax: time.Millisecond})
	h := heap.New()
	a, b := rt.Threads().Attach("a"), rt.Threads().Attach("b")
	x, y := h.Alloc(8), h.Alloc(8)

	rt.Lock(a, x)
	rt.Lock(b, y)
	go rt.Lock(a, y)
	go rt.Lock(b, x)

	deadline := time.Now().Add(5 * time.Second)
	for rt.ContendedObject(a) != y || rt.ContendedObject(b) != x {
		if time.Now().After(deadline) {
			t.Fatal("threads never blocked")
		}
		time.Sleep(time.Millisecond)
	}

	g := Build(rt)
	if g.NumNodes() != 2 {
		t.Fatalf("NumNodes() = %d", g.NumNodes())
	}
	if len(g.Out(0)) != 1 || g.Out(0)[0] != 1 || g.Objects[0][0] != y {
		t.Errorf("edge a -> b via y missing: %v %v", g.To, g.Objects)
	}
	dl := Deadlocks(g)
	if len(dl) != 1 || len(dl[0]) != 2 {
		t.Fatalf("Deadlocks() = %v, want one pair", dl)
	}

	var buf bytes.Buffer
	ReportText(&buf, g)
	out := buf.String()
	for _, want := range []string{"a#1 -> b#2 (object " + y.String() + ")", "b#2 -> a#1", "deadlock:"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	// The two goroutines stay blocked; the runtime is discarded with the test.
}

func TestBuildNoDeadlock(t *testing.T) {
	rt := vmsync.New(vmsync.Options{})
	h := heap.New()
	a := rt.Threads().Attach("a")
	rt.Threads().Attach("b")
	rt.Lock(a, h.Alloc(8))

	g := Build(rt)
	if len(Deadlocks(g)) != 0 {
		t.Error("deadlock reported without contention")
	}
	var buf bytes.Buffer
	ReportText(&buf, g)
	if buf.Len() != 0 {
		t.Errorf("unexpected report: %q", buf.String())
	}
}
