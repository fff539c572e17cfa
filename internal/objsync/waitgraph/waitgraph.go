// Package waitgraph builds the wait-for graph of threads blocked on object
// locks and finds deadlocks in it.
//
// Each node is an attached thread. An edge T1 -> T2 means T1 is blocked
// entering an object whose lock T2 holds. Threads parked in Wait or Sleep
// have no outgoing edge: they wait for a notification or a timeout, not for
// a lock holder.
//
// A cycle in the graph is a deadlock. Graph satisfies graph.Graph, so the
// strongly connected components come from graphalg.
package waitgraph

import (
	"fmt"
	"io"

	"github.com/aclements/go-moremath/graph"
	"github.com/aclements/go-moremath/graph/graphalg"

	"github.com/kolkov/objmonitor/internal/objsync/heap"
	"github.com/kolkov/objmonitor/internal/objsync/thread"
	"github.com/kolkov/objmonitor/internal/objsync/vmsync"
)

// Graph is a wait-for graph.
type Graph struct {
	Threads []*thread.Thread // Node ID -> thread
	To      [][]int          // Node ID -> Edge number -> target node ID
	Objects [][]*heap.Object // Node ID -> Edge number -> contended object
}

// NumNodes implements graph.Graph.
func (g *Graph) NumNodes() int {
	return len(g.Threads)
}

// Out implements graph.Graph.
func (g *Graph) Out(i int) []int {
	return g.To[i]
}

// Build snapshots rt's threads into a wait-for graph.
//
// The snapshot is not atomic: a thread may acquire its lock while Build
// runs. Deadlocked threads never move, so their edges are always exact.
func Build(rt *vmsync.Runtime) *Graph {
	threads := rt.Threads().Threads()
	g := &Graph{
		Threads: threads,
		To:      make([][]int, len(threads)),
		Objects: make([][]*heap.Object, len(threads)),
	}

	node := make(map[*thread.Thread]int, len(threads))
	for i, t := range threads {
		node[t] = i
	}
	for i, t := range threads {
		obj := t.EnteringObject()
		if obj == nil {
			continue
		}
		owner := rt.LockHolder(obj)
		j, ok := node[owner]
		if !ok || owner == t {
			continue
		}
		g.To[i] = append(g.To[i], j)
		g.Objects[i] = append(g.Objects[i], obj)
	}
	return g
}

// Deadlocks returns the node IDs of every wait-for cycle, one slice per
// strongly connected component. Index g.Threads to name them.
func Deadlocks(g graph.Graph) [][]int {
	scc := graphalg.SCC(g, graphalg.SCCSubnodeComponent)
	var out [][]int
	for cid := 0; cid < scc.NumNodes(); cid++ {
		nids := scc.Subnodes(cid)
		if len(nids) <= 1 {
			continue
		}
		out = append(out, nids)
	}
	return out
}

// Cycles returns the nodes and edges that belong to cycles.
func Cycles(g graph.Graph) (nodes []int, edges []graph.Edge) {
	scc := graphalg.SCC(g, graphalg.SCCSubnodeComponent)
	marks := graphalg.NewNodeMarks()
	for cid := 0; cid < scc.NumNodes(); cid++ {
		nids := scc.Subnodes(cid)
		if len(nids) <= 1 {
			continue
		}
		for _, nid := range nids {
			marks.Mark(nid)
		}
	}

	for nid := marks.Next(-1); nid >= 0; nid = marks.Next(nid) {
		nodes = append(nodes, nid)
		cid := scc.SubnodeComponent(nid)
		for eid, n2id := range g.Out(nid) {
			if scc.SubnodeComponent(n2id) == cid {
				edges = append(edges, graph.Edge{Node: nid, Edge: eid})
			}
		}
	}
	return nodes, edges
}

// ReportText writes one line per edge, "<t1> -> <t2> (object <0x...>)",
// followed by a line per deadlock.
func ReportText(w io.Writer, g *Graph) {
	for i, out := range g.To {
		for e, j := range out {
			fmt.Fprintf(w, "%s -> %s (object %v)\n", g.Threads[i], g.Threads[j], g.Objects[i][e])
		}
	}
	for _, cycle := range Deadlocks(g) {
		fmt.Fprint(w, "deadlock:")
		for _, nid := range cycle {
			fmt.Fprintf(w, " %s", g.Threads[nid])
		}
		fmt.Fprintln(w)
	}
}
