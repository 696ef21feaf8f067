// Package memory implements the Memory Graph (§4.5): a DAG of scoped
// message histories supporting ancestor-summary projection, multi-parent
// merges for parallel exploration, and whole-graph serialization.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus-runtime/pkg/models"
)

// Summarizer condenses a slice of messages into a short text summary. The
// default implementation wraps an agent.LLMProvider; tests use a stub.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message) (string, error)
}

// Node is a scope in the memory graph: its own local messages plus links
// to parent/child scopes and an optional rolling summary.
type Node struct {
	ID        string
	Messages  []models.Message
	ParentIDs []string
	ChildIDs  []string
	Summary   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// AddMessage appends a message to this node's local history.
func (n *Node) AddMessage(msg models.Message) {
	n.Messages = append(n.Messages, msg)
}

func (n *Node) scope() string {
	if s, ok := n.Metadata["scope"].(string); ok && s != "" {
		return s
	}
	return "previous"
}

// Graph is the DAG of Nodes owned exclusively by the Runtime Coordinator
// for one task's lifetime (§3 Ownership).
type Graph struct {
	nodes      map[string]*Node
	rootID     string
	summarizer Summarizer
}

// NewGraph constructs an empty graph. summarizer may be nil; Summarize
// and Merge become no-ops in that case (matching the Python original's
// "returns None when no LLM is available" behavior).
func NewGraph(summarizer Summarizer) *Graph {
	return &Graph{nodes: make(map[string]*Node), summarizer: summarizer}
}

// RootID returns the root node's id, or "" if none has been created.
func (g *Graph) RootID() string { return g.rootID }

// CreateRoot creates the root node if one does not already exist,
// otherwise returns the existing root.
func (g *Graph) CreateRoot(metadata map[string]any) *Node {
	if g.rootID != "" {
		return g.nodes[g.rootID]
	}
	node, _ := g.CreateNode(nil, metadata)
	g.rootID = node.ID
	return node
}

// CreateNode creates a new node linked to every id in parentIDs, all of
// which must already exist.
func (g *Graph) CreateNode(parentIDs []string, metadata map[string]any) (*Node, error) {
	for _, pid := range parentIDs {
		if _, ok := g.nodes[pid]; !ok {
			return nil, models.NewRuntimeError(models.InvalidInput, fmt.Sprintf("parent node %s does not exist", pid), nil)
		}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	node := &Node{
		ID:        uuid.NewString(),
		ParentIDs: append([]string{}, parentIDs...),
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	g.nodes[node.ID] = node
	for _, pid := range parentIDs {
		parent := g.nodes[pid]
		parent.ChildIDs = append(parent.ChildIDs, node.ID)
	}
	if g.rootID == "" {
		g.rootID = node.ID
	}
	return node, nil
}

// Get returns a node by id, or nil if not found.
func (g *Graph) Get(id string) *Node {
	return g.nodes[id]
}

// Link adds parentID as an additional parent of childID. Fails with
// CyclicDependency if the link would create a cycle.
func (g *Graph) Link(childID, parentID string) error {
	child, ok := g.nodes[childID]
	if !ok {
		return models.NewRuntimeError(models.InvalidInput, fmt.Sprintf("child node %s does not exist", childID), nil)
	}
	parent, ok := g.nodes[parentID]
	if !ok {
		return models.NewRuntimeError(models.InvalidInput, fmt.Sprintf("parent node %s does not exist", parentID), nil)
	}
	if g.wouldCycle(childID, parentID) {
		return models.NewRuntimeError(models.CyclicDependency, fmt.Sprintf("linking %s to %s would create a cycle", childID, parentID), nil)
	}
	if !contains(child.ParentIDs, parentID) {
		child.ParentIDs = append(child.ParentIDs, parentID)
	}
	if !contains(parent.ChildIDs, childID) {
		parent.ChildIDs = append(parent.ChildIDs, childID)
	}
	return nil
}

// wouldCycle reports whether parentID is reachable from childID by
// walking forward through child_ids (§4.5's specified cycle check).
func (g *Graph) wouldCycle(childID, parentID string) bool {
	visited := map[string]bool{}
	queue := []string{childID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == parentID {
			return true
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		if node := g.nodes[current]; node != nil {
			queue = append(queue, node.ChildIDs...)
		}
	}
	return false
}

// Unlink removes the edge between childID and parentID in both
// directions. Safe to call when the edge (or either node) is missing.
func (g *Graph) Unlink(childID, parentID string) {
	if child, ok := g.nodes[childID]; ok {
		child.ParentIDs = remove(child.ParentIDs, parentID)
	}
	if parent, ok := g.nodes[parentID]; ok {
		parent.ChildIDs = remove(parent.ChildIDs, childID)
	}
}

// Delete removes a node and every reference to it from its parents and
// children. Clears RootID if the deleted node was the root.
func (g *Graph) Delete(id string) bool {
	node, ok := g.nodes[id]
	if !ok {
		return false
	}
	for _, pid := range node.ParentIDs {
		if parent := g.nodes[pid]; parent != nil {
			parent.ChildIDs = remove(parent.ChildIDs, id)
		}
	}
	for _, cid := range node.ChildIDs {
		if child := g.nodes[cid]; child != nil {
			child.ParentIDs = remove(child.ParentIDs, id)
		}
	}
	delete(g.nodes, id)
	if g.rootID == id {
		g.rootID = ""
	}
	return true
}

// Ancestors returns every ancestor of node_id in BFS order over
// parent_ids, visiting each ancestor once, excluding node_id itself.
func (g *Graph) Ancestors(nodeID string) []*Node {
	node, ok := g.nodes[nodeID]
	if !ok {
		return nil
	}
	var ancestors []*Node
	visited := map[string]bool{}
	queue := append([]string{}, node.ParentIDs...)
	for _, pid := range queue {
		visited[pid] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		current := g.nodes[id]
		if current == nil {
			continue
		}
		ancestors = append(ancestors, current)
		for _, pid := range current.ParentIDs {
			if !visited[pid] {
				visited[pid] = true
				queue = append(queue, pid)
			}
		}
	}
	return ancestors
}

// ContextFor projects the outbound context for node_id: one user-role
// message per summarized ancestor (oldest first), then the node's own
// local messages in order (§4.5).
func (g *Graph) ContextFor(nodeID string) []models.Message {
	node, ok := g.nodes[nodeID]
	if !ok {
		return nil
	}
	ancestors := g.Ancestors(nodeID)
	var context []models.Message
	for i := len(ancestors) - 1; i >= 0; i-- {
		ancestor := ancestors[i]
		if ancestor.Summary == "" {
			continue
		}
		content := fmt.Sprintf("[Context from %s]\n%s", ancestor.scope(), ancestor.Summary)
		context = append(context, models.NewUserMessage(content))
	}
	context = append(context, node.Messages...)
	return context
}

// Summarize condenses the most recent 20 messages of node_id into
// node.Summary using the configured Summarizer. No-op (returns "", nil)
// if the node has no messages or no summarizer is configured. Idempotent
// unless force is set.
func (g *Graph) Summarize(ctx context.Context, nodeID string, force bool) (string, error) {
	if g.summarizer == nil {
		return "", nil
	}
	node, ok := g.nodes[nodeID]
	if !ok {
		return "", nil
	}
	if node.Summary != "" && !force {
		return node.Summary, nil
	}
	if len(node.Messages) == 0 {
		return "", nil
	}
	recent := node.Messages
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}
	summary, err := g.summarizer.Summarize(ctx, recent)
	if err != nil {
		return "", err
	}
	node.Summary = summary
	return summary, nil
}

// Merge ensures each source has a summary (summarizing if needed), then
// appends one user-role message to target concatenating each source's
// "[scope]\nsummary" block, blank-line separated (§4.5).
func (g *Graph) Merge(ctx context.Context, sourceIDs []string, targetID string) error {
	target, ok := g.nodes[targetID]
	if !ok {
		return nil
	}
	var blocks []string
	for _, sid := range sourceIDs {
		source, ok := g.nodes[sid]
		if !ok {
			continue
		}
		if source.Summary == "" && len(source.Messages) > 0 {
			if _, err := g.Summarize(ctx, sid, false); err != nil {
				return err
			}
		}
		if source.Summary != "" {
			blocks = append(blocks, fmt.Sprintf("[%s]\n%s", source.scope(), source.Summary))
		}
	}
	if len(blocks) == 0 {
		return nil
	}
	content := fmt.Sprintf("[Merged Context]\n%s", strings.Join(blocks, "\n\n"))
	target.AddMessage(models.NewUserMessage(content))
	return nil
}

// Stats summarizes the graph for the Runtime Coordinator's statistics
// surface (§4.10).
type Stats struct {
	NodeCount        int    `json:"node_count"`
	TotalMessages    int    `json:"total_messages"`
	NodesWithSummary int    `json:"nodes_with_summary"`
	RootID           string `json:"root_id,omitempty"`
}

// Stats computes aggregate counters over every node currently held.
func (g *Graph) Stats() Stats {
	stats := Stats{RootID: g.rootID}
	for _, node := range g.nodes {
		stats.NodeCount++
		stats.TotalMessages += len(node.Messages)
		if node.Summary != "" {
			stats.NodesWithSummary++
		}
	}
	return stats
}

// serializedNode and serializedGraph are the plain data shapes used by
// Dump/Restore (§4.5 "producing/accepting a plain data structure").
type serializedNode struct {
	ID        string           `json:"id"`
	Messages  []models.Message `json:"messages"`
	ParentIDs []string         `json:"parent_ids"`
	ChildIDs  []string         `json:"child_ids"`
	Summary   string           `json:"summary,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

type serializedGraph struct {
	RootID string                    `json:"root_id,omitempty"`
	Nodes  map[string]serializedNode `json:"nodes"`
}

// Dump serializes the whole graph into a plain data structure suitable
// for JSON/YAML encoding.
func (g *Graph) Dump() any {
	out := serializedGraph{RootID: g.rootID, Nodes: make(map[string]serializedNode, len(g.nodes))}
	for id, node := range g.nodes {
		out.Nodes[id] = serializedNode{
			ID:        node.ID,
			Messages:  node.Messages,
			ParentIDs: node.ParentIDs,
			ChildIDs:  node.ChildIDs,
			Summary:   node.Summary,
			Metadata:  node.Metadata,
			CreatedAt: node.CreatedAt,
		}
	}
	return out
}

// Restore reconstructs a graph from data previously produced by Dump.
func Restore(data any, summarizer Summarizer) (*Graph, error) {
	raw, ok := data.(serializedGraph)
	if !ok {
		return nil, models.NewRuntimeError(models.InvalidInput, "restore: data is not a serialized graph", nil)
	}
	g := NewGraph(summarizer)
	g.rootID = raw.RootID
	for id, sn := range raw.Nodes {
		g.nodes[id] = &Node{
			ID:        sn.ID,
			Messages:  sn.Messages,
			ParentIDs: sn.ParentIDs,
			ChildIDs:  sn.ChildIDs,
			Summary:   sn.Summary,
			Metadata:  sn.Metadata,
			CreatedAt: sn.CreatedAt,
		}
	}
	return g, nil
}

func contains(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}

func remove(list []string, target string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// sortedIDs returns node ids in a stable order, useful for deterministic
// test assertions and stats rendering.
func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
