package view

import (
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Op is one renderer call captured by Recorder.
type Op struct {
	Kind   string // insert, update, rekey or remove
	Index  int
	OldKey string
	Node   Node
}

// Recorder is an in-memory Renderer that keeps an ordered node list and a
// log of every call.
type Recorder struct {
	mu    sync.Mutex
	nodes []Node
	ops   []Op
}

func (r *Recorder) Insert(index int, n Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index > len(r.nodes) {
		index = len(r.nodes)
	}
	r.nodes = slices.Insert(r.nodes, index, n)
	r.ops = append(r.ops, Op{Kind: "insert", Index: index, Node: n})
}

func (r *Recorder) Update(n Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.find(n.Key); i >= 0 {
		r.nodes[i] = n
	}
	r.ops = append(r.ops, Op{Kind: "update", Node: n})
}

func (r *Recorder) Rekey(oldKey string, n Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.find(oldKey); i >= 0 {
		r.nodes[i] = n
	}
	r.ops = append(r.ops, Op{Kind: "rekey", OldKey: oldKey, Node: n})
}

func (r *Recorder) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.find(key); i >= 0 {
		r.nodes = slices.Delete(r.nodes, i, i+1)
	}
	r.ops = append(r.ops, Op{Kind: "remove", OldKey: key})
}

// Nodes returns the current node list.
func (r *Recorder) Nodes() []Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.nodes)
}

// Ops returns every call made so far.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.ops)
}

// Keys returns the node keys in display order.
func (r *Recorder) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, len(r.nodes))
	for i, n := range r.nodes {
		keys[i] = n.Key
	}
	return keys
}

func (r *Recorder) find(key string) int {
	return slices.IndexFunc(r.nodes, func(n Node) bool { return n.Key == key })
}

// LogRenderer writes renderer calls to a logger. The headless daemon uses
// it in place of a screen.
type LogRenderer struct {
	Logger *zap.Logger
}

func (l LogRenderer) Insert(index int, n Node) {
	l.Logger.Info("message shown", append([]zap.Field{zap.Int("index", index)}, nodeFields(n)...)...)
}

func (l LogRenderer) Update(n Node) {
	l.Logger.Info("message updated", nodeFields(n)...)
}

func (l LogRenderer) Rekey(oldKey string, n Node) {
	l.Logger.Info("message confirmed", append([]zap.Field{zap.String("old_key", oldKey)}, nodeFields(n)...)...)
}

func (l LogRenderer) Remove(key string) {
	l.Logger.Info("message withdrawn", zap.String("key", key))
}

func nodeFields(n Node) []zap.Field {
	return []zap.Field{
		zap.String("key", n.Key),
		zap.String("sender_id", n.SenderID),
		zap.Bool("outgoing", n.Outgoing),
		zap.String("status", string(n.Affordance)),
		zap.Bool("edited", n.Edited),
		zap.Bool("deleted", n.Deleted),
	}
}
