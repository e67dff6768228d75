package queue

import (
	"sort"

	"go.uber.org/zap"
)

// Genealogy maps each test case to the case it was mutated from. It is a
// forest: records without a resolvable parent are roots, and an edge that
// would close a cycle is never added.
type Genealogy struct {
	parent   map[Key]Key
	children map[Key][]Key
}

func buildGenealogy(records []*Record, byKey map[Key]*Record, logger *zap.Logger) *Genealogy {
	g := &Genealogy{
		parent:   make(map[Key]Key),
		children: make(map[Key][]Key),
	}
	for _, rec := range records {
		src, ok := rec.Source()
		if !ok {
			continue
		}
		child := rec.Key()
		pk := sourceKey(rec, src, byKey)

		if pk == child {
			logger.Debug("self-referencing source, treating as root", zap.String("key", child.String()))
			continue
		}
		if _, ok := byKey[pk]; !ok {
			logger.Debug("unresolved source, treating as root",
				zap.String("key", child.String()),
				zap.String("source", pk.String()))
			continue
		}
		if g.reaches(pk, child) {
			logger.Warn("source would form a cycle, treating as root",
				zap.String("key", child.String()),
				zap.String("source", pk.String()))
			continue
		}
		g.parent[child] = pk
		g.children[pk] = append(g.children[pk], child)
	}
	for _, kids := range g.children {
		sort.Slice(kids, func(i, j int) bool { return kids[i].less(kids[j]) })
	}
	return g
}

// sourceKey locates the queue entry rec was mutated from. Synced entries
// point into the other instance's queue. Collected crash names carry the
// session of the instance that found them, which need not match any
// directory; such sources resolve in the instance the file was found in.
func sourceKey(rec *Record, src int, byKey map[Key]*Record) Key {
	if rec.SyncFrom != "" {
		return Key{Session: rec.SyncFrom, Kind: KindQueue, ID: src}
	}
	pk := Key{Session: rec.Session, Kind: KindQueue, ID: src}
	if _, ok := byKey[pk]; !ok && rec.Instance != rec.Session {
		pk.Session = rec.Instance
	}
	return pk
}

// reaches reports whether walking up from k arrives at target.
func (g *Genealogy) reaches(k, target Key) bool {
	for {
		if k == target {
			return true
		}
		next, ok := g.parent[k]
		if !ok {
			return false
		}
		k = next
	}
}

func (g *Genealogy) Parent(k Key) (Key, bool) {
	p, ok := g.parent[k]
	return p, ok
}

// Children returns the direct descendants of k ordered by key.
func (g *Genealogy) Children(k Key) []Key {
	return g.children[k]
}

// Ancestors walks from the parent of k up to its root.
func (g *Genealogy) Ancestors(k Key) []Key {
	var out []Key
	for {
		p, ok := g.parent[k]
		if !ok {
			return out
		}
		out = append(out, p)
		k = p
	}
}

// Roots returns every key in the genealogy that has children but no parent.
func (g *Genealogy) Roots() []Key {
	var out []Key
	for k := range g.children {
		if _, ok := g.parent[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}
