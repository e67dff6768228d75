package queue

import (
	"afl-sancov/internal/types"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

type instance struct {
	session string
	root    string
}

// Scanner reads an AFL output directory into an Index.
type Scanner struct {
	logger *zap.Logger
	limit  int // keep only the lowest `limit` ids per directory; 0 keeps all
}

func NewScanner(logger *zap.Logger, limit int) *Scanner {
	return &Scanner{logger: logger, limit: limit}
}

// Scan walks dir in a fixed order so that repeated scans of the same
// directory produce identical indexes. Both the single instance layout
// (<dir>/queue) and the parallel layout (<dir>/<instance>/queue) are
// accepted.
func (s *Scanner) Scan(dir string) (*Index, error) {
	instances, err := findInstances(dir)
	if err != nil {
		return nil, err
	}

	idx := newIndex()
	for _, inst := range instances {
		for _, kind := range []Kind{KindQueue, KindCrash} {
			records, malformed, err := s.scanDir(inst, kind)
			if err != nil {
				return nil, err
			}
			idx.Skipped += malformed
			for _, rec := range records {
				if !idx.add(rec) {
					s.logger.Warn("duplicate test case id, keeping first",
						zap.String("key", rec.Key().String()),
						zap.String("file", rec.Path))
					idx.Skipped++
				}
			}
		}
	}
	idx.Genealogy = buildGenealogy(idx.records, idx.byKey, s.logger)

	s.logger.Info("scanned AFL output",
		zap.String("dir", dir),
		zap.Int("instances", len(instances)),
		zap.Int("records", len(idx.records)),
		zap.Int("crashes", len(idx.Crashes())),
		zap.Int("skipped", idx.Skipped))
	return idx, nil
}

func findInstances(dir string) ([]instance, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, &types.ConfigError{Field: "afl-fuzzing-dir", Reason: fmt.Sprintf("%s is not a directory", dir)}
	}
	if isDir(filepath.Join(dir, "queue")) {
		return []instance{{session: "", root: dir}}, nil
	}

	entries, err := os.ReadDir(dir) // sorted by name
	if err != nil {
		return nil, fmt.Errorf("failed to read fuzzing dir: %w", err)
	}
	var instances []instance
	for _, e := range entries {
		root := filepath.Join(dir, e.Name())
		if e.IsDir() && isDir(filepath.Join(root, "queue")) {
			instances = append(instances, instance{session: e.Name(), root: root})
		}
	}
	if len(instances) == 0 {
		return nil, &types.ConfigError{Field: "afl-fuzzing-dir", Reason: fmt.Sprintf("no AFL queue directory under %s", dir)}
	}
	return instances, nil
}

func (s *Scanner) scanDir(inst instance, kind Kind) ([]*Record, int, error) {
	dir := filepath.Join(inst.root, kind.String())
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	malformed := 0
	records := make([]*Record, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !keepEntry(e.Name()) {
			continue
		}
		rec, err := ParseName(e.Name())
		if err != nil {
			s.logger.Warn("skipping queue entry", zap.String("dir", dir), zap.Error(err))
			malformed++
			continue
		}
		rec.Kind = kind
		rec.Path = filepath.Join(dir, e.Name())
		rec.Instance = inst.session
		if !rec.sessionToken {
			rec.Session = inst.session
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
	if s.limit > 0 && len(records) > s.limit {
		s.logger.Debug("applying queue id limit",
			zap.String("dir", dir),
			zap.Int("limit", s.limit),
			zap.Int("dropped", len(records)-s.limit))
		records = records[:s.limit]
	}
	return records, malformed, nil
}

// keepEntry filters files AFL writes next to test cases.
func keepEntry(name string) bool {
	return name != "README.txt" && !strings.HasPrefix(name, ".")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Index is the result of a scan: every accepted record plus their genealogy.
type Index struct {
	Genealogy *Genealogy
	Skipped   int // malformed names and duplicate keys

	records []*Record
	byKey   map[Key]*Record
}

func newIndex() *Index {
	return &Index{byKey: make(map[Key]*Record)}
}

func (x *Index) add(rec *Record) bool {
	if _, ok := x.byKey[rec.Key()]; ok {
		return false
	}
	x.byKey[rec.Key()] = rec
	x.records = append(x.records, rec)
	return true
}

// Records returns all records in scan order.
func (x *Index) Records() []*Record {
	return x.records
}

func (x *Index) Lookup(k Key) (*Record, bool) {
	rec, ok := x.byKey[k]
	return rec, ok
}

// Crashes returns the records carrying a signal, in scan order.
func (x *Index) Crashes() []*Record {
	var out []*Record
	for _, rec := range x.records {
		if rec.Crashed() {
			out = append(out, rec)
		}
	}
	return out
}

// Queue returns the non-crashing queue entries, in scan order.
func (x *Index) Queue() []*Record {
	var out []*Record
	for _, rec := range x.records {
		if rec.Kind == KindQueue && !rec.Crashed() {
			out = append(out, rec)
		}
	}
	return out
}

// Parent returns the record rec was derived from, if it was scanned.
func (x *Index) Parent(rec *Record) (*Record, bool) {
	pk, ok := x.Genealogy.Parent(rec.Key())
	if !ok {
		return nil, false
	}
	return x.Lookup(pk)
}

// Controls picks up to n non-crashing relatives of rec to diff against:
// the parent first, then the parent's other children by ascending id, then
// the remaining ancestors from the closest upwards. The selection for n is
// always a prefix of the selection for n+1.
func (x *Index) Controls(rec *Record, n int) []*Record {
	if n <= 0 {
		return nil
	}
	parent, ok := x.Genealogy.Parent(rec.Key())
	if !ok {
		return nil
	}

	out := make([]*Record, 0, n)
	seen := map[Key]bool{rec.Key(): true}
	add := func(k Key) bool {
		if seen[k] {
			return false
		}
		seen[k] = true
		r, ok := x.byKey[k]
		if ok && r.Kind == KindQueue && !r.Crashed() {
			out = append(out, r)
		}
		return len(out) >= n
	}

	if add(parent) {
		return out
	}
	for _, sibling := range x.Genealogy.Children(parent) {
		if add(sibling) {
			return out
		}
	}
	for _, up := range x.Genealogy.Ancestors(parent) {
		if add(up) {
			return out
		}
	}
	return out
}
