package queue

import (
	"afl-sancov/internal/types"
	"fmt"
	"strconv"
	"strings"
)

// Kind tells which AFL output directory a record was found in. AFL numbers
// queue entries and crashes independently, so the kind is part of identity.
type Kind int

const (
	KindQueue Kind = iota
	KindCrash
)

func (k Kind) String() string {
	switch k {
	case KindQueue:
		return "queue"
	case KindCrash:
		return "crashes"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Key identifies a test case within one fuzzing directory.
type Key struct {
	Session string
	Kind    Kind
	ID      int
}

func (k Key) String() string {
	if k.Session == "" {
		return fmt.Sprintf("%s/%06d", k.Kind, k.ID)
	}
	return fmt.Sprintf("%s/%s/%06d", k.Session, k.Kind, k.ID)
}

func (k Key) less(o Key) bool {
	if k.Session != o.Session {
		return k.Session < o.Session
	}
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	return k.ID < o.ID
}

// Record is one parsed queue or crash file. Records are never mutated after
// the scan that produced them.
type Record struct {
	ID       int
	Session  string // fuzzer instance the case belongs to
	Instance string // instance directory the file was found in
	Fuzzer   string // tag preceding the session in collected crash names, e.g. "HARDEN:0001"
	Kind     Kind
	Signal   int   // 0 when the case did not crash
	Sources  []int // src ids; a splice carries two
	SyncFrom string
	Op       string
	Rep      int
	Pos      int
	Val      string
	Orig     string
	Time     int64
	Execs    int64
	NewCov   bool

	Name string // original file name
	Path string

	sessionToken bool
}

func (r *Record) Key() Key {
	return Key{Session: r.Session, Kind: r.Kind, ID: r.ID}
}

// Crashed reports whether AFL recorded a signal for this case.
func (r *Record) Crashed() bool {
	return r.Signal != 0
}

// Source returns the primary lineage pointer.
func (r *Record) Source() (int, bool) {
	if len(r.Sources) == 0 {
		return 0, false
	}
	return r.Sources[0], true
}

// ReportName is the file stem used for outputs keyed by this record. Names
// that already carry a session token are kept verbatim; otherwise the
// instance name is prepended the way afl-collect does, so crashes with the
// same id in different instances do not collide.
func (r *Record) ReportName() string {
	if r.sessionToken || r.Session == "" {
		return r.Name
	}
	return r.Session + ":" + r.Name
}

// ParseName parses an AFL test case file name such as
//
//	id:000004,sig:06,src:000003,op:havoc,rep:2
//	HARDEN:0001,SESSION000:id:000000,sig:06,src:000003,op:havoc,rep:2
//	id:000010,sync:fuzzer02,src:000012
//
// Unknown tokens are ignored so that names from older and newer AFL
// releases both parse.
func ParseName(name string) (*Record, error) {
	start := idTokenStart(name)
	if start < 0 {
		return nil, &types.ParseError{Name: name, Reason: "no id token"}
	}

	rec := &Record{Name: name}
	if start > 0 {
		fields := strings.Split(name[:start-1], ",")
		rec.Session = fields[len(fields)-1]
		rec.Fuzzer = strings.Join(fields[:len(fields)-1], ",")
		rec.sessionToken = true
		if rec.Session == "" {
			return nil, &types.ParseError{Name: name, Reason: "empty session token"}
		}
	}

	tokens := strings.Split(name[start:], ",")
	for i, tok := range tokens {
		key, val, _ := strings.Cut(tok, ":")
		var err error
		switch key {
		case "id":
			rec.ID, err = parseNum(val)
		case "sig":
			rec.Signal, err = parseNum(val)
		case "src":
			for _, part := range strings.Split(val, "+") {
				var src int
				if src, err = parseNum(part); err != nil {
					break
				}
				rec.Sources = append(rec.Sources, src)
			}
		case "sync":
			rec.SyncFrom = val
		case "op":
			rec.Op = val
		case "rep":
			rec.Rep, err = parseNum(val)
		case "pos":
			rec.Pos, err = parseNum(val)
		case "val":
			rec.Val = val
		case "time":
			rec.Time, err = strconv.ParseInt(val, 10, 64)
		case "execs":
			rec.Execs, err = strconv.ParseInt(val, 10, 64)
		case "+cov":
			rec.NewCov = true
		case "orig":
			// original seed names may themselves contain commas
			rec.Orig = strings.Join(append([]string{val}, tokens[i+1:]...), ",")
		}
		if err != nil {
			return nil, &types.ParseError{Name: name, Reason: fmt.Sprintf("bad %s value %q", key, val)}
		}
		if key == "orig" {
			break
		}
	}
	return rec, nil
}

// idTokenStart finds the "id:" token that starts the AFL part of the name.
func idTokenStart(name string) int {
	for i := 0; i+3 <= len(name); i++ {
		if !strings.HasPrefix(name[i:], "id:") {
			continue
		}
		if i == 0 || name[i-1] == ':' || name[i-1] == ',' {
			return i
		}
	}
	return -1
}

func parseNum(val string) (int, error) {
	if val == "" {
		return 0, strconv.ErrSyntax
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
