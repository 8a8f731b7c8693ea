// Package search compiles a SearchQuery (spec.md §3, §4.5) into a
// predicate against a filelist.Node tree and walks the tree collecting
// matches, propagating "must-include" terms down the ancestor chain the
// way real DC clients do.
package search

import (
	"regexp"
	"strings"

	"github.com/kprimus/dcshare/internal/filelist"
	"github.com/kprimus/dcshare/internal/tth"
)

// Kind is the type-tag restriction of a search, per spec.md §3's
// SearchQuery.
type Kind int

const (
	KindAny Kind = iota
	KindAudio
	KindArchive
	KindDoc
	KindExe
	KindImage
	KindVideo
	KindDir
	KindTTH
)

var kindExtensions = map[Kind][]string{
	KindAudio:   {".mp3", ".flac", ".ogg", ".wav", ".m4a", ".ape", ".wma"},
	KindArchive: {".zip", ".rar", ".7z", ".tar", ".gz", ".bz2"},
	KindDoc:     {".txt", ".pdf", ".doc", ".docx", ".nfo"},
	KindExe:     {".exe", ".msi"},
	KindImage:   {".jpg", ".jpeg", ".png", ".gif", ".bmp"},
	KindVideo:   {".avi", ".mkv", ".mp4", ".mpg", ".mpeg", ".wmv"},
}

// SizeOp is the size-comparison restriction of a search.
type SizeOp int

const (
	SizeAny SizeOp = iota
	SizeAtMost
	SizeAtLeast
	SizeEqual
)

// Query is a compiled search request, ready to be matched against a
// filelist tree via Match.
type Query struct {
	Kind     Kind
	SizeOp   SizeOp
	SizeBand uint64
	TTH      tth.Hash // used only when Kind == KindTTH
	Must     []*regexp.Regexp
	MustNot  []*regexp.Regexp
	Max      int
}

// Result is a single matched node along with its full path.
type Result struct {
	Node *filelist.Node
	Path string
}

// Compile builds a Query from raw search terms. mustTerms and
// mustNotTerms are plain substrings; each is matched case-insensitively as
// a substring, per spec.md §4.5.
func Compile(kind Kind, sizeOp SizeOp, sizeBand uint64, mustTerms, mustNotTerms []string, max int) (*Query, error) {
	q := &Query{Kind: kind, SizeOp: sizeOp, SizeBand: sizeBand, Max: max}
	for _, term := range mustTerms {
		re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(term))
		if err != nil {
			return nil, err
		}
		q.Must = append(q.Must, re)
	}
	for _, term := range mustNotTerms {
		re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(term))
		if err != nil {
			return nil, err
		}
		q.MustNot = append(q.MustNot, re)
	}
	return q, nil
}

// Match walks root, returning at most q.Max matches.
func (q *Query) Match(root *filelist.Node) []Result {
	var out []Result
	q.walk(root, "", q.Must, &out)
	return out
}

func (q *Query) walk(n *filelist.Node, path string, pending []*regexp.Regexp, out *[]Result) {
	if len(*out) >= q.Max {
		return
	}
	childPending := pending
	if n.Parent != nil { // skip the synthetic root
		var stillPending []*regexp.Regexp
		for _, re := range pending {
			if re.MatchString(n.Name) {
				continue
			}
			stillPending = append(stillPending, re)
		}
		childPending = stillPending

		if q.nodeMatches(n, path, len(stillPending) == 0) {
			*out = append(*out, Result{Node: n, Path: path})
			if len(*out) >= q.Max {
				return
			}
		}
	}
	if n.IsDir {
		for _, c := range n.SortedChildren() {
			childPath := c.Name
			if path != "" {
				childPath = path + "/" + c.Name
			}
			q.walk(c, childPath, childPending, out)
			if len(*out) >= q.Max {
				return
			}
		}
	}
}

// nodeMatches evaluates the non-term predicates (size, kind mask,
// extension, must-not) and combines them with the already-determined
// must-include satisfaction (allMustSatisfied).
func (q *Query) nodeMatches(n *filelist.Node, path string, allMustSatisfied bool) bool {
	if !allMustSatisfied {
		return false
	}
	if q.Kind == KindDir {
		if !n.IsDir {
			return false
		}
	} else if n.IsDir {
		return false
	}

	if q.Kind == KindTTH {
		return !n.IsDir && n.HasTTH && n.TTH == q.TTH
	}

	if !n.IsDir {
		switch q.SizeOp {
		case SizeAtMost:
			if n.Size > q.SizeBand {
				return false
			}
		case SizeAtLeast:
			if n.Size < q.SizeBand {
				return false
			}
		case SizeEqual:
			if n.Size != q.SizeBand {
				return false
			}
		}
		if exts, ok := kindExtensions[q.Kind]; ok {
			if !hasAnyExt(n.Name, exts) {
				return false
			}
		}
	}

	for _, re := range q.MustNot {
		if re.MatchString(n.Name) {
			return false
		}
	}
	return true
}

func hasAnyExt(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, e := range exts {
		if strings.HasSuffix(lower, e) {
			return true
		}
	}
	return false
}
