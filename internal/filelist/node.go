// Package filelist implements the hierarchical share description of
// spec.md §3 (FileListNode) and §4.5: a directory tree with aggregate
// sizes, case-insensitive-unique children, and XML serialization of the
// ADC-standard files.xml format. The server-side search matcher lives in
// internal/search.
package filelist

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kprimus/dcshare/internal/tth"
)

// Node is a directory or file in a share tree. Child lists own their
// children; parent is a non-owning back-reference (spec.md §9's guidance
// against owning cycles).
type Node struct {
	Name     string
	IsDir    bool
	Parent   *Node
	Children []*Node
	Size     uint64 // aggregate for directories, file size for files
	TTH      tth.Hash
	HasTTH   bool
	ModTime  time.Time
	LocalID  string

	byLowerName map[string]*Node
}

// NewRoot returns a new, empty root directory node. Per spec.md §3, the
// local file list has exactly one root with an empty name.
func NewRoot() *Node {
	return &Node{IsDir: true, byLowerName: make(map[string]*Node)}
}

// validName rejects ".", "..", "/", and names over 63 bytes, per spec.md
// §4.5.
func validName(name string) error {
	if name == "" {
		return fmt.Errorf("filelist: empty name")
	}
	if len(name) > 63 {
		return fmt.Errorf("filelist: name %q exceeds 63 bytes", name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("filelist: name %q is reserved", name)
	}
	if strings.ContainsRune(name, '/') {
		return fmt.Errorf("filelist: name %q contains '/'", name)
	}
	return nil
}

// AddDir creates and links a new subdirectory under d.
func (d *Node) AddDir(name string) (*Node, error) {
	if err := d.checkAddable(name); err != nil {
		return nil, err
	}
	child := &Node{Name: name, IsDir: true, Parent: d, byLowerName: make(map[string]*Node)}
	d.link(child)
	return child, nil
}

// AddFile creates and links a new file under d, updating the aggregate
// size of d and every ancestor.
func (d *Node) AddFile(name string, size uint64, h tth.Hash) (*Node, error) {
	if err := d.checkAddable(name); err != nil {
		return nil, err
	}
	child := &Node{Name: name, IsDir: false, Parent: d, Size: size, TTH: h, HasTTH: true}
	d.link(child)
	d.addSize(int64(size))
	return child, nil
}

func (d *Node) checkAddable(name string) error {
	if !d.IsDir {
		return fmt.Errorf("filelist: %q is not a directory", d.Name)
	}
	if err := validName(name); err != nil {
		return err
	}
	if _, exists := d.byLowerName[strings.ToLower(name)]; exists {
		return fmt.Errorf("filelist: %q already exists under %q (case-insensitive)", name, d.Name)
	}
	return nil
}

func (d *Node) link(child *Node) {
	d.Children = append(d.Children, child)
	d.byLowerName[strings.ToLower(child.Name)] = child
}

// Remove unlinks child from its parent, updating aggregate sizes of every
// ancestor.
func (d *Node) Remove(child *Node) {
	lower := strings.ToLower(child.Name)
	if _, ok := d.byLowerName[lower]; !ok {
		return
	}
	delete(d.byLowerName, lower)
	for i, c := range d.Children {
		if c == child {
			d.Children = append(d.Children[:i], d.Children[i+1:]...)
			break
		}
	}
	if !child.IsDir {
		d.addSize(-int64(child.Size))
	} else {
		d.addSize(-int64(child.Size))
	}
	child.Parent = nil
}

func (d *Node) addSize(delta int64) {
	for n := d; n != nil; n = n.Parent {
		if delta < 0 {
			n.Size -= uint64(-delta)
		} else {
			n.Size += uint64(delta)
		}
	}
}

// Get looks up a direct child by case-insensitive name.
func (d *Node) Get(name string) (*Node, bool) {
	n, ok := d.byLowerName[strings.ToLower(name)]
	return n, ok
}

// Lookup resolves a '/'-separated path, case-insensitively, from d.
func (d *Node) Lookup(path string) (*Node, bool) {
	cur := d
	if path == "" {
		return d, true
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		if !cur.IsDir {
			return nil, false
		}
		next, ok := cur.Get(part)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Path renders the '/'-separated path from the root to n (exclusive of the
// empty root name).
func (n *Node) Path() string {
	var parts []string
	for cur := n; cur != nil && cur.Parent != nil; cur = cur.Parent {
		parts = append(parts, cur.Name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// SortedChildren returns Children sorted case-insensitively with a
// case-sensitive tiebreak, per spec.md §4.5 ("sort order is
// case-insensitive with case-sensitive tiebreak so the serialization is
// deterministic").
func (d *Node) SortedChildren() []*Node {
	out := make([]*Node, len(d.Children))
	copy(out, d.Children)
	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if li != lj {
			return li < lj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// EqualStructure reports whether n and other describe the same tree, up to
// case-insensitive name comparison (used by the files.xml round-trip test
// in spec.md §8).
func (n *Node) EqualStructure(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.IsDir != other.IsDir {
		return false
	}
	if !n.IsDir {
		return n.Size == other.Size && n.TTH == other.TTH
	}
	if len(n.Children) != len(other.Children) {
		return false
	}
	a, b := n.SortedChildren(), other.SortedChildren()
	for i := range a {
		if !strings.EqualFold(a[i].Name, b[i].Name) {
			return false
		}
		if !a[i].EqualStructure(b[i]) {
			return false
		}
	}
	return true
}

// FindByTTH searches the tree for a file whose content hash is h, used by
// C3's local file root lookup (spec.md §2's data flow).
func (n *Node) FindByTTH(h tth.Hash) (*Node, bool) {
	if !n.IsDir {
		if n.HasTTH && n.TTH == h {
			return n, true
		}
		return nil, false
	}
	for _, c := range n.Children {
		if found, ok := c.FindByTTH(h); ok {
			return found, true
		}
	}
	return nil, false
}
