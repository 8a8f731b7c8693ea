package filelist

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/dsnet/compress/bzip2"
	stdbzip2 "compress/bzip2"

	"github.com/kprimus/dcshare/internal/tth"
)

// maxNestingDepth bounds files.xml directory nesting, per spec.md §4.5's
// defense against adversarial/corrupt lists.
const maxNestingDepth = 50

// SerializeXML renders root as an ADC-standard files.xml document: a
// <FileListing> wrapping nested <Directory>/<File> elements.
func SerializeXML(root *Node, cid string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	fmt.Fprintf(&buf, "<FileListing Version=\"1\" CID=%q Base=\"/\" Generator=\"dcshare\">\n", cid)
	for _, c := range root.SortedChildren() {
		writeNode(&buf, c, 1)
	}
	buf.WriteString("</FileListing>\n")
	return buf.Bytes(), nil
}

func writeNode(buf *bytes.Buffer, n *Node, depth int) {
	indent := bytes.Repeat([]byte("  "), depth)
	if n.IsDir {
		fmt.Fprintf(buf, "%s<Directory Name=%s Size=\"%d\">\n", indent, xmlAttr(n.Name), n.Size)
		for _, c := range n.SortedChildren() {
			writeNode(buf, c, depth+1)
		}
		fmt.Fprintf(buf, "%s</Directory>\n", indent)
		return
	}
	if n.HasTTH {
		fmt.Fprintf(buf, "%s<File Name=%s Size=\"%d\" TTH=%q/>\n", indent, xmlAttr(n.Name), n.Size, n.TTH.String())
	} else {
		fmt.Fprintf(buf, "%s<File Name=%s Size=\"%d\"/>\n", indent, xmlAttr(n.Name), n.Size)
	}
}

func xmlAttr(s string) string {
	var buf bytes.Buffer
	buf.WriteByte('"')
	xml.EscapeText(&buf, []byte(s))
	buf.WriteByte('"')
	return buf.String()
}

// ParseXML parses a files.xml document (as produced by SerializeXML or by
// a peer's client) into a tree rooted at a fresh, unnamed root node.
//
// Per spec.md §4.5, the parser is deliberately tolerant of the quirks real
// clients emit, but rejects processing instructions, DTDs, and excessive
// nesting outright rather than attempting to interpret them.
func ParseXML(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.Entity = map[string]string{}

	root := NewRoot()
	stack := []*Node{root}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("filelist: xml parse error: %w", err)
		}
		switch t := tok.(type) {
		case xml.ProcInst:
			if t.Target != "xml" {
				return nil, fmt.Errorf("filelist: processing instructions are not permitted: %q", t.Target)
			}
		case xml.Directive:
			return nil, fmt.Errorf("filelist: DTD/directives are not permitted")
		case xml.StartElement:
			if len(stack) > maxNestingDepth {
				return nil, fmt.Errorf("filelist: nesting exceeds %d levels", maxNestingDepth)
			}
			switch t.Name.Local {
			case "FileListing":
				// top-level wrapper, nothing to link
			case "Directory":
				name := attrVal(t, "Name")
				parent := stack[len(stack)-1]
				dir, err := parent.AddDir(name)
				if err != nil {
					return nil, err
				}
				stack = append(stack, dir)
			case "File":
				name := attrVal(t, "Name")
				sizeStr := attrVal(t, "Size")
				size, err := strconv.ParseUint(sizeStr, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("filelist: invalid Size %q on file %q: %w", sizeStr, name, err)
				}
				var h tth.Hash
				if ths := attrVal(t, "TTH"); ths != "" {
					h, err = tth.ParseHash(ths)
					if err != nil {
						return nil, fmt.Errorf("filelist: invalid TTH on file %q: %w", name, err)
					}
				}
				parent := stack[len(stack)-1]
				if _, err := parent.AddFile(name, size, h); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			if t.Name.Local == "Directory" {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("filelist: unbalanced directory nesting")
	}
	return root, nil
}

func attrVal(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// CompressBzip2 bzip2-compresses a files.xml document for transfer as
// files.xml.bz2, per spec.md §4.5. Writing uses dsnet/compress/bzip2
// because the standard library's compress/bzip2 package is read-only.
func CompressBzip2(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plain); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressBzip2 reverses CompressBzip2, using the standard library
// reader since decoding needs no third-party support.
func DecompressBzip2(compressed []byte) ([]byte, error) {
	r := stdbzip2.NewReader(bytes.NewReader(compressed))
	return io.ReadAll(r)
}
