// Package xhtml parses a single XHTML file into a DOM, enumerates its
// translatable text nodes, and serializes the DOM back to bytes while
// preserving the shapes EPUB readers and epubcheck expect (self-closing
// spans, void elements, &nbsp;).
package xhtml

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// selfClosingSpan matches a self-closing <span ...../> tag so it can be
// expanded to <span .....></span> before handing the bytes to the HTML-mode
// parser. golang.org/x/net/html, like every other HTML5 tokenizer, treats
// "/>" on a non-void element as a regular (unterminated) open tag and drops
// the shorthand, so without this rewrite epub:type="pagebreak" spans and
// similar self-closing markers lose their attributes.
var selfClosingSpan = regexp.MustCompile(`<span([^>]*?)/>`)

// voidElements is the set of elements that must be serialized with a
// self-closing slash to stay valid inside XHTML.
var voidElements = map[string]bool{
	"br": true, "hr": true, "img": true, "input": true, "link": true, "meta": true,
}

// Document is the parsed DOM of one XHTML file plus its filesystem path.
type Document struct {
	Path string
	root *html.Node // synthetic document node
}

// Parse parses the UTF-8 byte stream of one XHTML file into a Document
// rooted at a synthetic document node whose first child is the <html>
// element.
func Parse(path string, r io.Reader) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw = selfClosingSpan.ReplaceAll(raw, []byte("<span$1></span>"))

	root, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return &Document{Path: path, root: root}, nil
}

// HTML returns the parsed <html> element, the first (and only) element
// child of the synthetic document node.
func (d *Document) HTML() *html.Node {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Html {
			return c
		}
	}
	return d.root.FirstChild
}

// TextNode is a handle to a text leaf inside a Document. Its Node field can
// be mutated in place by a single writer; nothing about TextNode itself is
// safe for concurrent mutation.
type TextNode struct {
	Node *html.Node
}

// Text returns the current text content of the node.
func (t TextNode) Text() string {
	return t.Node.Data
}

// SetText overwrites the node's text content in place.
func (t TextNode) SetText(s string) {
	t.Node.Data = s
}

// TextNodes performs a depth-first, pre-order traversal from root and
// returns every descendant text node, skipping the contents of any <style>
// element wholesale. The order is stable for a given parse but the pipeline
// that consumes it relies only on each handle's identity, not on this order
// being meaningful across documents.
func TextNodes(root *html.Node) []TextNode {
	var out []TextNode
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Style {
			return
		}
		if n.Type == html.TextNode {
			out = append(out, TextNode{Node: n})
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

// Serialize renders each child of the document node (i.e. the <html>
// element) through a spec-compliant HTML serializer, then applies the
// post-serialization textual fix-ups that approximate an XHTML round trip:
// void elements get a self-closing slash, &nbsp; becomes a literal U+00A0,
// and empty <span></span> becomes <span/>.
func (d *Document) Serialize(w io.Writer) error {
	var buf bytes.Buffer
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return err
		}
	}
	out := fixupSerialized(buf.String())
	_, err := io.WriteString(w, out)
	return err
}

var (
	nbsp           = " "
	emptySpanRegex = regexp.MustCompile(`<span([^>]*?)></span>`)
)

func fixupSerialized(s string) string {
	s = strings.ReplaceAll(s, "&nbsp;", nbsp)
	s = closeVoidElements(s)
	s = emptySpanRegex.ReplaceAllString(s, "<span$1/>")
	return s
}

// closeVoidElements rewrites "<elt ...>" to "<elt .../>" for every void
// element html.Render emits without a trailing slash.
func closeVoidElements(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		lt := strings.IndexByte(s[i:], '<')
		if lt < 0 {
			b.WriteString(s[i:])
			break
		}
		lt += i
		b.WriteString(s[i:lt])

		gt := strings.IndexByte(s[lt:], '>')
		if gt < 0 {
			b.WriteString(s[lt:])
			break
		}
		gt += lt

		tag := s[lt : gt+1]
		if name, ok := voidElementName(tag); ok && voidElements[name] {
			if strings.HasSuffix(strings.TrimSpace(tag[:len(tag)-1]), "/") {
				b.WriteString(tag)
			} else {
				b.WriteString(tag[:len(tag)-1])
				b.WriteString("/>")
			}
		} else {
			b.WriteString(tag)
		}
		i = gt + 1
	}
	return b.String()
}

func voidElementName(tag string) (string, bool) {
	if len(tag) < 2 || tag[0] != '<' {
		return "", false
	}
	rest := tag[1:]
	if len(rest) > 0 && rest[0] == '/' {
		return "", false
	}
	end := 0
	for end < len(rest) && rest[end] != ' ' && rest[end] != '>' && rest[end] != '\t' && rest[end] != '\n' && rest[end] != '/' {
		end++
	}
	return strings.ToLower(rest[:end]), true
}
