package xhtml

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndTextNodes(t *testing.T) {
	src := `<html><body><p>Hello <b>world</b></p><style>p { color: red; }</style></body></html>`
	doc, err := Parse("book.xhtml", strings.NewReader(src))
	require.NoError(t, err)

	nodes := TextNodes(doc.HTML())
	var texts []string
	for _, n := range nodes {
		texts = append(texts, n.Text())
	}

	assert.Equal(t, []string{"Hello ", "world"}, texts)
}

func TestTextNodesSkipsStyleContents(t *testing.T) {
	src := `<html><head><style>body { font-family: "Should Not Appear"; }</style></head><body><p>Visible text</p></body></html>`
	doc, err := Parse("book.xhtml", strings.NewReader(src))
	require.NoError(t, err)

	nodes := TextNodes(doc.HTML())
	for _, n := range nodes {
		assert.NotContains(t, n.Text(), "Should Not Appear")
	}
}

func TestSetTextMutatesInPlace(t *testing.T) {
	src := `<html><body><p>original</p></body></html>`
	doc, err := Parse("book.xhtml", strings.NewReader(src))
	require.NoError(t, err)

	nodes := TextNodes(doc.HTML())
	require.Len(t, nodes, 1)
	nodes[0].SetText("translated")

	var buf strings.Builder
	require.NoError(t, doc.Serialize(&buf))
	assert.Contains(t, buf.String(), "translated")
	assert.NotContains(t, buf.String(), "original")
}

func TestSelfClosingSpanSurvivesRoundTrip(t *testing.T) {
	src := `<html><body><p>Page break<span epub:type="pagebreak" id="p1"/></p></body></html>`
	doc, err := Parse("book.xhtml", strings.NewReader(src))
	require.NoError(t, err)

	var buf strings.Builder
	require.NoError(t, doc.Serialize(&buf))
	assert.Contains(t, buf.String(), `<span epub:type="pagebreak" id="p1"/>`)
}

func TestVoidElementsSerializeSelfClosing(t *testing.T) {
	src := `<html><body><p>line<br>break</p><img src="a.png"></body></html>`
	doc, err := Parse("book.xhtml", strings.NewReader(src))
	require.NoError(t, err)

	var buf strings.Builder
	require.NoError(t, doc.Serialize(&buf))
	out := buf.String()
	assert.Contains(t, out, "<br/>")
	assert.Contains(t, out, `<img src="a.png"/>`)
}

func TestNbspBecomesLiteralByte(t *testing.T) {
	src := `<html><body><p>a&nbsp;b</p></body></html>`
	doc, err := Parse("book.xhtml", strings.NewReader(src))
	require.NoError(t, err)

	var buf strings.Builder
	require.NoError(t, doc.Serialize(&buf))
	assert.Contains(t, buf.String(), "a b")
	assert.NotContains(t, buf.String(), "&nbsp;")
}
