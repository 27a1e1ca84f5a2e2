// Package htmltext renders HTML fragments from feed items as plain text
// wrapped to a fixed column width.
package htmltext

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/kr/text"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultWidth is the column width stories are wrapped to.
const DefaultWidth = 200

// dropped elements never contribute text.
const dropped = "script, style, noscript, iframe, object, embed, svg, template"

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Header: true, atom.Footer: true, atom.Aside: true, atom.Nav: true,
	atom.Blockquote: true, atom.Figure: true, atom.Figcaption: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Table: true, atom.Tr: true, atom.Hr: true, atom.Address: true,
}

type paragraph struct {
	text     string
	verbatim bool
}

type renderer struct {
	paras []paragraph
	cur   strings.Builder
	space bool // last rune written was whitespace
	pre   int
}

// Transform converts an HTML fragment to plain text. Markup, link targets and
// scripts are discarded, paragraphs are separated by a blank line and each
// paragraph is wrapped to width columns. Content of <pre> is kept as is.
func Transform(fragment string, width int) (string, error) {
	if width <= 0 {
		width = DefaultWidth
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", err
	}
	doc.Find(dropped).Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	r := &renderer{}
	for _, n := range root.Nodes {
		r.walk(n)
	}
	r.flush()

	out := make([]string, 0, len(r.paras))
	for _, p := range r.paras {
		if p.verbatim {
			out = append(out, p.text)
			continue
		}
		out = append(out, wrap(p.text, width))
	}
	return strings.Join(out, "\n\n"), nil
}

func (r *renderer) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		r.writeText(n.Data)
		return
	case html.ElementNode:
	default:
		r.children(n)
		return
	}

	switch {
	case n.DataAtom == atom.Br:
		r.cur.WriteByte('\n')
		r.space = true
	case n.DataAtom == atom.Pre:
		r.flush()
		r.pre++
		r.children(n)
		r.pre--
		r.flushVerbatim()
	case n.DataAtom == atom.Li:
		r.flush()
		r.cur.WriteString("* ")
		r.space = true
		r.children(n)
		r.flush()
	case n.DataAtom == atom.Img:
		if alt, ok := attr(n, "alt"); ok && strings.TrimSpace(alt) != "" {
			r.writeText(alt)
		}
	case blocks[n.DataAtom]:
		r.flush()
		r.children(n)
		r.flush()
	default:
		r.children(n)
	}
}

func (r *renderer) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.walk(c)
	}
}

func (r *renderer) writeText(s string) {
	if r.pre > 0 {
		r.cur.WriteString(s)
		return
	}
	for _, ch := range s {
		if unicode.IsSpace(ch) {
			if !r.space && r.cur.Len() > 0 {
				r.cur.WriteByte(' ')
			}
			r.space = true
			continue
		}
		r.cur.WriteRune(ch)
		r.space = false
	}
}

func (r *renderer) flush() {
	s := strings.TrimSpace(r.cur.String())
	r.cur.Reset()
	r.space = false
	if s != "" {
		r.paras = append(r.paras, paragraph{text: s})
	}
}

func (r *renderer) flushVerbatim() {
	s := strings.Trim(r.cur.String(), "\n")
	r.cur.Reset()
	r.space = false
	if strings.TrimSpace(s) != "" {
		r.paras = append(r.paras, paragraph{text: s, verbatim: true})
	}
}

// wrap wraps each line of a paragraph separately so explicit breaks survive.
func wrap(s string, width int) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = text.Wrap(strings.TrimSpace(l), width)
	}
	return strings.Join(lines, "\n")
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
