package extract

import (
	"bytes"
	"encoding/xml"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/jackzampolin/folio/internal/types"
)

// xmlNCX maps the EPUB 2 NCX navigation document.
type xmlNCX struct {
	NavMap struct {
		Points []xmlNavPoint `xml:"navPoint"`
	} `xml:"navMap"`
}

type xmlNavPoint struct {
	Label struct {
		Text string `xml:"text"`
	} `xml:"navLabel"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []xmlNavPoint `xml:"navPoint"`
}

// outline extracts the navigation tree. It prefers the EPUB 3 nav document,
// falls back to the EPUB 2 NCX, and reports whether either was present.
func (d *epubDoc) outline() ([]types.OutlineEntry, bool) {
	if entries := d.navOutline(); len(entries) > 0 {
		return entries, true
	}
	if entries := d.ncxOutline(); len(entries) > 0 {
		return entries, true
	}
	return nil, false
}

// ncxOutline parses the NCX referenced by the spine toc attribute.
func (d *epubDoc) ncxOutline() []types.OutlineEntry {
	var href string
	if it, ok := d.manifestByID[d.pkg.Spine.Toc]; ok {
		href = it.Href
	} else {
		for _, it := range d.pkg.Manifest.Items {
			if it.MediaType == "application/x-dtbncx+xml" {
				href = it.Href
				break
			}
		}
	}
	if href == "" {
		return nil
	}

	data, err := d.readFile(d.resolve(href))
	if err != nil {
		return nil
	}
	var ncx xmlNCX
	if err := xml.Unmarshal(data, &ncx); err != nil {
		return nil
	}
	return d.convertNavPoints(ncx.NavMap.Points, path.Dir(d.resolve(href)))
}

func (d *epubDoc) convertNavPoints(points []xmlNavPoint, baseDir string) []types.OutlineEntry {
	entries := make([]types.OutlineEntry, 0, len(points))
	for _, p := range points {
		entry := types.OutlineEntry{
			Title:    strings.TrimSpace(p.Label.Text),
			Href:     d.opfRelative(p.Content.Src, baseDir),
			Children: d.convertNavPoints(p.Children, baseDir),
		}
		if entry.Title == "" && entry.Href == "" && len(entry.Children) == 0 {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// navOutline parses the EPUB 3 nav document (manifest properties "nav").
func (d *epubDoc) navOutline() []types.OutlineEntry {
	var navItem *xmlManifestItem
	for i, it := range d.pkg.Manifest.Items {
		for _, prop := range strings.Fields(it.Properties) {
			if prop == "nav" {
				navItem = &d.pkg.Manifest.Items[i]
				break
			}
		}
		if navItem != nil {
			break
		}
	}
	if navItem == nil {
		return nil
	}

	data, err := d.readFile(d.resolve(navItem.Href))
	if err != nil {
		return nil
	}
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	nav := findTocNav(root)
	if nav == nil {
		return nil
	}
	baseDir := path.Dir(d.resolve(navItem.Href))
	if ol := findChild(nav, atom.Ol); ol != nil {
		return d.convertNavList(ol, baseDir)
	}
	return nil
}

// findTocNav locates <nav epub:type="toc">, or the first <nav> when no
// epub:type attribute is present.
func findTocNav(n *html.Node) *html.Node {
	var firstNav, tocNav *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if tocNav != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Nav {
			if firstNav == nil {
				firstNav = n
			}
			for _, a := range n.Attr {
				if strings.HasSuffix(a.Key, "type") && a.Val == "toc" {
					tocNav = n
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	if tocNav != nil {
		return tocNav
	}
	return firstNav
}

func findChild(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
	}
	return nil
}

// convertNavList converts an <ol> of <li><a href>title</a><ol>...</ol></li>.
func (d *epubDoc) convertNavList(ol *html.Node, baseDir string) []types.OutlineEntry {
	var entries []types.OutlineEntry
	for li := ol.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			continue
		}
		var entry types.OutlineEntry
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.A, atom.Span:
				if entry.Title == "" {
					entry.Title = strings.TrimSpace(nodeText(c))
				}
				if c.DataAtom == atom.A {
					for _, a := range c.Attr {
						if a.Key == "href" {
							entry.Href = d.opfRelative(a.Val, baseDir)
						}
					}
				}
			case atom.Ol:
				entry.Children = d.convertNavList(c, baseDir)
			}
		}
		if entry.Title != "" || entry.Href != "" || len(entry.Children) > 0 {
			entries = append(entries, entry)
		}
	}
	return entries
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// opfRelative converts an href found in a navigation document into the same
// OPF-relative form used by manifest items, preserving any fragment.
func (d *epubDoc) opfRelative(src, baseDir string) string {
	parts := strings.SplitN(src, "#", 2)
	p := parts[0]
	if p != "" {
		full := path.Join(baseDir, p)
		if d.opfDir != "" {
			p = strings.TrimPrefix(full, d.opfDir+"/")
		} else {
			p = full
		}
	}
	if len(parts) == 2 {
		return p + "#" + parts[1]
	}
	return p
}
