package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/jackzampolin/folio/internal/types"
)

const containerPath = "META-INF/container.xml"

// xmlContainer maps META-INF/container.xml.
type xmlContainer struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

// xmlPackage maps the OPF package document.
type xmlPackage struct {
	Version  string      `xml:"version,attr"`
	Metadata xmlMetadata `xml:"metadata"`
	Manifest struct {
		Items []xmlManifestItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Toc      string `xml:"toc,attr"`
		Itemrefs []struct {
			IDRef  string `xml:"idref,attr"`
			Linear string `xml:"linear,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type xmlMetadata struct {
	Titles      []string `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creators    []string `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Languages   []string `xml:"http://purl.org/dc/elements/1.1/ language"`
	Identifiers []string `xml:"http://purl.org/dc/elements/1.1/ identifier"`
	Publisher   string   `xml:"http://purl.org/dc/elements/1.1/ publisher"`
	Date        string   `xml:"http://purl.org/dc/elements/1.1/ date"`
	Description string   `xml:"http://purl.org/dc/elements/1.1/ description"`
	Subjects    []string `xml:"http://purl.org/dc/elements/1.1/ subject"`
	Metas       []struct {
		Name    string `xml:"name,attr"`
		Content string `xml:"content,attr"`
	} `xml:"meta"`
}

type xmlManifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

// epubDoc holds parsing state for a single EPUB archive.
type epubDoc struct {
	files  map[string]*zip.File
	opfDir string
	pkg    *xmlPackage

	manifestByID map[string]xmlManifestItem
}

func (e *Extractor) extractEPUB(ctx context.Context, data []byte, progress ProgressFunc) (*types.Book, error) {
	progress("parsing", 5)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ExtractionError{Kind: "epub", Op: "open archive", Err: err}
	}

	doc := &epubDoc{files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		doc.files[path.Clean(f.Name)] = f
	}

	opfPath, err := doc.findOPF()
	if err != nil {
		return nil, &ExtractionError{Kind: "epub", Op: "locate package document", Err: err}
	}
	doc.opfDir = path.Dir(opfPath)
	if doc.opfDir == "." {
		doc.opfDir = ""
	}

	opfData, err := doc.readFile(opfPath)
	if err != nil {
		return nil, &ExtractionError{Kind: "epub", Op: "read package document", Err: err}
	}
	var pkg xmlPackage
	if err := xml.Unmarshal(opfData, &pkg); err != nil {
		return nil, &ExtractionError{Kind: "epub", Op: "parse package document", Err: err}
	}
	doc.pkg = &pkg
	doc.manifestByID = make(map[string]xmlManifestItem, len(pkg.Manifest.Items))
	for _, it := range pkg.Manifest.Items {
		doc.manifestByID[it.ID] = it
	}

	book := &types.Book{
		Kind:        types.KindEPUB,
		Metadata:    doc.metadata(),
		ProcessedAt: nowUTC(),
	}

	progress("parsing", 20)

	// Spine order is the linear reading order.
	total := len(pkg.Spine.Itemrefs)
	for i, ref := range pkg.Spine.Itemrefs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, ok := doc.manifestByID[ref.IDRef]
		if !ok || !isContentDocument(item) {
			continue
		}

		ch := types.Chapter{
			ID:    item.ID,
			Href:  item.Href,
			Title: fmt.Sprintf("Section %d", len(book.Chapters)+1),
			Order: len(book.Chapters),
		}

		raw, err := doc.readFile(doc.resolve(item.Href))
		if err != nil {
			// Degrade this unit, keep the rest of the book.
			ch.Degraded = true
			ch.DegradedReason = fmt.Sprintf("chapter %s could not be read: %v", item.Href, err)
			e.logger.Warn("degrading unreadable chapter", "href", item.Href, "error", err)
		} else {
			text, err := extractText(raw)
			if err != nil {
				// Malformed markup: fall back to raw tag stripping.
				text = stripTags(raw)
			}
			ch.Text = collapseWhitespace(text)
			ch.WordCount = countWords(ch.Text)
		}

		book.Chapters = append(book.Chapters, ch)
		if total > 0 {
			progress("parsing", 20+60*(i+1)/total)
		}
	}

	if len(book.Chapters) == 0 {
		return nil, &ExtractionError{Kind: "epub", Op: "read spine", Err: fmt.Errorf("no content documents in spine")}
	}

	progress("finalizing", 85)

	// Navigation: EPUB3 nav document, then NCX, then flat spine fallback.
	outline, native := doc.outline()
	book.Outline = outline
	book.HasNativeOutline = native
	if !native {
		book.Outline = fallbackOutline(book.Chapters)
	}
	assignChapterTitles(book)

	// Cover image.
	if cover, asset := doc.coverImage(); cover != "" {
		book.CoverImage = cover
		book.Assets = append(book.Assets, asset)
	}

	for _, ch := range book.Chapters {
		book.TotalWords += ch.WordCount
	}

	progress("finalizing", 100)
	return book, nil
}

// findOPF parses container.xml for the package document path.
func (d *epubDoc) findOPF() (string, error) {
	data, err := d.readFile(containerPath)
	if err != nil {
		return "", fmt.Errorf("missing %s: %w", containerPath, err)
	}
	var c xmlContainer
	if err := xml.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("parse container.xml: %w", err)
	}
	for _, rf := range c.Rootfiles {
		if rf.FullPath != "" {
			return path.Clean(rf.FullPath), nil
		}
	}
	return "", fmt.Errorf("container.xml has no rootfile")
}

// readFile reads a single archive entry by cleaned path.
func (d *epubDoc) readFile(name string) ([]byte, error) {
	f, ok := d.files[path.Clean(name)]
	if !ok {
		// Some archives mix URL-escaped and literal names.
		if unescaped, err := url.PathUnescape(name); err == nil {
			f, ok = d.files[path.Clean(unescaped)]
		}
		if !ok {
			return nil, fmt.Errorf("file not found in archive: %s", name)
		}
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// resolve joins an OPF-relative href onto the OPF directory.
func (d *epubDoc) resolve(href string) string {
	href = strings.SplitN(href, "#", 2)[0]
	if d.opfDir == "" {
		return href
	}
	return path.Join(d.opfDir, href)
}

func (d *epubDoc) metadata() types.Metadata {
	m := d.pkg.Metadata
	md := types.Metadata{
		Language:    first(m.Languages),
		Authors:     m.Creators,
		Description: m.Description,
		Publisher:   m.Publisher,
		Date:        m.Date,
		Identifiers: m.Identifiers,
		Subjects:    m.Subjects,
	}
	md.Title = first(m.Titles)
	if md.Title == "" {
		md.Title = "Untitled"
	}
	if md.Language == "" {
		md.Language = "en"
	}
	return md
}

// coverImage locates the cover using, in order: a manifest item with the
// cover-image property (EPUB 3), the meta[name=cover] manifest reference
// (EPUB 2), a filename heuristic, and finally the first image in the
// manifest. Returns the asset-relative path and the asset itself.
func (d *epubDoc) coverImage() (string, types.Asset) {
	var candidate *xmlManifestItem

	for i, it := range d.pkg.Manifest.Items {
		if strings.Contains(it.Properties, "cover-image") {
			candidate = &d.pkg.Manifest.Items[i]
			break
		}
	}
	if candidate == nil {
		for _, meta := range d.pkg.Metadata.Metas {
			if strings.EqualFold(meta.Name, "cover") {
				if it, ok := d.manifestByID[meta.Content]; ok && isImage(it) {
					candidate = &it
				}
				break
			}
		}
	}
	if candidate == nil {
		for i, it := range d.pkg.Manifest.Items {
			if isImage(it) && strings.Contains(strings.ToLower(it.Href), "cover") {
				candidate = &d.pkg.Manifest.Items[i]
				break
			}
		}
	}
	if candidate == nil {
		for i, it := range d.pkg.Manifest.Items {
			if isImage(it) {
				candidate = &d.pkg.Manifest.Items[i]
				break
			}
		}
	}
	if candidate == nil {
		return "", types.Asset{}
	}

	data, err := d.readFile(d.resolve(candidate.Href))
	if err != nil {
		return "", types.Asset{}
	}
	name := sanitizeFilename(path.Base(candidate.Href))
	if name == "" {
		name = "cover.jpg"
	}
	rel := "images/" + name
	return rel, types.Asset{RelPath: rel, Data: data}
}

func isContentDocument(it xmlManifestItem) bool {
	switch it.MediaType {
	case "application/xhtml+xml", "text/html":
		return true
	}
	href := strings.ToLower(it.Href)
	return strings.HasSuffix(href, ".xhtml") || strings.HasSuffix(href, ".html") || strings.HasSuffix(href, ".htm")
}

func isImage(it xmlManifestItem) bool {
	return strings.HasPrefix(it.MediaType, "image/")
}

// sanitizeFilename keeps characters that are safe on every filesystem.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), ".")
}

func first(ss []string) string {
	if len(ss) > 0 {
		return ss[0]
	}
	return ""
}

// fallbackOutline builds a flat navigation list from the chapter sequence.
func fallbackOutline(chapters []types.Chapter) []types.OutlineEntry {
	out := make([]types.OutlineEntry, 0, len(chapters))
	for _, ch := range chapters {
		title := ch.Title
		if title == "" {
			title = ch.Href
		}
		out = append(out, types.OutlineEntry{Title: title, Href: ch.Href})
	}
	return out
}

// assignChapterTitles copies the first outline title pointing at each
// chapter's href onto the chapter. Fallback "Section N" titles remain for
// chapters the navigation never references.
func assignChapterTitles(book *types.Book) {
	byHref := make(map[string]string)
	var walk func(entries []types.OutlineEntry)
	walk = func(entries []types.OutlineEntry) {
		for _, e := range entries {
			href := strings.SplitN(e.Href, "#", 2)[0]
			if _, seen := byHref[href]; !seen && e.Title != "" {
				byHref[href] = e.Title
			}
			walk(e.Children)
		}
	}
	walk(book.Outline)

	for i := range book.Chapters {
		if t, ok := byHref[book.Chapters[i].Href]; ok {
			book.Chapters[i].Title = t
		}
	}
}
