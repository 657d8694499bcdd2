package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/jackzampolin/folio/internal/types"
)

func (e *Extractor) extractPDF(ctx context.Context, data []byte, progress ProgressFunc) (*types.Book, error) {
	progress("parsing", 5)

	// Relaxed validation matches what real-world PDFs need.
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pageCount, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, &ExtractionError{Kind: "pdf", Op: "open document", Err: err}
	}
	if pageCount == 0 {
		return nil, &ExtractionError{Kind: "pdf", Op: "open document", Err: fmt.Errorf("document has no pages")}
	}

	r, err := openPDF(data)
	if err != nil {
		return nil, &ExtractionError{Kind: "pdf", Op: "parse document", Err: err}
	}
	if n := r.NumPage(); n < pageCount {
		pageCount = n
	}

	book := &types.Book{
		Kind:        types.KindPDF,
		Metadata:    pdfMetadata(r),
		ProcessedAt: nowUTC(),
	}

	degraded := 0
	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ch, ok := e.extractPDFPage(r, i)
		if !ok {
			degraded++
		}
		book.Chapters = append(book.Chapters, ch)
		progress("parsing", 5+55*i/pageCount)
	}
	if degraded == pageCount {
		return nil, &ExtractionError{Kind: "pdf", Op: "extract pages", Err: fmt.Errorf("all %d pages failed to parse", pageCount)}
	}
	if degraded > 0 {
		e.logger.Warn("pdf pages degraded to placeholders", "degraded", degraded, "total", pageCount)
	}

	// Navigation: native outline, else flat page list.
	book.Outline = pdfOutline(r, pageCount)
	book.HasNativeOutline = len(book.Outline) > 0
	if !book.HasNativeOutline {
		book.Outline = fallbackOutline(book.Chapters)
	}

	if e.opts.RenderImages {
		if err := e.renderPages(ctx, data, book, progress); err != nil {
			// Rendering is best-effort: a book without page images is
			// still readable through extracted text.
			e.logger.Warn("page rendering unavailable", "error", err)
		}
	}

	progress("finalizing", 95)
	for _, ch := range book.Chapters {
		book.TotalWords += ch.WordCount
	}
	progress("finalizing", 100)
	return book, nil
}

// openPDF converts the reader library's internal panics on malformed
// cross-reference structures into errors.
func openPDF(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

// extractPDFPage extracts one page. A page that cannot be parsed is replaced
// with a placeholder carrying an explanatory reason and a zero word count;
// ok reports whether real content was extracted.
func (e *Extractor) extractPDFPage(r *pdf.Reader, num int) (ch types.Chapter, ok bool) {
	ch = types.Chapter{
		ID:    fmt.Sprintf("page_%d", num),
		Href:  fmt.Sprintf("page_%d", num),
		Title: fmt.Sprintf("Page %d", num),
		Order: num - 1,
	}

	defer func() {
		if rec := recover(); rec != nil {
			ch.Text = ""
			ch.WordCount = 0
			ch.Degraded = true
			ch.DegradedReason = fmt.Sprintf("page %d could not be parsed: %v", num, rec)
			ok = false
		}
	}()

	p := r.Page(num)
	if p.V.IsNull() {
		ch.Degraded = true
		ch.DegradedReason = fmt.Sprintf("page %d is missing from the page tree", num)
		return ch, false
	}

	text, err := p.GetPlainText(nil)
	if err != nil {
		ch.Degraded = true
		ch.DegradedReason = fmt.Sprintf("page %d could not be parsed: %v", num, err)
		return ch, false
	}
	ch.Text = collapseWhitespace(text)
	ch.WordCount = countWords(ch.Text)

	if box := p.V.Key("MediaBox"); box.Kind() == pdf.Array && box.Len() == 4 {
		ch.Width = box.Index(2).Float64() - box.Index(0).Float64()
		ch.Height = box.Index(3).Float64() - box.Index(1).Float64()
	}
	ch.Rotation = int(p.V.Key("Rotate").Int64())
	ch.Words = pageWords(p)
	ch.Annotations = pageAnnotations(p, num-1)

	return ch, true
}

// pageWords groups the page's positioned text fragments into words with
// bounding boxes for search highlighting.
func pageWords(p pdf.Page) []types.Word {
	content := p.Content()
	if len(content.Text) == 0 {
		return nil
	}

	var words []types.Word
	var cur *types.Word
	flush := func() { cur = nil }

	for _, t := range content.Text {
		s := t.S
		if strings.TrimSpace(s) == "" {
			flush()
			continue
		}
		x0, y0 := t.X, t.Y
		x1, y1 := t.X+t.W, t.Y+t.FontSize

		// Continue the current word when the fragment sits on the same
		// baseline and starts close to where the last one ended.
		if cur != nil && sameBaseline(cur.Rect[1], y0) && x0-cur.Rect[2] < t.FontSize/2 && x0 >= cur.Rect[0] {
			cur.Text += s
			if x1 > cur.Rect[2] {
				cur.Rect[2] = x1
			}
			if y1 > cur.Rect[3] {
				cur.Rect[3] = y1
			}
			continue
		}

		words = append(words, types.Word{Text: s, Rect: [4]float64{x0, y0, x1, y1}})
		cur = &words[len(words)-1]
	}
	return words
}

func sameBaseline(a, b float64) bool {
	d := a - b
	return d > -0.5 && d < 0.5
}

// pageAnnotations extracts native annotations from the page's /Annots array.
func pageAnnotations(p pdf.Page, pageIdx int) []types.Annotation {
	annots := p.V.Key("Annots")
	if annots.Kind() != pdf.Array {
		return nil
	}

	var result []types.Annotation
	for i := 0; i < annots.Len(); i++ {
		a := annots.Index(i)
		if a.Kind() != pdf.Dict {
			continue
		}
		subtype := a.Key("Subtype").Name()
		if subtype == "" || subtype == "Link" || subtype == "Popup" {
			continue
		}

		ann := types.Annotation{
			Page:    pageIdx,
			Type:    strings.ToLower(subtype),
			Content: a.Key("Contents").Text(),
			Author:  a.Key("T").Text(),
			Created: a.Key("CreationDate").Text(),
		}
		if rect := a.Key("Rect"); rect.Kind() == pdf.Array && rect.Len() == 4 {
			for j := 0; j < 4; j++ {
				ann.Rect[j] = rect.Index(j).Float64()
			}
		}
		if c := a.Key("C"); c.Kind() == pdf.Array && c.Len() == 3 {
			ann.Color = fmt.Sprintf("#%02x%02x%02x",
				int(c.Index(0).Float64()*255),
				int(c.Index(1).Float64()*255),
				int(c.Index(2).Float64()*255))
		}
		result = append(result, ann)
	}
	return result
}

// pdfMetadata reads the document information dictionary.
func pdfMetadata(r *pdf.Reader) types.Metadata {
	md := types.Metadata{Language: "en"}

	defer func() {
		// Malformed info dicts are not worth failing the import over.
		recover()
	}()

	info := r.Trailer().Key("Info")
	if info.Kind() != pdf.Dict {
		return md
	}
	md.Title = info.Key("Title").Text()
	if author := info.Key("Author").Text(); author != "" {
		md.Authors = []string{author}
	}
	md.Publisher = info.Key("Producer").Text()
	md.Date = info.Key("CreationDate").Text()
	if subject := info.Key("Subject").Text(); subject != "" {
		md.Subjects = []string{subject}
	}
	return md
}
