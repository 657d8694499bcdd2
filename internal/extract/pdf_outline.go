package extract

import (
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/jackzampolin/folio/internal/types"
)

// maxOutlineNodes bounds traversal of the outline's linked structure so a
// cyclic Next chain cannot hang an import.
const maxOutlineNodes = 4096

// pdfOutline extracts the document's native outline tree. Destination pages
// are resolved best-effort; entries whose destination cannot be resolved
// inherit the most recent resolved page so navigation stays monotonic.
func pdfOutline(r *pdf.Reader, pageCount int) (entries []types.OutlineEntry) {
	defer func() {
		if rec := recover(); rec != nil {
			entries = nil
		}
	}()

	root := r.Trailer().Key("Root").Key("Outlines")
	if root.Kind() != pdf.Dict {
		return nil
	}

	pages := pageFingerprints(r, pageCount)
	budget := maxOutlineNodes
	lastPage := 1
	return walkOutline(root.Key("First"), pages, &budget, &lastPage)
}

func walkOutline(item pdf.Value, pages map[string]int, budget *int, lastPage *int) []types.OutlineEntry {
	var entries []types.OutlineEntry
	for !item.IsNull() && *budget > 0 {
		*budget--

		page := destPage(item, pages)
		if page == 0 {
			page = *lastPage
		} else {
			*lastPage = page
		}

		title := item.Key("Title").Text()
		if title == "" {
			title = fmt.Sprintf("Section (Page %d)", page)
		}

		entry := types.OutlineEntry{
			Title:    title,
			Href:     fmt.Sprintf("page_%d", page),
			Children: walkOutline(item.Key("First"), pages, budget, lastPage),
		}
		entries = append(entries, entry)

		item = item.Key("Next")
	}
	return entries
}

// destPage resolves an outline item's destination to a 1-based page number.
// Returns 0 when the destination is named or otherwise unresolvable.
func destPage(item pdf.Value, pages map[string]int) int {
	dest := item.Key("Dest")
	if dest.IsNull() {
		dest = item.Key("A").Key("D")
	}
	if dest.Kind() != pdf.Array || dest.Len() == 0 {
		return 0
	}
	first := dest.Index(0)
	switch first.Kind() {
	case pdf.Integer:
		// Zero-based page index form.
		return int(first.Int64()) + 1
	case pdf.Dict:
		if n, ok := pages[first.String()]; ok {
			return n
		}
	}
	return 0
}

// pageFingerprints maps each page dictionary's formatted representation to
// its 1-based page number, so destination page objects can be matched
// without access to the library's internal object references.
func pageFingerprints(r *pdf.Reader, pageCount int) map[string]int {
	pages := make(map[string]int, pageCount)
	for i := 1; i <= pageCount; i++ {
		func() {
			defer func() { recover() }()
			v := r.Page(i).V
			if !v.IsNull() {
				pages[v.String()] = i
			}
		}()
	}
	return pages
}
