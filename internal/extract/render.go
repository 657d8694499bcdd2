package extract

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/jackzampolin/folio/internal/types"
)

// renderPages renders every non-degraded page to a PNG image plus a
// thumbnail using pdftoppm (poppler-utils), the same renderer shelf-style
// scan pipelines use. Rendered files are attached to the book as assets; a
// page whose render fails keeps its extracted text and simply has no image.
func (e *Extractor) renderPages(ctx context.Context, data []byte, book *types.Book, progress ProgressFunc) error {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return fmt.Errorf("pdftoppm not found: %w", err)
	}

	// pdftoppm wants a file on disk.
	tmp, err := os.CreateTemp("", "folio-render-*.pdf")
	if err != nil {
		return fmt.Errorf("failed to create temp pdf: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp pdf: %w", err)
	}
	tmp.Close()

	progress("rendering pages", 62)
	e.renderPass(ctx, tmp.Name(), book, false)
	progress("building thumbnails", 82)
	rendered := e.renderPass(ctx, tmp.Name(), book, true)
	progress("building thumbnails", 92)

	book.HasThumbnails = rendered > 0
	return nil
}

// renderPass renders all pages at full resolution or as thumbnails,
// fanning out across CPUs the way the ingest pipeline extracts scan pages.
// It returns how many pages actually produced an image.
func (e *Extractor) renderPass(ctx context.Context, pdfPath string, book *types.Book, thumbs bool) int {
	type rendered struct {
		page  int
		asset types.Asset
		err   error
	}

	maxWorkers := runtime.NumCPU()
	sem := make(chan struct{}, maxWorkers)
	results := make(chan rendered, len(book.Chapters))
	launched := 0

	for i := range book.Chapters {
		if book.Chapters[i].Degraded {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}
		launched++
		sem <- struct{}{} // acquire
		go func(pageNum int) {
			defer func() { <-sem }() // release
			asset, err := e.renderPage(ctx, pdfPath, pageNum, thumbs)
			results <- rendered{page: pageNum, asset: asset, err: err}
		}(i + 1)
	}

	renderedCount := 0
	for n := 0; n < launched; n++ {
		r := <-results
		if r.err != nil {
			e.logger.Warn("page render failed", "page", r.page, "thumbnail", thumbs, "error", r.err)
			continue
		}
		renderedCount++
		book.Assets = append(book.Assets, r.asset)
		ch := &book.Chapters[r.page-1]
		if thumbs {
			ch.Thumbnail = r.asset.RelPath
		} else {
			ch.Image = r.asset.RelPath
		}
	}
	return renderedCount
}

// renderPage renders a single page via pdftoppm and returns it as an asset.
func (e *Extractor) renderPage(ctx context.Context, pdfPath string, pageNum int, thumb bool) (types.Asset, error) {
	tmpDir, err := os.MkdirTemp("", "folio-page-*")
	if err != nil {
		return types.Asset{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")
	pageStr := fmt.Sprintf("%d", pageNum)

	args := []string{
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-singlefile",
	}
	if thumb {
		args = append(args, "-scale-to", fmt.Sprintf("%d", e.opts.ThumbnailSize))
	} else {
		args = append(args, "-r", fmt.Sprintf("%d", e.opts.RenderDPI))
	}
	args = append(args, pdfPath, outputPrefix)

	cmd := exec.CommandContext(ctx, "pdftoppm", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return types.Asset{}, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return types.Asset{}, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}

	var rel string
	if thumb {
		rel = fmt.Sprintf("thumbnails/thumb_%d.png", pageNum)
	} else {
		rel = fmt.Sprintf("images/page_%d.png", pageNum)
	}
	return types.Asset{RelPath: rel, Data: data}, nil
}
