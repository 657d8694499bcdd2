package endpoints

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/extract"
	"github.com/jackzampolin/folio/internal/jobs"
	"github.com/jackzampolin/folio/internal/svcctx"
	"github.com/jackzampolin/folio/internal/types"
)

// UploadResponse is returned from POST /api/books/upload. Synchronous
// uploads carry the finished book id; asynchronous uploads carry the job
// id to poll.
type UploadResponse struct {
	Status string `json:"status"`
	BookID string `json:"book_id,omitempty"`
	JobID  string `json:"job_id,omitempty"`
}

// UploadBookEndpoint handles POST /api/books/upload with a multipart file.
// Small uploads are processed on the request and return the finished book;
// large ones (or async=true) are handed to the background executor.
type UploadBookEndpoint struct{}

var _ api.Endpoint = (*UploadBookEndpoint)(nil)

func (e *UploadBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/upload", e.handler
}

func (e *UploadBookEndpoint) RequiresInit() bool { return true }

func (e *UploadBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	services := svcctx.ServicesFrom(r.Context())
	if services == nil || services.Executor == nil {
		writeError(w, http.StatusServiceUnavailable, "executor not initialized")
		return
	}

	if services.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, services.MaxUploadBytes+(1<<20))
	}

	const maxMemory = 32 << 20
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read upload: %v", err))
		return
	}
	if services.MaxUploadBytes > 0 && int64(len(data)) > services.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds limit of %d bytes", services.MaxUploadBytes))
		return
	}

	kind := uploadKind(r.FormValue("kind"), header.Filename, data)
	if kind == "" {
		writeError(w, http.StatusBadRequest, "could not determine document format, expected epub or pdf")
		return
	}

	async := r.FormValue("async") == "true" ||
		(services.SyncThresholdBytes > 0 && int64(len(data)) > services.SyncThresholdBytes)

	if async {
		jobID, err := services.Executor.Submit(data, kind, header.Filename)
		if err != nil {
			if errors.Is(err, jobs.ErrQueueFull) {
				writeError(w, http.StatusServiceUnavailable, "server is busy, try again later")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, UploadResponse{Status: "queued", JobID: jobID})
		return
	}

	bookID, err := services.Executor.RunSync(r.Context(), data, kind, header.Filename)
	if err != nil {
		switch {
		case errors.Is(err, extract.ErrPayloadTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, extract.ErrEmptyPayload),
			errors.Is(err, extract.ErrKindMismatch),
			errors.Is(err, extract.ErrUnknownKind):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			var extractErr *extract.ExtractionError
			if errors.As(err, &extractErr) {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("extraction failed: %v", err))
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, UploadResponse{Status: "completed", BookID: bookID})
}

// uploadKind resolves the document format from the explicit form field,
// the filename extension, then content sniffing, in that order.
func uploadKind(explicit, filename string, data []byte) types.Kind {
	if kind := types.ParseKind(explicit); kind != "" {
		return kind
	}
	if kind := types.ParseKind(strings.ToLower(filepath.Ext(filename))); kind != "" {
		return kind
	}
	return extract.DetectKind(data)
}

func (e *UploadBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload an EPUB or PDF to the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			path := "/api/books/upload"
			if async {
				path += "?async=true"
			}

			client := api.NewClient(getServerURL())
			var resp UploadResponse
			if err := client.PostFile(cmd.Context(), path, filepath.Base(args[0]), data, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "process in the background and return a job id")
	return cmd
}
