package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"docsearch/internal/contextutil"
	"docsearch/internal/service"
	"docsearch/internal/storage"
)

// maxUploadMemory is the part of a multipart upload kept in memory; the rest
// spills to temporary files.
const maxUploadMemory = 32 << 20

// DefaultMaxUploadBytes caps the whole upload request body.
const DefaultMaxUploadBytes int64 = 50 << 20

// UploadResponse is returned after a successful upload.
type UploadResponse struct {
	Success       bool   `json:"success"`
	DocumentID    int64  `json:"document_id"`
	FileName      string `json:"fileName"`
	ExtractedText string `json:"extractedText"`
}

// DocumentJSON is the client view of a document row.
type DocumentJSON struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	FileName     string    `json:"file_name"`
	FilePath     string    `json:"file_path"`
	Department   string    `json:"department"`
	EmployeeID   int64     `json:"employee_id"`
	EmployeeName string    `json:"employee_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DocumentResponse wraps a single document.
type DocumentResponse struct {
	Success  bool         `json:"success"`
	Document DocumentJSON `json:"document"`
}

// StatusResponse acknowledges an operation with no payload.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DocumentHandler serves document upload and lifecycle endpoints.
type DocumentHandler struct {
	documents      service.DocumentService
	maxUploadBytes int64
}

// DocumentOption configures a DocumentHandler.
type DocumentOption func(*DocumentHandler)

// WithMaxUploadBytes caps the upload request body. Values of zero or less
// keep the default.
func WithMaxUploadBytes(n int64) DocumentOption {
	return func(h *DocumentHandler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewDocumentHandler creates a new DocumentHandler.
func NewDocumentHandler(documents service.DocumentService, opts ...DocumentOption) *DocumentHandler {
	h := &DocumentHandler{documents: documents, maxUploadBytes: DefaultMaxUploadBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Upload handles POST /documents/upload.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.ContentLength > h.maxUploadBytes {
		logger.WarnContext(ctx, "upload too large", "content_length", r.ContentLength, "limit", h.maxUploadBytes)
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	// Bodies without a declared length are cut off while parsing.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.WarnContext(ctx, "upload too large", "limit", tooLarge.Limit)
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		logger.WarnContext(ctx, "invalid multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		handleServiceError(ctx, w, &service.ValidationError{Field: "file", Message: "is required"}, "")
		return
	}
	defer file.Close()

	employeeID, err := strconv.ParseInt(r.FormValue("employee_id"), 10, 64)
	if err != nil {
		handleServiceError(ctx, w, &service.ValidationError{Field: "employee_id", Message: "must be an integer"}, "")
		return
	}

	res, err := h.documents.Upload(ctx, service.UploadRequest{
		OriginalName: header.Filename,
		Content:      file,
		Title:        r.FormValue("title"),
		Description:  r.FormValue("description"),
		EmployeeName: r.FormValue("employee_name"),
		EmployeeID:   employeeID,
		Department:   r.FormValue("department"),
	})
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to upload document")
		return
	}

	writeJSON(ctx, w, http.StatusCreated, UploadResponse{
		Success:       true,
		DocumentID:    res.DocumentID,
		FileName:      res.FileName,
		ExtractedText: res.ExtractedText,
	})
}

// Get handles GET /documents/{id}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	doc, err := h.documents.Get(ctx, id)
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to get document")
		return
	}
	writeJSON(ctx, w, http.StatusOK, DocumentResponse{Success: true, Document: toDocumentJSON(doc)})
}

// SoftDelete handles PUT /documents/{id}/soft-delete.
func (h *DocumentHandler) SoftDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	if err := h.documents.SoftDelete(ctx, id); err != nil {
		handleServiceError(ctx, w, err, "Failed to delete document")
		return
	}
	writeJSON(ctx, w, http.StatusOK, StatusResponse{Success: true, Message: "Document deleted"})
}

// Reindex handles POST /documents/{id}/reindex.
func (h *DocumentHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	if err := h.documents.Reindex(ctx, id); err != nil {
		handleServiceError(ctx, w, err, "Failed to reindex document")
		return
	}
	writeJSON(ctx, w, http.StatusOK, StatusResponse{Success: true, Message: "Document reindexed"})
}

// documentID parses the {id} path parameter, writing a 400 when it is not a
// positive integer.
func documentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		handleServiceError(r.Context(), w, &service.ValidationError{Field: "id", Message: "must be a positive integer"}, "")
		return 0, false
	}
	return id, true
}

func toDocumentJSON(doc *storage.Document) DocumentJSON {
	return DocumentJSON{
		ID:           doc.ID,
		Title:        doc.Title,
		Description:  doc.Description,
		FileName:     doc.FileName,
		FilePath:     doc.FilePath,
		Department:   doc.Department,
		EmployeeID:   doc.EmployeeID,
		EmployeeName: doc.EmployeeName,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}
