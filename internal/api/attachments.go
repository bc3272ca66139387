// ABOUTME: Attachment upload and download handlers over the blob store
// ABOUTME: Multipart upload with mime-derived type, streamed download

package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/alphahub/hub/internal/blob"
	"github.com/alphahub/hub/internal/ident"
	"github.com/alphahub/hub/internal/protocol"
)

// maxAttachmentMemory caps multipart memory buffering, not file size;
// larger parts spill to temp files.
const maxAttachmentMemory = 8 << 20

// attachmentRecord is the JSON shape of one uploaded attachment.
type attachmentRecord struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Mime   string `json:"mime"`
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

// handleUploadAttachment handles POST /v1/attachments.
func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAttachmentMemory); err != nil {
		s.writeError(w, http.StatusBadRequest, protocol.CodeInvalidArgument, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, protocol.CodeInvalidArgument, "file part is required")
		return
	}
	defer file.Close()

	id := ident.NewID()
	meta, err := s.blobs.Save(id, header.Filename, file)
	if err != nil {
		s.logger.Error("attachment save failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, protocol.CodeUnavailable, "attachment store unavailable")
		return
	}

	mime := header.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}
	attachmentType := r.FormValue("type")
	if attachmentType == "" {
		attachmentType = typeFromMime(mime)
	}

	s.writeOK(w, map[string]any{
		"attachment": attachmentRecord{
			ID:     meta.ID,
			Type:   attachmentType,
			Mime:   mime,
			URL:    "/v1/attachments/" + meta.ID + "/download",
			SHA256: meta.SHA256,
		},
	})
}

// handleDownloadAttachment handles GET /v1/attachments/{id}/download.
func (s *Server) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	reader, filename, err := s.blobs.Open(id)
	if errors.Is(err, blob.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, protocol.CodeNotFound, "attachment not found")
		return
	}
	if err != nil {
		s.logger.Error("attachment open failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, protocol.CodeUnavailable, "attachment store unavailable")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Debug("attachment download interrupted", "id", id, "error", err)
	}
}

// typeFromMime buckets a mime type into the attachment taxonomy.
func typeFromMime(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return "image"
	case strings.HasPrefix(mime, "audio/"):
		return "audio"
	default:
		return "file"
	}
}
