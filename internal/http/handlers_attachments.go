package http

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"finance/internal/attachments"
	"finance/internal/core"
	"finance/internal/log"
)

// multipartOverhead is allowed on top of the file limit for boundaries and
// part headers.
const multipartOverhead = 64 << 10

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		writeError(w, r, invalidField("file", "expected multipart/form-data"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, invalidField("file", "malformed multipart body"))
		return
	}

	// Stream the first "file" part straight into the blob store.
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, r, invalidField("file", "file is required"))
			return
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, r, err)
				return
			}
			writeError(w, r, invalidField("file", "malformed multipart body"))
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		att, err := s.attachments.Upload(r.Context(), attachments.Upload{
			OwnerID:       owner(r),
			TransactionID: id,
			FileName:      part.FileName(),
			Content:       part,
		})
		_ = part.Close()
		if err != nil {
			writeError(w, r, err)
			return
		}

		s.appMetrics.uploads.Add(1)
		writeJSON(w, http.StatusCreated, att)
		return
	}
}

func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.attachments.List(r.Context(), owner(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []core.Attachment{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	att, body, err := s.attachments.Open(r.Context(), owner(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Content-Disposition", attachments.ContentDisposition(att))
	w.Header().Set("Content-Length", strconv.FormatInt(att.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Attachment download interrupted",
			log.FieldAttachmentID, att.ID,
			log.FieldError, err)
	}
}

func (s *Server) handleDeleteAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	att, err := s.attachments.Delete(r.Context(), owner(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, att)
}
