package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/pavelanni/mockexam/internal/exam"
	"github.com/pavelanni/mockexam/internal/store"
)

const maxUploadBytes = 32 << 20

type uploadResponse struct {
	PaperID string      `json:"paperId,omitempty"`
	Resumed bool        `json:"resumed"`
	Status  exam.Status `json:"status"`
}

// handleUploadPaper accepts a multipart form with a required "paper" file
// and optional "markScheme" and "insert" files.
func (h *Handler) handleUploadPaper(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	var up exam.Upload
	paper, name, err := formFile(r, "paper")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if paper == nil {
		h.writeError(w, r, fmt.Errorf("%w: no paper uploaded", errBadRequest))
		return
	}
	up.Paper = paper
	up.FilePaths = append(up.FilePaths, name)

	optional := []struct {
		field string
		dst   *[]byte
	}{
		{"markScheme", &up.MarkScheme},
		{"insert", &up.Insert},
	}
	for _, o := range optional {
		data, name, err := formFile(r, o.field)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if data != nil {
			*o.dst = data
			up.FilePaths = append(up.FilePaths, name)
		}
	}

	if h.papers != nil {
		p, created, err := h.papers.PutPaper(r.Context(), store.HashContent(up.Paper, up.MarkScheme, up.Insert), name, up.FilePaths)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		up.PaperID = p.ID
		h.logger.Info("paper registered", "paper", p.ID, "new", created)
	}

	resumed, err := h.engine.Open(r.Context(), up)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{PaperID: up.PaperID, Resumed: resumed, Status: h.engine.Status()})
}

// formFile reads a multipart file field. A missing field returns nil data.
func formFile(r *http.Request, field string) ([]byte, string, error) {
	f, header, err := r.FormFile(field)
	if err == http.ErrMissingFile {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	defer f.Close()
	return readPart(f, header)
}

func readPart(f multipart.File, header *multipart.FileHeader) ([]byte, string, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", header.Filename, err)
	}
	return data, header.Filename, nil
}
