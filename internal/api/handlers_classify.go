package api

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"

	"github.com/dgallion1/lexclass/internal/classifier"
	"github.com/dgallion1/lexclass/internal/parser"
)

var validate = validator.New()

type classifyTextRequest struct {
	Text     string `json:"text" validate:"required"`
	Filename string `json:"filename" validate:"omitempty,max=255"`
}

type classifyResponse struct {
	Filename string                     `json:"filename,omitempty"`
	Found    bool                       `json:"found"`
	Winner   *classifier.CategoryScore  `json:"winner,omitempty"`
	Results  []classifier.CategoryScore `json:"results"`
}

func newClassifyResponse(filename string, res classifier.Result) classifyResponse {
	out := classifyResponse{Filename: filename, Results: []classifier.CategoryScore(res)}
	if out.Results == nil {
		out.Results = []classifier.CategoryScore{}
	}
	if w, ok := res.Winner(); ok {
		out.Found = true
		out.Winner = &w
	}
	return out
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	file, filename, ok := s.uploadedFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	res, err := s.deps.Classifier.ClassifyReader(r.Context(), file, filename)
	if err != nil {
		s.log.Warn("classification failed", "file", filename, "error", err)
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, newClassifyResponse(filename, res))
}

func (s *Server) handleClassifyText(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)

	var req classifyTextRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.deps.Classifier.Classify(r.Context(), req.Text)
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, newClassifyResponse(req.Filename, res))
}

// handleExtract returns the text the classifier would see for an upload.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	file, filename, ok := s.uploadedFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	text, err := s.deps.Extractor.ExtractReader(r.Context(), file, filename)
	if err != nil {
		s.log.Warn("extraction failed", "file", filename, "error", err)
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			code = http.StatusUnprocessableEntity
		}
		jsonError(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"filename":    filename,
		"text_length": utf8.RuneCountInString(text),
		"content":     text,
	})
}

// uploadedFile reads the "file" part of a multipart upload. On failure it
// writes the error response and returns ok=false.
func (s *Server) uploadedFile(w http.ResponseWriter, r *http.Request) (multipart.File, string, bool) {
	// Extra 1MB for form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes+1024*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return nil, "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return nil, "", false
	}

	filename := sanitizeFilename(header.Filename)
	if !parser.IsSupportedExtension(filename) {
		file.Close()
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return nil, "", false
	}
	if header.Size > s.cfg.Server.MaxUploadBytes {
		file.Close()
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.Server.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return nil, "", false
	}
	return file, filename, true
}
