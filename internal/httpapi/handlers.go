package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"ragapi/internal/domain"
)

const (
	maxQueryBody   = 1 << 20
	maxFieldBytes  = 1 << 10
	multipartSlack = 1 << 20
)

type uploadResponse struct {
	Message      string `json:"message"`
	SourceID     string `json:"source_id"`
	UnitsCreated int    `json:"units_created"`
	UnitsWritten int    `json:"units_written"`
}

type queryRequest struct {
	Text string `json:"text"`
	TopK int    `json:"top_k,omitempty"`
}

type sourceNode struct {
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	SourceID string  `json:"source_id,omitempty"`
	Index    int     `json:"index"`
}

type queryResponse struct {
	Response    string       `json:"response"`
	SourceNodes []sourceNode `json:"source_nodes"`
}

// handleUpload streams a multipart upload into the pipeline. An optional
// source_id field must precede the file part.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		writeError(w, fmt.Errorf("%w: expected multipart/form-data", domain.ErrValidation))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartSlack)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}

	var sourceID string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, uploadReadError(err))
			return
		}
		switch part.FormName() {
		case "source_id":
			data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			part.Close()
			if err != nil {
				writeError(w, uploadReadError(err))
				return
			}
			sourceID = strings.TrimSpace(string(data))
		case "file":
			res, err := s.pipeline.IngestFile(r.Context(), domain.FileInput{
				Filename: part.FileName(),
				SourceID: sourceID,
				Body:     part,
			})
			part.Close()
			if err != nil {
				writeError(w, uploadReadError(err))
				return
			}
			writeJSON(w, http.StatusOK, uploadResponse{
				Message:      "Document uploaded and indexed successfully",
				SourceID:     res.SourceID,
				UnitsCreated: res.UnitsCreated,
				UnitsWritten: res.UnitsWritten,
			})
			return
		default:
			part.Close()
		}
	}
	writeError(w, fmt.Errorf("%w: missing file part", domain.ErrValidation))
}

// uploadReadError maps a tripped body limit to ErrPayloadTooLarge.
func uploadReadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) && !errors.Is(err, domain.ErrPayloadTooLarge) {
		return fmt.Errorf("%w: %v", domain.ErrPayloadTooLarge, err)
	}
	return err
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxQueryBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: malformed JSON body: %v", domain.ErrValidation, err))
		return
	}
	ans, err := s.pipeline.Query(r.Context(), domain.Query{Text: req.Text}, req.TopK)
	if err != nil {
		writeError(w, err)
		return
	}
	nodes := make([]sourceNode, len(ans.Matches))
	for i, m := range ans.Matches {
		nodes[i] = sourceNode{Text: m.Text, Score: m.Score, SourceID: m.SourceID, Index: m.Index}
	}
	writeJSON(w, http.StatusOK, queryResponse{Response: ans.Response, SourceNodes: nodes})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Reset(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Index cleared"})
}
