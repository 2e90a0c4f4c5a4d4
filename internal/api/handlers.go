package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"notescribe/internal/config"
	"notescribe/internal/deps"
	"notescribe/internal/history"
	"notescribe/internal/logging"
	"notescribe/internal/services"
)

const (
	uploadField         = "file"
	defaultHistoryLimit = 50
	stage               = "api"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	statuses := deps.Tools(s.cfg.Tools.FFmpeg, s.cfg.Tools.FFprobe, externalCommand(s.cfg.Estimator.Kind, s.cfg.Estimator.Command))
	status := "ok"
	if len(deps.Missing(statuses)) > 0 {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: HealthResponse{
		Status:         status,
		HistoryEnabled: s.history != nil,
		Dependencies:   FromDependencies(statuses),
	}})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, source, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	wave, err := s.decoder.DecodeBytes(ctx, data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.analyzer.Analyze(ctx, wave)
	if err != nil {
		s.writeError(w, err)
		return
	}

	stored := false
	if s.history != nil {
		entry := history.FromResult(res, source, wave.SampleRate)
		if err := s.history.Save(ctx, entry); err != nil {
			logging.WarnWithContext(s.logger, "history save failed", "history_save_failed",
				logging.String("request_id", res.RequestID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "result returned but not stored"),
			)
		} else {
			stored = true
			if removed, err := s.history.Prune(ctx, s.cfg.History.MaxEntries); err != nil {
				s.logger.Warn("history prune failed", logging.Error(err))
			} else if removed > 0 {
				s.logger.Debug("history pruned", logging.Int64("removed", removed))
			}
		}
	}

	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: FromResult(res, source, wave.SampleRate, stored)})
}

// readUpload accepts either a multipart form with a "file" field or a raw
// request body. The source name comes from the multipart filename or the
// "name" query parameter.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	limit := s.cfg.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	source := filepath.Base(strings.TrimSpace(r.URL.Query().Get("name")))
	if source == "." || source == "/" {
		source = ""
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		reader io.Reader = r.Body
		closer io.Closer
	)
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(limit); err != nil {
			return nil, "", uploadError(err)
		}
		file, header, err := r.FormFile(uploadField)
		if err != nil {
			return nil, "", services.Wrap(services.ErrInput, stage, "upload", "multipart form has no \""+uploadField+"\" field", err)
		}
		reader, closer = file, file
		if source == "" && header != nil {
			source = filepath.Base(header.Filename)
		}
	}
	if closer != nil {
		defer closer.Close()
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", uploadError(err)
	}
	if len(data) == 0 {
		return nil, "", services.Wrap(services.ErrInput, stage, "upload", "request carried no audio", nil)
	}
	return data, source, nil
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &statusError{status: http.StatusRequestEntityTooLarge, err: services.Wrap(services.ErrInput, stage, "upload",
			"upload exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes", nil)}
	}
	return services.Wrap(services.ErrInput, stage, "upload", "could not read upload", err)
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, Envelope{Success: true, Data: HistoryListResponse{Items: []HistoryItem{}}})
		return
	}
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, services.Wrap(services.ErrConfiguration, stage, "history", "invalid limit", err))
			return
		}
		limit = parsed
	}
	entries, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	items := make([]HistoryItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, FromHistoryEntry(entry))
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: HistoryListResponse{Items: items}})
}

func (s *Server) handleHistoryItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if s.history == nil || id == "" {
		s.writeError(w, services.Wrap(services.ErrNotFound, stage, "history", "analysis not found", nil))
		return
	}
	entry, err := s.history.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entry == nil {
		s.writeError(w, services.Wrap(services.ErrNotFound, stage, "history", "analysis "+id+" not found", nil))
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: FromHistoryEntry(*entry)})
}

// statusError overrides the status services.HTTPStatus would pick.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := services.HTTPStatus(err)
	var se *statusError
	if errors.As(err, &se) {
		status = se.status
	}
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(s.logger, "request failed", "api_request_failed",
			logging.Int("status", status),
			logging.Error(err),
		)
	} else {
		s.logger.Info("request rejected", logging.Int("status", status), logging.Error(err))
	}
	writeJSON(w, status, Envelope{Error: errorLabel(err), Detail: err.Error()})
}

func errorLabel(err error) string {
	for _, marker := range []error{
		services.ErrInput,
		services.ErrConfiguration,
		services.ErrNotFound,
		services.ErrTimeout,
		services.ErrExternalTool,
	} {
		if errors.Is(err, marker) {
			return marker.Error()
		}
	}
	return "internal error"
}

func externalCommand(kind, command string) string {
	if kind == config.EstimatorExternal {
		return command
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
