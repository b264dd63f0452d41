package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/e2elab/runnoor/pkg/runner"
	"github.com/e2elab/runnoor/pkg/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// idParam parses the {id} route parameter.
func idParam(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		return 0, err
	}

	return uint(id), nil
}

// decodeAndValidate decodes the request body into v and runs struct
// validation on it.
func (s *server) decodeAndValidate(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid request body")
	}

	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return errors.New("invalid field: " + strings.ToLower(verrs[0].Field()))
		}

		return err
	}

	return nil
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Projects ---

type createProjectRequest struct {
	Name    string `json:"name" validate:"required,min=1,max=128"`
	BaseURL string `json:"base_url" validate:"omitempty,url"`
}

func (s *server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	p := &store.Project{Name: req.Name, BaseURL: req.BaseURL}
	if err := s.store.CreateProject(r.Context(), p); err != nil {
		s.log.WithError(err).Error("Failed to create project")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to create project"})

		return
	}

	writeJSON(w, http.StatusCreated, p)
}

func (s *server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid project id"})

		return
	}

	p, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		if notFound(err) {
			writeJSON(w, http.StatusNotFound, errorResponse{"project not found"})

			return
		}

		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to load project"})

		return
	}

	writeJSON(w, http.StatusOK, p)
}

// --- Test cases ---

type createTestCaseRequest struct {
	Name string   `json:"name" validate:"required,min=1,max=256"`
	Tags []string `json:"tags" validate:"omitempty,dive,min=1,max=64"`
}

func (s *server) handleCreateTestCase(w http.ResponseWriter, r *http.Request) {
	projectID, err := idParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid project id"})

		return
	}

	var req createTestCaseRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if _, err := s.store.GetProject(r.Context(), projectID); err != nil {
		if notFound(err) {
			writeJSON(w, http.StatusNotFound, errorResponse{"project not found"})

			return
		}

		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to load project"})

		return
	}

	tc := &store.TestCase{
		ProjectID: projectID,
		Name:      req.Name,
		Tags:      strings.Join(req.Tags, ","),
	}
	if err := s.store.CreateTestCase(r.Context(), tc); err != nil {
		s.log.WithError(err).Error("Failed to create test case")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to create test case"})

		return
	}

	writeJSON(w, http.StatusCreated, tc)
}

func (s *server) handleGetTestCase(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid test case id"})

		return
	}

	tc, err := s.store.GetTestCase(r.Context(), id)
	if err != nil {
		if notFound(err) {
			writeJSON(w, http.StatusNotFound, errorResponse{"test case not found"})

			return
		}

		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to load test case"})

		return
	}

	writeJSON(w, http.StatusOK, tc)
}

func (s *server) handleListTestCases(w http.ResponseWriter, r *http.Request) {
	projectID, err := idParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid project id"})

		return
	}

	tcs, err := s.store.ListTestCases(r.Context(), projectID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to list test cases"})

		return
	}

	writeJSON(w, http.StatusOK, tcs)
}

// --- Runs ---

type runRequest struct {
	Browser     string `json:"browser" validate:"omitempty,oneof=chromium firefox webkit"`
	Headed      bool   `json:"headed"`
	InitiatorID string `json:"initiator_id" validate:"omitempty,max=128"`
}

func (s *server) handleRunTestCase(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid test case id"})

		return
	}

	opts, err := s.runOptions(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	outcome, err := s.orch.RunTestCase(r.Context(), id, opts)
	s.writeRunResponse(w, outcome, err)
}

func (s *server) handleRunProject(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid project id"})

		return
	}

	opts, err := s.runOptions(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	outcome, err := s.orch.RunProject(r.Context(), id, opts)
	s.writeRunResponse(w, outcome, err)
}

// runOptions decodes the optional run payload. An empty body is a run
// with defaults.
func (s *server) runOptions(r *http.Request) (*runner.RunOptions, error) {
	var req runRequest

	if r.Body != nil && r.ContentLength != 0 {
		if err := s.decodeAndValidate(r, &req); err != nil {
			return nil, err
		}
	}

	return &runner.RunOptions{
		Browser:     req.Browser,
		Headed:      req.Headed,
		InitiatorID: req.InitiatorID,
	}, nil
}

// writeRunResponse maps a run outcome to HTTP. A failing suite is still
// HTTP 200; only precondition and launch failures are error statuses.
func (s *server) writeRunResponse(
	w http.ResponseWriter, outcome *runner.RunOutcome, err error,
) {
	if err == nil {
		writeJSON(w, http.StatusOK, outcome)

		return
	}

	if notFound(err) {
		writeJSON(w, http.StatusNotFound, errorResponse{"not found"})

		return
	}

	if strings.Contains(err.Error(), "unknown browser") {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	s.log.WithError(err).Error("Run failed")

	// Launch failures carry a partial outcome worth surfacing.
	if outcome != nil {
		writeJSON(w, http.StatusBadGateway, outcome)

		return
	}

	writeJSON(w, http.StatusInternalServerError, errorResponse{"run failed"})
}

// --- Execution history ---

func (s *server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid test case id"})

		return
	}

	execs, err := s.store.ListExecutions(r.Context(), id, limitParam(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to list executions"})

		return
	}

	writeJSON(w, http.StatusOK, execs)
}

func (s *server) handleListProjectExecutions(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid project id"})

		return
	}

	execs, err := s.store.ListProjectExecutions(r.Context(), id, limitParam(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to list executions"})

		return
	}

	writeJSON(w, http.StatusOK, execs)
}

// limitParam parses the optional ?limit= query parameter. Zero means no
// limit.
func limitParam(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0
	}

	limit, err := strconv.Atoi(v)
	if err != nil || limit < 0 {
		return 0
	}

	return limit
}

// --- Files ---

// handleFileRequest serves stored artifacts from the local backend.
func (s *server) handleFileRequest(w http.ResponseWriter, r *http.Request) {
	if s.localServer == nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"local file serving is not enabled"})

		return
	}

	filePath := chi.URLParam(r, "*")

	if err := s.localServer.ServeFile(w, r, filePath); err != nil {
		s.log.WithError(err).WithField("path", filePath).
			Debug("File request failed")
		writeJSON(w, http.StatusNotFound, errorResponse{"file not found"})
	}
}
