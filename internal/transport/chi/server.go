package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragflow/internal/domain"
	"github.com/kailas-cloud/ragflow/internal/domain/rag"
	domrun "github.com/kailas-cloud/ragflow/internal/domain/run"
	"github.com/kailas-cloud/ragflow/internal/logger"
	healthuc "github.com/kailas-cloud/ragflow/internal/usecase/health"
)

const maxBodyBytes = 1 << 20

// Runs is the workflow surface the HTTP API drives.
type Runs interface {
	Trigger(ctx context.Context, kind domrun.Kind, input any) (string, error)
	Status(ctx context.Context, id string) (*domrun.Run, error)
	Cancel(ctx context.Context, id string) (*domrun.Run, error)
}

// HealthReporter aggregates component health.
type HealthReporter interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the event, run and operational endpoints.
type Server struct {
	runs          Runs
	health        HealthReporter
	validate      *validator.Validate
	maxTopK       int
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(runs Runs, health HealthReporter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		runs:     runs,
		health:   health,
		validate: newValidator(),
		maxTopK:  rag.MaxTopK,
		logger:   logger,
		errorHandlers: []errorHandler{
			sentinelHandler(domain.ErrRunNotFound, http.StatusNotFound, CodeRunNotFound),
			sentinelHandler(domain.ErrRunTerminal, http.StatusConflict, CodeRunTerminal),
			sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, CodeValidationFailed),
			sentinelHandler(domain.ErrUnavailable, http.StatusServiceUnavailable, CodeUnavailable),
		},
	}
}

// WithMaxTopK lowers the largest top_k a query event may request.
func (s *Server) WithMaxTopK(n int) *Server {
	if n > 0 && n < rag.MaxTopK {
		s.maxTopK = n
	}
	return s
}

// Mount registers every route on r.
func (s *Server) Mount(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/events/ingest", s.TriggerIngest)
		r.Post("/events/query", s.TriggerQuery)
		r.Get("/runs/{runID}", s.GetRun)
		r.Post("/runs/{runID}/cancel", s.CancelRun)
	})
}

// TriggerIngest handles POST /v1/events/ingest.
func (s *Server) TriggerIngest(w http.ResponseWriter, r *http.Request) {
	var ev rag.IngestEvent
	if !s.decodeEvent(w, r, &ev) {
		return
	}
	ev.SourceID = strings.TrimSpace(ev.SourceID)
	s.trigger(w, r, domrun.KindIngest, ev)
}

// TriggerQuery handles POST /v1/events/query.
func (s *Server) TriggerQuery(w http.ResponseWriter, r *http.Request) {
	var ev rag.QueryEvent
	if !s.decodeEvent(w, r, &ev) {
		return
	}
	if strings.TrimSpace(ev.Question) == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "question: required")
		return
	}
	if ev.TopK != nil && *ev.TopK > s.maxTopK {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, fmt.Sprintf("top_k: must be at most %d", s.maxTopK))
		return
	}
	s.trigger(w, r, domrun.KindQuery, ev)
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request, kind domrun.Kind, ev any) {
	id, err := s.runs.Trigger(r.Context(), kind, ev)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, TriggerResponse{RunID: id})
}

// GetRun handles GET /v1/runs/{runID}.
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runIDParam(w, r)
	if !ok {
		return
	}
	run, err := s.runs.Status(r.Context(), id)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, runToResponse(run))
}

// CancelRun handles POST /v1/runs/{runID}/cancel.
func (s *Server) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runIDParam(w, r)
	if !ok {
		return
	}
	run, err := s.runs.Cancel(r.Context(), id)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CancelResponse{ID: run.ID, Status: string(run.Status)})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// decodeEvent reads and validates a JSON event body. It writes the 400
// response itself and reports false on failure.
func (s *Server) decodeEvent(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		logger.FromContext(r.Context()).Debug("Malformed event body", zap.Error(err))
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, validationMessage(verrs))
			return false
		}
		s.handleDomainError(r.Context(), w, err)
		return false
	}
	return true
}

// validationMessage renders field errors as "field: rule" pairs in a stable order.
func validationMessage(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+": required")
		case "min":
			parts = append(parts, fmt.Sprintf("%s: must be at least %s", field, fe.Param()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s: must be at most %s", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// runIDParam binds the {runID} path segment.
func runIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "runID", chi.URLParam(r, "runID"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil || strings.TrimSpace(id) == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid run id")
		return "", false
	}
	return id, true
}

func runToResponse(r *domrun.Run) RunResponse {
	resp := RunResponse{
		ID:      r.ID,
		Kind:    string(r.Kind),
		Status:  string(r.Status),
		Output:  r.Output,
		Partial: r.Partial,
	}
	if r.Error != nil {
		resp.Error = &RunError{Kind: r.Error.Kind, Step: r.Error.Step, Message: r.Error.Message}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrRunNotFound,
		domain.ErrRunTerminal,
		domain.ErrInvalidInput,
		domain.ErrUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	log := s.logger.With(zap.String("request_id", chimw.GetReqID(ctx)))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			log.Warn("domain error", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
