// Package admin serves the HTTP administration API of a running framework:
// listing and launching applications, inspecting and destroying instances,
// and exposing Prometheus metrics.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/GoCodeAlone/blueberry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxExitWait caps the timeout accepted by the exit endpoint.
const maxExitWait = 30 * time.Second

// Instances launched over the API stay queryable this long after they
// leave the service registry.
const (
	launchedRetention = 10 * time.Minute
	launchedCleanup   = 30 * time.Minute
)

// Server is the admin API over one application container.
type Server struct {
	container *blueberry.ApplicationContainer
	gatherer  prometheus.Gatherer
	logger    blueberry.Logger
	launched  *gocache.Cache
}

// New creates the admin API. gatherer may be nil, in which case /metrics is
// not served.
func New(container *blueberry.ApplicationContainer, gatherer prometheus.Gatherer, logger blueberry.Logger) *Server {
	if logger == nil {
		logger = blueberry.NopLogger()
	}
	return &Server{
		container: container,
		gatherer:  gatherer,
		logger:    logger,
		launched:  gocache.New(launchedRetention, launchedCleanup),
	}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/apps", func(r chi.Router) {
		r.Get("/", s.handleListApps)
		r.Post("/{id}/launch", s.handleLaunch)
	})
	r.Route("/handles", func(r chi.Router) {
		r.Get("/", s.handleListHandles)
		r.Get("/{instance}", s.handleGetHandle)
		r.Delete("/{instance}", s.handleDestroy)
		r.Get("/{instance}/exit", s.handleExit)
	})
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type appView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Thread      string `json:"thread"`
	Cardinality string `json:"cardinality"`
	Visible     bool   `json:"visible"`
	Default     bool   `json:"default"`
	Locked      bool   `json:"locked"`
	Launchable  bool   `json:"launchable"`
}

type handleView struct {
	Instance    string `json:"instance"`
	Application string `json:"application"`
	State       string `json:"state"`
	Default     bool   `json:"default"`
}

type launchRequest struct {
	Args []string `json:"args"`
}

type exitView struct {
	Instance  string `json:"instance"`
	Available bool   `json:"available"`
	Value     any    `json:"value,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleListApps(w http.ResponseWriter, _ *http.Request) {
	descs := s.container.AppDescriptors()
	out := make([]appView, 0, len(descs))
	for _, d := range descs {
		out = append(out, appView{
			ID:          d.ApplicationID(),
			Name:        d.Name(),
			Thread:      d.Thread().String(),
			Cardinality: d.Cardinality().String(),
			Visible:     d.Visible(),
			Default:     d.IsDefault(),
			Locked:      d.Locked(),
			Launchable:  !d.Locked() && s.container.IsLocked(d) == blueberry.NotLocked,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d := s.container.GetAppDescriptor(id)
	if d == nil {
		writeError(w, http.StatusNotFound, "unknown application "+id)
		return
	}

	var req launchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid launch request: "+err.Error())
			return
		}
	}
	args := map[string]any{}
	if req.Args != nil {
		args[blueberry.ArgApplicationArgs] = req.Args
	}

	h, err := d.Launch(r.Context(), args)
	if err != nil {
		writeError(w, launchStatus(err), err.Error())
		return
	}
	s.launched.SetDefault(h.InstanceID(), h)
	s.logger.Info("Application launched over admin API", "instance", h.InstanceID())
	writeJSON(w, http.StatusAccepted, viewOf(h))
}

func launchStatus(err error) int {
	switch {
	case errors.Is(err, blueberry.ErrApplicationNotLaunchable), errors.Is(err, blueberry.ErrIllegalState):
		return http.StatusConflict
	case errors.Is(err, blueberry.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListHandles(w http.ResponseWriter, _ *http.Request) {
	handles := s.container.Handles()
	out := make([]handleView, 0, len(handles))
	for _, h := range handles {
		out = append(out, viewOf(h))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) lookup(instance string) *blueberry.ApplicationHandle {
	if h := s.container.Handle(instance); h != nil {
		return h
	}
	if v, ok := s.launched.Get(instance); ok {
		if h, ok := v.(*blueberry.ApplicationHandle); ok {
			return h
		}
	}
	return nil
}

func (s *Server) handleGetHandle(w http.ResponseWriter, r *http.Request) {
	h := s.lookup(chi.URLParam(r, "instance"))
	if h == nil {
		writeError(w, http.StatusNotFound, "unknown instance")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(h))
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	h := s.container.Handle(chi.URLParam(r, "instance"))
	if h == nil {
		writeError(w, http.StatusNotFound, "unknown instance")
		return
	}
	if err := h.Destroy(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	h := s.lookup(chi.URLParam(r, "instance"))
	if h == nil {
		writeError(w, http.StatusNotFound, "unknown instance")
		return
	}

	timeout := time.Second
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		timeout = d
	}
	if timeout > maxExitWait {
		timeout = maxExitWait
	}

	value, err := h.ExitValue(timeout)
	view := exitView{Instance: h.InstanceID(), Available: true, Value: value}
	if err != nil {
		if errors.Is(err, blueberry.ErrResultNotAvailable) {
			view.Available = false
		}
		view.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, view)
}

func viewOf(h *blueberry.ApplicationHandle) handleView {
	return handleView{
		Instance:    h.InstanceID(),
		Application: h.Descriptor().ApplicationID(),
		State:       h.Status().String(),
		Default:     h.IsDefault(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
