// Package portal provides the provisioning HTTP server: a credentials form,
// its submit endpoint and a JSON status view. Submissions are queued by the
// handlers and applied by the scheduler through Service.
package portal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/pulse-meter/internal/link"
	"github.com/sweeney/pulse-meter/internal/status"
	"github.com/sweeney/pulse-meter/internal/store"
)

// SavedMessage is the body returned by a successful submit.
const SavedMessage = "Saved! Restarting..."

// maxSSID is the longest network name the radio accepts.
const maxSSID = 32

// Submission is one accepted form post.
type Submission struct {
	SSID     string
	Password string
	CPF      string
}

// Server serves the provisioning portal over HTTP.
type Server struct {
	httpServer  *http.Server
	tracker     *status.Tracker
	store       store.Store
	log         logrus.FieldLogger
	submissions chan Submission
}

// New creates a Server that reads state from tracker and writes accepted
// submissions to s when serviced.
func New(addr string, tracker *status.Tracker, s store.Store, log logrus.FieldLogger) *Server {
	srv := &Server{
		tracker:     tracker,
		store:       s,
		log:         log.WithField("component", "portal"),
		submissions: make(chan Submission, 1),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", srv.handleIndex).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/index.html", srv.handleIndex).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/status.json", srv.handleJSON).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/save", srv.handleSave).Methods(http.MethodPost)
	r.HandleFunc("/save", allow(http.MethodPost))

	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return srv
}

// Handler returns the portal's HTTP handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Service applies at most one queued submission without blocking. It
// reports whether credentials were saved, in which case the caller must
// restart the device.
func (s *Server) Service() (bool, error) {
	var sub Submission
	select {
	case sub = <-s.submissions:
	default:
		return false, nil
	}

	if err := link.SaveCredentials(s.store, link.Credentials{SSID: sub.SSID, Password: sub.Password}); err != nil {
		return false, fmt.Errorf("save credentials: %w", err)
	}
	if sub.CPF != "" {
		if err := s.store.Set(store.NamespaceUser, store.KeyCPF, sub.CPF); err != nil {
			s.log.WithError(err).Warn("user linkage not saved")
		}
	}
	s.log.WithField("ssid", sub.SSID).Info("credentials saved")
	return true, nil
}

// allow answers 405 with the methods a path accepts.
func allow(methods ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", strings.Join(methods, ", "))
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	sub, err := parseSubmission(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	select {
	case s.submissions <- sub:
	default:
		http.Error(w, "a submission is already pending", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<h2>%s</h2>", SavedMessage)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func parseSubmission(r *http.Request) (Submission, error) {
	if err := r.ParseForm(); err != nil {
		return Submission{}, fmt.Errorf("bad form: %w", err)
	}
	sub := Submission{
		SSID:     strings.TrimSpace(r.PostForm.Get("ssid")),
		Password: r.PostForm.Get("password"),
		CPF:      strings.TrimSpace(r.PostForm.Get("cpf")),
	}
	switch {
	case sub.SSID == "":
		return Submission{}, errors.New("ssid is required")
	case len(sub.SSID) > maxSSID:
		return Submission{}, fmt.Errorf("ssid longer than %d bytes", maxSSID)
	}
	return sub, nil
}
