// Package backend is the in-process reference register service: a small
// HTTP key-value store with an atomic CAS endpoint and a partition control
// hook, so the harness can run end to end without an external system.
//
// Partition behavior mirrors a real replicated store losing its quorum:
// writes still land on the local replica but the commit acknowledgement is
// lost (503 after applying), and cas is rejected without applying. With
// stale-read mode on, reads during a partition serve a snapshot taken when
// the partition began — a deliberate linearizability violation the checker
// should catch.
package backend

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
)

type Server struct {
	mu          sync.Mutex
	values      map[int]*int
	partitioned bool
	staleReads  bool
	snapshot    map[int]*int
}

type Options struct {
	// StaleReads makes reads during a partition serve pre-partition
	// values, injecting a real consistency bug on purpose.
	StaleReads bool
}

func NewServer(opts Options) *Server {
	return &Server{
		values:     make(map[int]*int),
		staleReads: opts.StaleReads,
	}
}

// Handler returns the HTTP surface of the service.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/register/{key}", s.handleRead)
	r.Put("/register/{key}", s.handleWrite)
	r.Post("/register/{key}/cas", s.handleCAS)

	r.Post("/partition", s.handlePartition(true))
	r.Delete("/partition", s.handlePartition(false))

	return r
}

type registerValue struct {
	Value *int `json:"value"`
}

type casRequest struct {
	Expected int `json:"expected"`
	New      int `json:"new"`
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.values
	if s.partitioned {
		if !s.staleReads {
			http.Error(w, "partitioned", http.StatusServiceUnavailable)
			return
		}
		src = s.snapshot
	}
	var out registerValue
	if v := src[key]; v != nil {
		c := *v
		out.Value = &c
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	var in registerValue
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Value == nil {
		http.Error(w, "bad write body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v := *in.Value
	s.values[key] = &v
	if s.partitioned {
		// Applied locally but the ack is lost.
		http.Error(w, "commit status unknown", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCAS(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}
	var in casRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad cas body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.partitioned {
		http.Error(w, "partitioned", http.StatusServiceUnavailable)
		return
	}
	cur := s.values[key]
	if cur == nil || *cur != in.Expected {
		http.Error(w, "compare failed", http.StatusConflict)
		return
	}
	v := in.New
	s.values[key] = &v
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePartition(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if active && !s.partitioned {
			s.snapshot = make(map[int]*int, len(s.values))
			for k, v := range s.values {
				if v != nil {
					c := *v
					s.snapshot[k] = &c
				}
			}
		}
		s.partitioned = active
		w.WriteHeader(http.StatusNoContent)
	}
}

func keyParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	key, err := strconv.Atoi(chi.URLParam(r, "key"))
	if err != nil {
		http.Error(w, "bad key", http.StatusBadRequest)
		return 0, false
	}
	return key, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
