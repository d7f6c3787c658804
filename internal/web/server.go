// Package web serves a read-only HTTP monitor for the trading server.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vadiminshakov/tradeserver/internal/storage/journal"
	"go.uber.org/zap"
)

const journalPollInterval = 2 * time.Second

type journalReader interface {
	EventsAfter(index uint64) ([]journal.EventRecord, error)
	CurrentIndex() uint64
}

type accountCounter interface {
	Len() int
}

type sessionCounter interface {
	ActiveSessions() int
	ClientsServed() int64
}

// Stats is the /stats payload.
type Stats struct {
	Accounts       int    `json:"accounts"`
	ActiveSessions int    `json:"active_sessions"`
	ClientsServed  int64  `json:"clients_served"`
	JournalIndex   uint64 `json:"journal_index"`
}

// Server exposes health, stats and an SSE stream of journal events.
type Server struct {
	Addr     string
	Journal  journalReader
	Accounts accountCounter
	Sessions sessionCounter
	logger   *zap.Logger
}

// NewServer creates a new monitor instance. Journal and sessions may be nil.
func NewServer(addr string, j journalReader, accounts accountCounter, sessions sessionCounter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Addr: addr, Journal: j, Accounts: accounts, Sessions: sessions, logger: logger}
}

// Handler returns the monitor routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/journal/stream", s.handleJournalStream)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("monitor listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "ok")
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var stats Stats
	if s.Accounts != nil {
		stats.Accounts = s.Accounts.Len()
	}
	if s.Sessions != nil {
		stats.ActiveSessions = s.Sessions.ActiveSessions()
		stats.ClientsServed = s.Sessions.ClientsServed()
	}
	if s.Journal != nil {
		stats.JournalIndex = s.Journal.CurrentIndex()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.logger.Warn("encode stats", zap.Error(err))
	}
}

func (s *Server) handleJournalStream(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "journal not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(journalPollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendEvents := func() error {
		records, err := s.Journal.EventsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			record.Event.Password = ""
			payload, err := json.Marshal(record)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "event: %s\n", record.Event.Kind)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = record.Index
		}
		return nil
	}

	if err := sendEvents(); err != nil {
		http.Error(w, "failed to load journal", http.StatusInternalServerError)
		s.logger.Warn("journal stream initial load", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendEvents(); err != nil {
				s.logger.Warn("journal stream poll", zap.Error(err))
			}
		}
	}
}
