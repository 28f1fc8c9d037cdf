// Package web serves the read-only governance API: the latest report, the strategy
// kill list and a server-sent event stream of allocation snapshots.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/marti-governor/internal/domain"
	"github.com/vadiminshakov/marti-governor/pkg/retrier"
)

const snapshotPollInterval = 2 * time.Second

type allocationReader interface {
	After(index uint64) ([]domain.AllocationRecord, error)
}

type reportReader interface {
	Latest() (*domain.Report, error)
}

type killListReader interface {
	Load() (domain.KillList, error)
}

// Server exposes the governance state over HTTP. Readers may see the previous
// cycle until the next commit lands.
type Server struct {
	Addr        string
	Allocations allocationReader
	Reports     reportReader
	KillList    killListReader

	l            *zap.Logger
	pollInterval time.Duration
	// retry covers the initial history load of a stream subscriber.
	retry        *retrier.Retrier
}

// NewServer creates a new web server instance.
func NewServer(l *zap.Logger, addr string, allocations allocationReader, reports reportReader, killList killListReader) *Server {
	return &Server{
		Addr:         addr,
		Allocations:  allocations,
		Reports:      reports,
		KillList:     killList,
		l:            l,
		pollInterval: snapshotPollInterval,
		retry: retrier.New(
			retrier.WithInitialInterval(50*time.Millisecond),
			retrier.WithMaxInterval(500*time.Millisecond),
			retrier.WithMaxRetries(2),
		),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/report/latest", s.handleLatestReport)
	mux.HandleFunc("/killlist", s.handleKillList)
	mux.HandleFunc("/allocations/stream", s.handleAllocationStream)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

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

	s.l.Info("serving governance api", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "ok")
}

func (s *Server) handleLatestReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Reports == nil {
		http.Error(w, "report store not available", http.StatusServiceUnavailable)
		return
	}

	report, err := s.Reports.Latest()
	if err != nil {
		s.l.Error("load latest report", zap.Error(err))
		http.Error(w, "failed to load report", http.StatusInternalServerError)
		return
	}
	if report == nil {
		http.Error(w, "no governance cycle committed yet", http.StatusNotFound)
		return
	}

	s.writeJSON(w, report)
}

func (s *Server) handleKillList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.KillList == nil {
		http.Error(w, "kill list store not available", http.StatusServiceUnavailable)
		return
	}

	list, err := s.KillList.Load()
	if err != nil {
		s.l.Error("load kill list", zap.Error(err))
		http.Error(w, "failed to load kill list", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, list)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.l.Error("encode response", zap.Error(err))
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

// handleAllocationStream replays snapshots after ?after=<index> (or Last-Event-ID)
// and then follows the history.
func (s *Server) handleAllocationStream(w http.ResponseWriter, r *http.Request) {
	if s.Allocations == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "allocation store not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastIndex, err := resumeIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// send a comment heartbeat every 30s so proxies keep connection
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()

	sendSnapshots := func(records []domain.AllocationRecord) error {
		for _, record := range records {
			payload, err := json.Marshal(record.Snapshot)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", record.Index)
			fmt.Fprintf(w, "event: allocation\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = record.Index
		}
		return nil
	}

	records, err := retrier.DoWithData(s.retry, r.Context(), func(context.Context) ([]domain.AllocationRecord, error) {
		return s.Allocations.After(lastIndex)
	})
	if err == nil {
		err = sendSnapshots(records)
	}
	if err != nil {
		http.Error(w, "failed to load allocations", http.StatusInternalServerError)
		s.l.Error("allocation stream initial load", zap.Error(err))
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
			records, err := s.Allocations.After(lastIndex)
			if err == nil {
				err = sendSnapshots(records)
			}
			if err != nil {
				s.l.Warn("allocation stream poll", zap.Error(err))
			}
		}
	}
}

func resumeIndex(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}

	idx, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid resume index %q", raw)
	}
	return idx, nil
}
