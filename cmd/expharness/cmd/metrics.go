package cmd

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/expharness/internal/logging"
	"github.com/psantana5/expharness/internal/report"
)

func newMetricsRouter(metrics *report.Metrics) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler()).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
	}).Methods("GET")
	return router
}

// startMetricsServer listens before returning so a bad address fails the run early
func startMetricsServer(addr string, metrics *report.Metrics, logger *logging.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Handler:           newMetricsRouter(metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	logger.Info("Serving metrics", map[string]interface{}{"addr": ln.Addr().String()})
	return srv, nil
}
