/*
 * === This file is part of orchestra ===
 *
 * Copyright 2025 the orchestra authors.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package server exposes a supervising controller over HTTP: read-only
// status snapshots, Prometheus metrics, and stop and restart requests.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sensornode/orchestra/common/logger"
	"github.com/sensornode/orchestra/core/lifecycle"
	"github.com/sensornode/orchestra/core/sm"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "server")

const (
	PATH_STATUS    = "/v1/status"
	PATH_STOP      = "/v1/stop"
	PATH_COMPONENT = "/v1/components/{id}"
	PATH_RESTART   = "/v1/components/{id}/restart"
	PATH_METRICS   = "/metrics"
)

// Controller is what the HTTP service needs from the lifecycle controller.
type Controller interface {
	Status() lifecycle.Report
	Component(id string) (lifecycle.ComponentStatus, bool)
	RequestStop()
	RestartService(ctx context.Context, pattern string) (map[string]sm.State, error)
}

type HttpService struct {
	ctl Controller
}

type errorResponse struct {
	Error string `json:"error"`
}

type RestartResponse struct {
	States map[string]sm.State `json:"states"`
	Error  string              `json:"error,omitempty"`
	System sm.State            `json:"system,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	out, err := json.MarshalIndent(payload, "", "\t")
	if err != nil {
		_, _ = fmt.Fprintln(w, `{"error": "cannot encode response"}`)
		return
	}
	_, _ = fmt.Fprintln(w, string(out))
}

func (httpsvc *HttpService) ApiStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, httpsvc.ctl.Status())
}

func (httpsvc *HttpService) ApiComponent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cs, ok := httpsvc.ctl.Component(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("unknown component %s", id)})
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (httpsvc *HttpService) ApiStop(w http.ResponseWriter, _ *http.Request) {
	httpsvc.ctl.RequestStop()
	writeJSON(w, http.StatusAccepted, httpsvc.ctl.Status())
}

func (httpsvc *HttpService) ApiRestart(w http.ResponseWriter, r *http.Request) {
	pattern := mux.Vars(r)["id"]
	log.WithField("pattern", pattern).Info("restart requested over HTTP")

	states, err := httpsvc.ctl.RestartService(r.Context(), pattern)
	resp := RestartResponse{States: states}
	if err == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Error = err.Error()
	var (
		noMatch lifecycle.NoMatchError
		busy    lifecycle.NotSupervisingError
	)
	switch {
	case errors.As(err, &noMatch):
		writeJSON(w, http.StatusNotFound, resp)
	case errors.As(err, &busy):
		resp.System = busy.State
		writeJSON(w, http.StatusConflict, resp)
	case len(states) > 0:
		writeJSON(w, http.StatusOK, resp)
	default:
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func NewHandler(ctl Controller) http.Handler {
	httpsvc := &HttpService{ctl: ctl}
	router := mux.NewRouter()

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/status", httpsvc.ApiStatus).Methods(http.MethodGet)
	api.HandleFunc("/stop", httpsvc.ApiStop).Methods(http.MethodPost)
	api.HandleFunc("/components/{id}", httpsvc.ApiComponent).Methods(http.MethodGet)
	api.HandleFunc("/components/{id}/restart", httpsvc.ApiRestart).Methods(http.MethodPost)

	router.Handle(PATH_METRICS, promhttp.Handler()).Methods(http.MethodGet)
	return router
}

func NewHttpServer(addr string, ctl Controller) *http.Server {
	return &http.Server{
		Handler:     NewHandler(ctl),
		Addr:        addr,
		ReadTimeout: 15 * time.Second,
		// restarts wait on remote commands
		WriteTimeout: 10 * time.Minute,
	}
}

// Serve listens on srv.Addr until ctx is done. A listener that cannot be
// opened is returned as an error; the caller decides whether that is fatal.
func Serve(ctx context.Context, srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	log.WithField("address", ln.Addr().String()).Info("status endpoint listening")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if sErr := srv.Serve(ln); sErr != nil && !errors.Is(sErr, http.ErrServerClosed) {
			log.WithError(sErr).Error("status endpoint stopped")
		}
	}()
	return nil
}
