package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sorrycc/elasticdl/master"
	"github.com/sorrycc/elasticdl/pkg/api"
	pkgerrors "github.com/sorrycc/elasticdl/pkg/errors"
)

func MakeHandler(svc master.Service, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(api.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Route("/tasks", func(r chi.Router) {
		r.Get("/{workerID}", otelhttp.NewHandler(kithttp.NewServer(
			getTaskEndpoint(svc),
			decodeGetTaskReq,
			api.EncodeResponse,
			opts...,
		), "get-task").ServeHTTP)
		r.Post("/{taskID}/result", otelhttp.NewHandler(kithttp.NewServer(
			reportTaskResultEndpoint(svc),
			decodeReportTaskResultReq,
			api.EncodeResponse,
			opts...,
		), "report-task-result").ServeHTTP)
	})

	mux.Route("/model", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			getModelEndpoint(svc),
			decodeGetModelReq,
			api.EncodeResponse,
			opts...,
		), "get-model").ServeHTTP)
		r.Post("/variables", otelhttp.NewHandler(kithttp.NewServer(
			reportVariableEndpoint(svc),
			decodeReportVariableReq,
			api.EncodeResponse,
			opts...,
		), "report-variable").ServeHTTP)
		r.Post("/gradients", otelhttp.NewHandler(kithttp.NewServer(
			reportGradientEndpoint(svc),
			decodeReportGradientReq,
			api.EncodeResponse,
			opts...,
		), "report-gradient").ServeHTTP)
	})

	mux.Delete("/workers/{workerID}", otelhttp.NewHandler(kithttp.NewServer(
		recoverWorkerEndpoint(svc),
		decodeRecoverWorkerReq,
		api.EncodeResponse,
		opts...,
	), "recover-worker").ServeHTTP)

	mux.Post("/evaluations/metrics", otelhttp.NewHandler(kithttp.NewServer(
		reportEvaluationMetricsEndpoint(svc),
		decodeReportEvaluationMetricsReq,
		api.EncodeResponse,
		opts...,
	), "report-evaluation-metrics").ServeHTTP)

	mux.Post("/checkpoints/export", otelhttp.NewHandler(kithttp.NewServer(
		saveCheckpointEndpoint(svc),
		decodeSaveCheckpointReq,
		api.EncodeResponse,
		opts...,
	), "save-checkpoint").ServeHTTP)

	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", api.ContentType)
		if err := json.NewEncoder(w).Encode(map[string]string{
			"status":      "ok",
			"instance_id": instanceID,
		}); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeGetTaskReq(_ context.Context, r *http.Request) (any, error) {
	return getTaskReq{
		workerID: chi.URLParam(r, "workerID"),
	}, nil
}

func decodeGetModelReq(_ context.Context, r *http.Request) (any, error) {
	req := getModelReq{mode: master.ReadMinimum}
	if v := r.URL.Query().Get(api.VersionKey); v != "" {
		version, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, pkgerrors.ErrInvalidData
		}
		req.version = version
	}
	if m := r.URL.Query().Get(api.ModeKey); m != "" {
		req.mode = master.ReadMode(m)
	}

	return req, nil
}

func decodeReportVariableReq(_ context.Context, r *http.Request) (any, error) {
	var req reportVariableReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, pkgerrors.ErrInvalidData
	}

	return req, nil
}

func decodeReportGradientReq(_ context.Context, r *http.Request) (any, error) {
	var req reportGradientReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, pkgerrors.ErrInvalidData
	}

	return req, nil
}

func decodeReportTaskResultReq(_ context.Context, r *http.Request) (any, error) {
	req := reportTaskResultReq{
		taskID: chi.URLParam(r, "taskID"),
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, pkgerrors.ErrInvalidData
		}
	}

	return req, nil
}

func decodeRecoverWorkerReq(_ context.Context, r *http.Request) (any, error) {
	return recoverWorkerReq{
		workerID: chi.URLParam(r, "workerID"),
	}, nil
}

func decodeReportEvaluationMetricsReq(_ context.Context, r *http.Request) (any, error) {
	var req reportEvaluationMetricsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, pkgerrors.ErrInvalidData
	}

	return req, nil
}

func decodeSaveCheckpointReq(_ context.Context, r *http.Request) (any, error) {
	var req saveCheckpointReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, pkgerrors.ErrInvalidData
	}

	return req, nil
}
