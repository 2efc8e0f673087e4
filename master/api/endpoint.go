package api

import (
	"context"

	"github.com/go-kit/kit/endpoint"

	"github.com/sorrycc/elasticdl/master"
	pkgerrors "github.com/sorrycc/elasticdl/pkg/errors"
)

func getTaskEndpoint(svc master.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(getTaskReq)
		if !ok {
			return taskResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return taskResponse{}, err
		}

		assignment, err := svc.GetTask(ctx, req.workerID)
		if err != nil {
			return taskResponse{}, err
		}

		return taskResponse{TaskAssignment: assignment}, nil
	}
}

func getModelEndpoint(svc master.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(getModelReq)
		if !ok {
			return modelResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return modelResponse{}, err
		}

		snap, err := svc.GetModel(ctx, req.version, req.mode)
		if err != nil {
			return modelResponse{}, err
		}

		return modelResponse{Snapshot: snap}, nil
	}
}

func reportVariableEndpoint(svc master.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(reportVariableReq)
		if !ok {
			return emptyResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return emptyResponse{}, err
		}

		if err := svc.ReportVariable(ctx, req.toTensors()); err != nil {
			return emptyResponse{}, err
		}

		return emptyResponse{}, nil
	}
}

func reportGradientEndpoint(svc master.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(reportGradientReq)
		if !ok {
			return ackResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return ackResponse{}, err
		}

		ack, err := svc.ReportGradient(ctx, req.ModelVersion, req.toGradients())
		if err != nil {
			return ackResponse{}, err
		}

		return ackResponse{GradientAck: ack}, nil
	}
}

func reportTaskResultEndpoint(svc master.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(reportTaskResultReq)
		if !ok {
			return emptyResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return emptyResponse{}, err
		}

		if err := svc.ReportTaskResult(ctx, req.taskID, req.ErrMessage); err != nil {
			return emptyResponse{}, err
		}

		return emptyResponse{}, nil
	}
}

func reportEvaluationMetricsEndpoint(svc master.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(reportEvaluationMetricsReq)
		if !ok {
			return ackResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return ackResponse{}, err
		}

		ack, err := svc.ReportEvaluationMetrics(ctx, req.ModelVersion, req.Metrics)
		if err != nil {
			return ackResponse{}, err
		}

		return ackResponse{GradientAck: ack}, nil
	}
}

func recoverWorkerEndpoint(svc master.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(recoverWorkerReq)
		if !ok {
			return recoverResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return recoverResponse{}, err
		}

		recovered, err := svc.RecoverWorker(ctx, req.workerID)
		if err != nil {
			return recoverResponse{}, err
		}

		return recoverResponse{Recovered: recovered}, nil
	}
}

func saveCheckpointEndpoint(svc master.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(saveCheckpointReq)
		if !ok {
			return emptyResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return emptyResponse{}, err
		}

		if err := svc.SaveLatestCheckpoint(ctx, req.OutputPath); err != nil {
			return emptyResponse{}, err
		}

		return emptyResponse{}, nil
	}
}
