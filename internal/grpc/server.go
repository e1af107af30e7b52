// Package grpc exposes the alert feed over gRPC using a JSON codec.
package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mr1hm/city-alerts/internal/feed"
	"github.com/mr1hm/city-alerts/internal/models"
)

type Server struct {
	feed       feed.AlertFeed
	grpcServer *grpc.Server

	// done ends open streams so GracefulStop can return.
	done     chan struct{}
	stopOnce sync.Once
}

func NewServer(f feed.AlertFeed) *Server {
	s := &Server{
		feed: f,
		done: make(chan struct{}),
	}
	s.grpcServer = grpc.NewServer()
	RegisterAlertServiceServer(s.grpcServer, s)
	return s
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("gRPC server listening", "addr", addr)
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.grpcServer.GracefulStop()
	})
}

func (s *Server) SendAlert(ctx context.Context, req *SendAlertRequest) (*SendAlertResponse, error) {
	if req.Draft == nil {
		return nil, status.Error(codes.InvalidArgument, "draft is required")
	}
	id, err := s.feed.Append(ctx, req.Draft)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SendAlertResponse{ID: id}, nil
}

func (s *Server) SetStatus(ctx context.Context, req *SetStatusRequest) (*SetStatusResponse, error) {
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	if err := s.feed.SetStatus(ctx, req.ID, req.Status); err != nil {
		return nil, toStatus(err)
	}
	return &SetStatusResponse{}, nil
}

func (s *Server) GetAlert(ctx context.Context, req *GetAlertRequest) (*models.Alert, error) {
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	a, err := s.feed.Get(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return a, nil
}

func (s *Server) StreamAlerts(req *StreamAlertsRequest, stream AlertStream) error {
	ctx := stream.Context()

	// Only the newest undelivered message is kept for a slow client.
	pending := make(chan *SnapshotMessage, 1)
	push := func(msg *SnapshotMessage) {
		for {
			select {
			case pending <- msg:
				return
			default:
			}
			select {
			case <-pending:
			default:
			}
		}
	}

	sub, err := s.feed.Subscribe(ctx, feed.ListenerFuncs{
		Snapshot: func(snap feed.Snapshot) {
			push(&SnapshotMessage{Version: snap.Version, Alerts: snap.Alerts})
		},
		Error: func(err error) {
			push(&SnapshotMessage{Error: err.Error()})
		},
	})
	if err != nil {
		return toStatus(err)
	}
	defer sub.Unsubscribe()

	slog.Info("client subscribed to alert stream")

	for {
		select {
		case <-ctx.Done():
			slog.Info("client disconnected from alert stream")
			return nil
		case <-s.done:
			return status.Error(codes.Unavailable, "server shutting down")
		case msg := <-pending:
			if err := stream.Send(msg); err != nil {
				slog.Error("failed to send snapshot to stream", "error", err)
				return err
			}
		}
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, models.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, models.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, models.ErrTerminalStatus):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, models.ErrTransport):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}

// fromStatus maps a gRPC error back onto the model error taxonomy.
func fromStatus(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return models.NewTransportError(op, err)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return &remoteError{sentinel: models.ErrValidation, msg: st.Message()}
	case codes.NotFound:
		return &remoteError{sentinel: models.ErrNotFound, msg: st.Message()}
	case codes.FailedPrecondition:
		return &remoteError{sentinel: models.ErrTerminalStatus, msg: st.Message()}
	default:
		return models.NewTransportError(op, err)
	}
}

// remoteError keeps the server's message while matching the local sentinel.
type remoteError struct {
	sentinel error
	msg      string
}

func (e *remoteError) Error() string        { return e.msg }
func (e *remoteError) Is(target error) bool { return target == e.sentinel }
