package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/mr1hm/city-alerts/internal/models"
)

const (
	serviceName = "alerts.v1.AlertService"

	sendAlertMethod    = "/" + serviceName + "/SendAlert"
	setStatusMethod    = "/" + serviceName + "/SetStatus"
	getAlertMethod     = "/" + serviceName + "/GetAlert"
	streamAlertsMethod = "/" + serviceName + "/StreamAlerts"
)

type SendAlertRequest struct {
	Draft *models.Draft `json:"draft"`
}

type SendAlertResponse struct {
	ID string `json:"id"`
}

type SetStatusRequest struct {
	ID     string        `json:"id"`
	Status models.Status `json:"status"`
}

type SetStatusResponse struct{}

type GetAlertRequest struct {
	ID string `json:"id"`
}

type StreamAlertsRequest struct{}

// SnapshotMessage is one stream delivery. A non-empty Error reports a failed
// refresh on the server; the stream stays open.
type SnapshotMessage struct {
	Version uint64         `json:"version"`
	Alerts  []models.Alert `json:"alerts"`
	Error   string         `json:"error,omitempty"`
}

// AlertServiceServer is implemented by Server.
type AlertServiceServer interface {
	SendAlert(ctx context.Context, req *SendAlertRequest) (*SendAlertResponse, error)
	SetStatus(ctx context.Context, req *SetStatusRequest) (*SetStatusResponse, error)
	GetAlert(ctx context.Context, req *GetAlertRequest) (*models.Alert, error)
	StreamAlerts(req *StreamAlertsRequest, stream AlertStream) error
}

// AlertStream is the server side of StreamAlerts.
type AlertStream interface {
	Send(msg *SnapshotMessage) error
	Context() context.Context
}

type alertStream struct {
	grpc.ServerStream
}

func (s *alertStream) Send(msg *SnapshotMessage) error {
	return s.ServerStream.SendMsg(msg)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AlertServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendAlert", Handler: sendAlertHandler},
		{MethodName: "SetStatus", Handler: setStatusHandler},
		{MethodName: "GetAlert", Handler: getAlertHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamAlerts", Handler: streamAlertsHandler, ServerStreams: true},
	},
	Metadata: "alerts/v1/alerts.proto",
}

// RegisterAlertServiceServer attaches srv to s.
func RegisterAlertServiceServer(s grpc.ServiceRegistrar, srv AlertServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func sendAlertHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SendAlertRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlertServiceServer).SendAlert(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sendAlertMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlertServiceServer).SendAlert(ctx, req.(*SendAlertRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func setStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SetStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlertServiceServer).SetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: setStatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlertServiceServer).SetStatus(ctx, req.(*SetStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getAlertHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetAlertRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlertServiceServer).GetAlert(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getAlertMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlertServiceServer).GetAlert(ctx, req.(*GetAlertRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamAlertsHandler(srv any, stream grpc.ServerStream) error {
	in := new(StreamAlertsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AlertServiceServer).StreamAlerts(in, &alertStream{stream})
}

// AlertServiceClient is the raw client stub. Client wraps it with feed
// semantics.
type AlertServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAlertServiceClient(cc grpc.ClientConnInterface) *AlertServiceClient {
	return &AlertServiceClient{cc: cc}
}

func (c *AlertServiceClient) SendAlert(ctx context.Context, in *SendAlertRequest, opts ...grpc.CallOption) (*SendAlertResponse, error) {
	out := new(SendAlertResponse)
	if err := c.cc.Invoke(ctx, sendAlertMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AlertServiceClient) SetStatus(ctx context.Context, in *SetStatusRequest, opts ...grpc.CallOption) (*SetStatusResponse, error) {
	out := new(SetStatusResponse)
	if err := c.cc.Invoke(ctx, setStatusMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AlertServiceClient) GetAlert(ctx context.Context, in *GetAlertRequest, opts ...grpc.CallOption) (*models.Alert, error) {
	out := new(models.Alert)
	if err := c.cc.Invoke(ctx, getAlertMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// SnapshotStream is the client side of StreamAlerts.
type SnapshotStream interface {
	Recv() (*SnapshotMessage, error)
}

type snapshotStream struct {
	grpc.ClientStream
}

func (s *snapshotStream) Recv() (*SnapshotMessage, error) {
	m := new(SnapshotMessage)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *AlertServiceClient) StreamAlerts(ctx context.Context, in *StreamAlertsRequest, opts ...grpc.CallOption) (SnapshotStream, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], streamAlertsMethod, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &snapshotStream{stream}, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
}
