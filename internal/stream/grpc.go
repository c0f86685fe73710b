package stream

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName     = "densecloud.v1.PointStream"
	subscribeMethod = "/" + ServiceName + "/Subscribe"

	// Full snapshots of large clouds exceed the 4 MB default.
	maxMsgSize = 64 * 1024 * 1024
)

// PointStreamServer is the server API for the PointStream service. The
// request carries an optional cloud id; each response carries one encoded
// DeltaFrame.
//
// Implementations must embed UnimplementedPointStreamServer so methods
// added to the service later fail with codes.Unimplemented instead of
// breaking the build.
type PointStreamServer interface {
	Subscribe(*wrapperspb.StringValue, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
	mustEmbedUnimplementedPointStreamServer()
}

// UnimplementedPointStreamServer answers every PointStream method with
// codes.Unimplemented. Embed it by value.
type UnimplementedPointStreamServer struct{}

func (UnimplementedPointStreamServer) Subscribe(*wrapperspb.StringValue, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	return status.Error(codes.Unimplemented, "method Subscribe not implemented")
}

func (UnimplementedPointStreamServer) mustEmbedUnimplementedPointStreamServer() {}

// PointStreamDesc describes the PointStream service declared in
// proto/densecloud/v1/stream.proto.
var PointStreamDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PointStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "densecloud/v1/stream.proto",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(PointStreamServer).Subscribe(req, &grpc.GenericServerStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ServerStream: stream})
}

// RegisterPointStreamServer registers srv on s.
func RegisterPointStreamServer(s grpc.ServiceRegistrar, srv PointStreamServer) {
	s.RegisterService(&PointStreamDesc, srv)
}

var _ PointStreamServer = (*Server)(nil)

// Server implements PointStreamServer on top of a Publisher.
type Server struct {
	UnimplementedPointStreamServer
	publisher *Publisher
}

// NewServer returns a PointStream server fed by p.
func NewServer(p *Publisher) *Server {
	return &Server{publisher: p}
}

// NewGRPCServer returns a gRPC server with the PointStream service
// registered and message limits sized for full snapshots.
func NewGRPCServer(p *Publisher, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterPointStreamServer(s, NewServer(p))
	return s
}

// Subscribe streams encoded frames until the client goes away or the
// publisher stops.
func (s *Server) Subscribe(req *wrapperspb.StringValue, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	filter, err := parseFilter(req.GetValue())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if !s.publisher.Stats().Running {
		return status.Error(codes.Unavailable, "publisher is not running")
	}

	sub := s.publisher.Subscribe(filter)
	defer sub.Close()
	diagf("grpc subscriber %d: filter=%s", sub.id, filterString(filter))

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done():
			return status.Error(codes.Unavailable, "publisher stopped")
		case f := <-sub.Frames():
			b, err := Encode(f)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.Send(&wrapperspb.BytesValue{Value: b}); err != nil {
				opsf("grpc subscriber %d send error: %v", sub.id, err)
				return err
			}
		}
	}
}

func parseFilter(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid cloud id %q", s)
	}
	return id, nil
}

func filterString(id uuid.UUID) string {
	if id == uuid.Nil {
		return "all"
	}
	return id.String()
}

// FrameStream receives decoded frames from a PointStream server.
type FrameStream struct {
	stream grpc.ServerStreamingClient[wrapperspb.BytesValue]
}

// Subscribe opens a PointStream subscription on cc. An empty cloudID
// subscribes to every cloud.
func Subscribe(ctx context.Context, cc grpc.ClientConnInterface, cloudID string, opts ...grpc.CallOption) (*FrameStream, error) {
	cs, err := cc.NewStream(ctx, &PointStreamDesc.Streams[0], subscribeMethod, append([]grpc.CallOption{grpc.MaxCallRecvMsgSize(maxMsgSize)}, opts...)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ClientStream: cs}
	if err := x.ClientStream.SendMsg(wrapperspb.String(cloudID)); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return &FrameStream{stream: x}, nil
}

// Recv blocks for the next frame.
func (s *FrameStream) Recv() (*DeltaFrame, error) {
	msg, err := s.stream.Recv()
	if err != nil {
		return nil, err
	}
	return Decode(msg.GetValue())
}
