package api

import (
	"context"
	"encoding/json"
	"strings"

	"zapis/internal/domain"
	"zapis/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

const (
	jsonCodecName   = "json"
	slotServiceName = "zapis.slots.v1.SlotService"
	listSlotsMethod = "/" + slotServiceName + "/ListSlots"
)

// jsonCodec lets clients call the slot service with content-subtype "json".
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type ListSlotsRequest struct {
	ServiceID string `json:"service_id"`
	Date      string `json:"date"`
}

type ListSlotsResponse struct {
	ServiceID string        `json:"service_id"`
	Date      string        `json:"date"`
	Slots     []models.Slot `json:"slots"`
}

type SlotServiceServer interface {
	ListSlots(ctx context.Context, req *ListSlotsRequest) (*ListSlotsResponse, error)
}

// SlotService exposes slot availability over gRPC.
type SlotService struct {
	slots domain.SlotResolver
}

func NewSlotService(slots domain.SlotResolver) *SlotService {
	return &SlotService{slots: slots}
}

func (s *SlotService) ListSlots(ctx context.Context, req *ListSlotsRequest) (*ListSlotsResponse, error) {
	serviceID := strings.TrimSpace(req.ServiceID)
	if serviceID == "" {
		return nil, status.Error(codes.InvalidArgument, "service_id is required")
	}
	date := strings.TrimSpace(req.Date)
	if err := validate.Var(date, "required,datetime=2006-01-02"); err != nil {
		return nil, status.Error(codes.InvalidArgument, "date must be YYYY-MM-DD")
	}

	slots, err := s.slots.AvailableSlots(ctx, serviceID, date)
	if err != nil {
		return nil, grpcStatus(err)
	}
	return &ListSlotsResponse{ServiceID: serviceID, Date: date, Slots: slots}, nil
}

func RegisterSlotServiceServer(s grpc.ServiceRegistrar, srv SlotServiceServer) {
	s.RegisterService(&slotServiceDesc, srv)
}

var slotServiceDesc = grpc.ServiceDesc{
	ServiceName: slotServiceName,
	HandlerType: (*SlotServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListSlots", Handler: listSlotsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zapis/slots/v1",
}

func listSlotsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListSlotsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SlotServiceServer).ListSlots(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listSlotsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SlotServiceServer).ListSlots(ctx, req.(*ListSlotsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// SlotClient calls the slot service using the JSON codec.
type SlotClient struct {
	cc grpc.ClientConnInterface
}

func NewSlotClient(cc grpc.ClientConnInterface) *SlotClient {
	return &SlotClient{cc: cc}
}

func (c *SlotClient) ListSlots(ctx context.Context, req *ListSlotsRequest, opts ...grpc.CallOption) (*ListSlotsResponse, error) {
	out := new(ListSlotsResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, listSlotsMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
