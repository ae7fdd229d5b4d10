// Package rpctool exposes the three vault operations as a binary gRPC
// service, VaultService, with google.protobuf.Struct request/response
// messages in place of generated message types (no .proto toolchain is
// wired into this build). A grpc.ServiceDesc is constructed by hand,
// mirroring the shape protoc-gen-go-grpc would otherwise emit.
package rpctool

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cryptolabinc/rune-vault/internal/auth"
	"github.com/cryptolabinc/rune-vault/internal/vaultservice"
)

const transportName = "rpc"

// ServiceName is the fully qualified gRPC service name, also used as the
// health-check service identifier.
const ServiceName = "rune.vault.v1.VaultService"

// MaxMessageSize bounds both inbound and outbound message size (256 MiB),
// large enough for a multi-shard CiphertextScore blob without allowing
// unbounded allocation.
const MaxMessageSize = 256 << 20

// ServerOptions returns the grpc.ServerOption set every vault RPC listener
// should apply.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
	}
}

// Register attaches the VaultService and a serving health check to srv.
func Register(srv *grpc.Server, svc *vaultservice.Service) {
	srv.RegisterService(&serviceDesc, &server{svc: svc})

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
}

type server struct {
	svc *vaultservice.Service
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetPublicKey", Handler: getPublicKeyHandler},
		{MethodName: "DecryptScores", Handler: decryptScoresHandler},
		{MethodName: "DecryptMetadata", Handler: decryptMetadataHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vault.proto",
}

func getPublicKeyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(structpb.Struct)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*server)
	handler := func(ctx context.Context, req any) (any, error) {
		token := req.(*structpb.Struct).Fields["token"].GetStringValue()
		out, err := s.svc.GetPublicKey(ctx, transportName, token)
		if err != nil {
			return nil, mapThrownError(err)
		}
		return jsonToStruct(out)
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetPublicKey"}, handler)
}

func decryptScoresHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(structpb.Struct)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*server)
	handler := func(ctx context.Context, req any) (any, error) {
		fields := req.(*structpb.Struct).Fields
		token := fields["token"].GetStringValue()
		blob := fields["encrypted_blob_b64"].GetStringValue()
		topK := int(fields["top_k"].GetNumberValue())
		out, err := s.svc.DecryptScores(ctx, transportName, token, blob, topK)
		if err != nil {
			return nil, mapThrownError(err)
		}
		return jsonArrayToStruct(out)
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/DecryptScores"}, handler)
}

func decryptMetadataHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(structpb.Struct)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*server)
	handler := func(ctx context.Context, req any) (any, error) {
		fields := req.(*structpb.Struct).Fields
		token := fields["token"].GetStringValue()
		var list []string
		for _, v := range fields["encrypted_metadata_list"].GetListValue().GetValues() {
			list = append(list, v.GetStringValue())
		}
		out, err := s.svc.DecryptMetadata(ctx, transportName, token, list)
		if err != nil {
			return nil, mapThrownError(err)
		}
		return jsonArrayToStruct(out)
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/DecryptMetadata"}, handler)
}

// mapThrownError maps the auth package's thrown error taxonomy onto gRPC
// status codes; soft errors never reach here since the service layer
// reports them in-band as a successful response.
func mapThrownError(err error) error {
	if _, ok := auth.IsRateLimited(err); ok {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	if _, ok := auth.IsUnauthenticated(err); ok {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	log.Error("rpc: unexpected thrown error", "err", err)
	return status.Error(codes.Internal, err.Error())
}

func jsonToStruct(raw string) (*structpb.Struct, error) {
	var v map[string]any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, status.Error(codes.Internal, "encoding response: "+err.Error())
	}
	st, err := structpb.NewStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encoding response: "+err.Error())
	}
	return st, nil
}

// jsonArrayToStruct wraps a JSON array (decrypt_scores/decrypt_metadata
// return top-level arrays, not objects) in a "result" field so it still
// fits the struct-typed wire message.
func jsonArrayToStruct(raw string) (*structpb.Struct, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, status.Error(codes.Internal, "encoding response: "+err.Error())
	}
	if m, ok := v.(map[string]any); ok {
		st, err := structpb.NewStruct(m)
		if err != nil {
			return nil, status.Error(codes.Internal, "encoding response: "+err.Error())
		}
		return st, nil
	}
	list, err := structpb.NewList(toAnySlice(v))
	if err != nil {
		return nil, status.Error(codes.Internal, "encoding response: "+err.Error())
	}
	return structpb.NewStruct(map[string]any{"result": list.AsSlice()})
}

func toAnySlice(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return nil
}
