package network

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "consensuscore.Network"

const (
	methodGetLastBlock          = "/consensuscore.Network/GetLastBlock"
	methodGetBlocksFromID       = "/consensuscore.Network/GetBlocksFromId"
	methodGetHighestCommonBlock = "/consensuscore.Network/GetHighestCommonBlock"
	methodGetHeaders            = "/consensuscore.Network/GetHeaders"
	methodPostBlock             = "/consensuscore.Network/PostBlock"
	methodPostNodeInfo          = "/consensuscore.Network/PostNodeInfo"
)

// serviceDesc wires the Server's handler methods into grpc's dispatch
// table by hand, in place of the ServiceDesc protoc-gen-go-grpc would
// generate from a .proto file: every message on this service is
// already a byte-exact wire format spec.md §6 defines directly, so
// there is no schema left for protobuf to generate from.
// networkServer is a placeholder interface satisfying grpc.ServiceDesc's
// HandlerType requirement that it be a pointer to an interface; the actual
// method handlers below dispatch via a direct *Server type assertion.
type networkServer interface{}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*networkServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetLastBlock", Handler: getLastBlockHandler},
		{MethodName: "GetBlocksFromId", Handler: getBlocksFromIDHandler},
		{MethodName: "GetHighestCommonBlock", Handler: getHighestCommonBlockHandler},
		{MethodName: "GetHeaders", Handler: getHeadersHandler},
		{MethodName: "PostBlock", Handler: postBlockHandler},
		{MethodName: "PostNodeInfo", Handler: postNodeInfoHandler},
	},
	Metadata: "network.proto",
}

func decodeRaw(dec func(interface{}) error) (rawMessage, error) {
	var req rawMessage
	if err := dec(&req); err != nil {
		return nil, err
	}
	return req, nil
}

func getLastBlockHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req, err := decodeRaw(dec)
	if err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).handleGetLastBlock(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetLastBlock}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).handleGetLastBlock(ctx, req.(rawMessage))
	}
	return interceptor(ctx, req, info, handler)
}

func getBlocksFromIDHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req, err := decodeRaw(dec)
	if err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).handleGetBlocksFromID(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetBlocksFromID}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).handleGetBlocksFromID(ctx, req.(rawMessage))
	}
	return interceptor(ctx, req, info, handler)
}

func getHighestCommonBlockHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req, err := decodeRaw(dec)
	if err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).handleGetHighestCommonBlock(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetHighestCommonBlock}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).handleGetHighestCommonBlock(ctx, req.(rawMessage))
	}
	return interceptor(ctx, req, info, handler)
}

func getHeadersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req, err := decodeRaw(dec)
	if err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).handleGetHeaders(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetHeaders}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).handleGetHeaders(ctx, req.(rawMessage))
	}
	return interceptor(ctx, req, info, handler)
}

func postBlockHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req, err := decodeRaw(dec)
	if err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).handlePostBlock(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPostBlock}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).handlePostBlock(ctx, req.(rawMessage))
	}
	return interceptor(ctx, req, info, handler)
}

func postNodeInfoHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req, err := decodeRaw(dec)
	if err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).handlePostNodeInfo(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPostNodeInfo}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).handlePostNodeInfo(ctx, req.(rawMessage))
	}
	return interceptor(ctx, req, info, handler)
}
