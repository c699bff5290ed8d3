package store

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/limiquantix/quantix-sched/internal/config"
	"github.com/limiquantix/quantix-sched/internal/domain"
)

// transport performs one unary call against the resource store. A non-empty token is sent
// as a bearer credential.
type transport interface {
	call(ctx context.Context, procedure, token string, req *structpb.Struct) (*structpb.Struct, error)
	close() error
}

func newTransport(cfg config.StoreConfig) (transport, error) {
	switch cfg.Protocol {
	case "", config.ProtocolConnect:
		return newConnectTransport(cfg.Endpoint, http.DefaultClient), nil
	case config.ProtocolGRPCWeb:
		return newConnectTransport(cfg.Endpoint, http.DefaultClient, connect.WithGRPCWeb()), nil
	case config.ProtocolGRPC:
		return newGRPCTransport(cfg.Endpoint)
	default:
		return nil, fmt.Errorf("%w: unknown store protocol %q", domain.ErrConfiguration, cfg.Protocol)
	}
}

// connectTransport speaks the Connect or gRPC-Web protocol over plain HTTP.
type connectTransport struct {
	clients map[string]*connect.Client[structpb.Struct, structpb.Struct]
}

func newConnectTransport(endpoint string, httpClient connect.HTTPClient, opts ...connect.ClientOption) *connectTransport {
	base := strings.TrimRight(endpoint, "/")
	clients := make(map[string]*connect.Client[structpb.Struct, structpb.Struct], len(Procedures))
	for _, procedure := range Procedures {
		clients[procedure] = connect.NewClient[structpb.Struct, structpb.Struct](httpClient, base+procedure, opts...)
	}
	return &connectTransport{clients: clients}
}

func (t *connectTransport) call(ctx context.Context, procedure, token string, msg *structpb.Struct) (*structpb.Struct, error) {
	client, ok := t.clients[procedure]
	if !ok {
		return nil, fmt.Errorf("unknown procedure %s", procedure)
	}

	req := connect.NewRequest(msg)
	if token != "" {
		req.Header().Set("Authorization", "Bearer "+token)
	}

	resp, err := client.CallUnary(ctx, req)
	if err != nil {
		return nil, classify(procedure, connect.CodeOf(err), err)
	}
	return resp.Msg, nil
}

func (t *connectTransport) close() error {
	return nil
}

// grpcTransport speaks native gRPC using the proto codec for structpb messages.
type grpcTransport struct {
	conn *grpc.ClientConn
}

func newGRPCTransport(endpoint string) (*grpcTransport, error) {
	conn, err := grpc.NewClient(grpcTarget(endpoint),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create grpc client for %s: %w", domain.ErrTransport, endpoint, err)
	}
	return &grpcTransport{conn: conn}, nil
}

func (t *grpcTransport) call(ctx context.Context, procedure, token string, req *structpb.Struct) (*structpb.Struct, error) {
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}

	resp := &structpb.Struct{}
	if err := t.conn.Invoke(ctx, procedure, req, resp); err != nil {
		// gRPC and Connect share the same code numbering.
		return nil, classify(procedure, connect.Code(status.Code(err)), err)
	}
	return resp, nil
}

func (t *grpcTransport) close() error {
	return t.conn.Close()
}

// grpcTarget strips the URL scheme from endpoint, leaving host:port.
func grpcTarget(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}

// classify maps an RPC failure onto the scheduler error taxonomy.
func classify(procedure string, code connect.Code, err error) error {
	switch code {
	case connect.CodeUnauthenticated, connect.CodePermissionDenied:
		return fmt.Errorf("%w: %s: %w", domain.ErrAuth, procedure, err)
	case connect.CodeNotFound, connect.CodeFailedPrecondition, connect.CodeInvalidArgument, connect.CodeResourceExhausted:
		if procedure == ProcedureDispatchVM {
			return fmt.Errorf("%w: %w", domain.ErrDispatchRejected, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrTransport, procedure, err)
}
