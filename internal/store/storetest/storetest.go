// Package storetest provides an in-memory resource store that serves the store RPC
// service over Connect and native gRPC, for use in tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/limiquantix/quantix-sched/internal/domain"
	"github.com/limiquantix/quantix-sched/internal/store"
)

// Default credentials accepted by a new Store.
const (
	Username = "oneadmin"
	Password = "opennebula"
)

// Store is a fake resource store. It is safe for concurrent use.
type Store struct {
	mu sync.Mutex

	username string
	password string // wire form: SHA-1 digest of Password
	secret   []byte
	tokenTTL time.Duration

	hosts []*domain.HostView
	vms   []*domain.VMView
	users []domain.UserView
	rules []map[string]any

	placements     []domain.Placement
	rejectDispatch map[int]bool
	failures       map[string]connect.Code
	latency        time.Duration
	calls          map[string]int
}

// New returns an empty store accepting Username and Password.
func New() *Store {
	creds, _ := store.ParseCredentials(Username + ":" + Password)
	return &Store{
		username:       creds.Username,
		password:       creds.Password,
		secret:         []byte(uuid.NewString()),
		tokenTTL:       time.Hour,
		rejectDispatch: make(map[int]bool),
		failures:       make(map[string]connect.Code),
		calls:          make(map[string]int),
	}
}

// Credentials returns the "<user>:<password>" secret accepted by the store.
func (s *Store) Credentials() string {
	return Username + ":" + Password
}

// AddHost adds a host. Hosts are listed in insertion order.
func (s *Store) AddHost(h domain.HostView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts = append(s.hosts, &h)
}

// AddVM adds a VM. A VM without a state is pending.
func (s *Store) AddVM(v domain.VMView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.State == "" {
		v.State = domain.VMStatePending
	}
	s.vms = append(s.vms, &v)
}

// AddUser adds a user.
func (s *Store) AddUser(u domain.UserView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, u)
}

// AddACLRule adds a rule in its textual form, e.g. ("@1", "HOST/%0", "DEPLOY"). Malformed
// rules are served as-is.
func (s *Store) AddACLRule(id int, user, resource, rights string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, map[string]any{
		"id":       id,
		"user":     user,
		"resource": resource,
		"rights":   rights,
	})
}

// Fail makes every call to procedure fail with code until Recover is called.
func (s *Store) Fail(procedure string, code connect.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[procedure] = code
}

// Recover clears an injected failure.
func (s *Store) Recover(procedure string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, procedure)
}

// RejectDispatch makes the store refuse to deploy the VM.
func (s *Store) RejectDispatch(vmID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectDispatch[vmID] = true
}

// SetLatency delays every call by d, or until the caller gives up.
func (s *Store) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// SetTokenTTL sets the lifetime of newly issued session tokens.
func (s *Store) SetTokenTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = d
}

// RevokeSessions invalidates every issued session token.
func (s *Store) RevokeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secret = []byte(uuid.NewString())
}

// Placements returns the accepted dispatches in order.
func (s *Store) Placements() []domain.Placement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Placement(nil), s.placements...)
}

// Calls returns how many times procedure was invoked.
func (s *Store) Calls(procedure string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[procedure]
}

// Host returns a copy of the host.
func (s *Store) Host(id int) (domain.HostView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.hosts {
		if h.ID == id {
			return *h, true
		}
	}
	return domain.HostView{}, false
}

// VM returns a copy of the VM.
func (s *Store) VM(id int) (domain.VMView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.vms {
		if v.ID == id {
			return *v, true
		}
	}
	return domain.VMView{}, false
}

// Handler returns an http.Handler serving the Connect, gRPC and gRPC-Web protocols.
func (s *Store) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, procedure := range store.Procedures {
		mux.Handle(procedure, connect.NewUnaryHandler(procedure,
			func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
				resp, err := s.handle(ctx, procedure, bearer(req.Header().Get("Authorization")), req.Msg)
				if err != nil {
					return nil, err
				}
				return connect.NewResponse(resp), nil
			},
		))
	}
	return mux
}

// ServeConnect starts an HTTP server for the store and returns its base URL. The server
// is closed when the test ends.
func (s *Store) ServeConnect(t testing.TB) string {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

// ServeGRPC starts a native gRPC server for the store and returns its endpoint. The server
// is stopped when the test ends.
func (s *Store) ServeGRPC(t testing.TB) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("storetest: listen: %v", err)
	}

	srv := grpc.NewServer()
	srv.RegisterService(s.serviceDesc(), s)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return "http://" + lis.Addr().String()
}

func (s *Store) serviceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: store.ServiceName,
		HandlerType: (*any)(nil),
	}
	for _, procedure := range store.Procedures {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: strings.TrimPrefix(procedure, "/"+store.ServiceName+"/"),
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				req := &structpb.Struct{}
				if err := dec(req); err != nil {
					return nil, err
				}
				var token string
				if md, ok := metadata.FromIncomingContext(ctx); ok {
					if vals := md.Get("authorization"); len(vals) > 0 {
						token = bearer(vals[0])
					}
				}
				resp, err := s.handle(ctx, procedure, token, req)
				if err != nil {
					return nil, grpcError(err)
				}
				return resp, nil
			},
		})
	}
	return desc
}

func (s *Store) handle(ctx context.Context, procedure, token string, req *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	s.calls[procedure]++
	latency := s.latency
	code, failing := s.failures[procedure]
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, connect.NewError(connect.CodeDeadlineExceeded, ctx.Err())
		}
	}
	if failing {
		return nil, connect.NewError(code, fmt.Errorf("injected failure on %s", procedure))
	}

	if procedure == store.ProcedureAuthenticate {
		return s.authenticate(req)
	}
	if err := s.verify(token); err != nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch procedure {
	case store.ProcedureListHosts:
		hosts := make([]any, 0, len(s.hosts))
		for _, h := range s.hosts {
			hosts = append(hosts, store.HostRecord(*h))
		}
		return structpb.NewStruct(map[string]any{"hosts": hosts})

	case store.ProcedureListPendingVMs:
		limit := int(req.GetFields()["limit"].GetNumberValue())
		vms := make([]any, 0, len(s.vms))
		for _, v := range s.vms {
			if limit > 0 && len(vms) >= limit {
				break
			}
			if v.IsPending() {
				vms = append(vms, store.VMRecord(*v))
			}
		}
		return structpb.NewStruct(map[string]any{"vms": vms})

	case store.ProcedureListUsers:
		users := make([]any, 0, len(s.users))
		for _, u := range s.users {
			users = append(users, store.UserRecord(u))
		}
		return structpb.NewStruct(map[string]any{"users": users})

	case store.ProcedureListACLRules:
		rules := make([]any, 0, len(s.rules))
		for _, r := range s.rules {
			rules = append(rules, r)
		}
		return structpb.NewStruct(map[string]any{"rules": rules})

	case store.ProcedureDispatchVM:
		return s.dispatch(
			int(req.GetFields()["vm_id"].GetNumberValue()),
			int(req.GetFields()["host_id"].GetNumberValue()),
		)
	}
	return nil, connect.NewError(connect.CodeUnimplemented, fmt.Errorf("unknown procedure %s", procedure))
}

func (s *Store) authenticate(req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	s.mu.Lock()
	defer s.mu.Unlock()

	if fields["username"].GetStringValue() != s.username || fields["password"].GetStringValue() != s.password {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("invalid username or password"))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   s.username,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
		ID:        uuid.NewString(),
	}).SignedString(s.secret)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return structpb.NewStruct(map[string]any{"token": token})
}

func (s *Store) verify(token string) error {
	if token == "" {
		return errors.New("missing session token")
	}
	s.mu.Lock()
	secret := s.secret
	s.mu.Unlock()

	_, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("invalid session token: %w", err)
	}
	return nil
}

// dispatch deploys the VM: it consumes the host's capacity and leaves the pending state.
// Must be called with s.mu held.
func (s *Store) dispatch(vmID, hostID int) (*structpb.Struct, error) {
	var vm *domain.VMView
	for _, v := range s.vms {
		if v.ID == vmID {
			vm = v
		}
	}
	var host *domain.HostView
	for _, h := range s.hosts {
		if h.ID == hostID {
			host = h
		}
	}

	switch {
	case vm == nil:
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("VM %d not found", vmID))
	case host == nil:
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("host %d not found", hostID))
	case !vm.IsPending():
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("VM %d is %s", vmID, vm.State))
	case s.rejectDispatch[vmID]:
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("VM %d rejected", vmID))
	}

	host.Reserve(vm.CPU, vm.Memory, vm.Disk)
	vm.State = domain.VMStateActive
	s.placements = append(s.placements, domain.Placement{VMID: vmID, HostID: hostID})
	return &structpb.Struct{}, nil
}

func bearer(header string) string {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return token
}

func grpcError(err error) error {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return status.Error(codes.Code(cerr.Code()), cerr.Message())
	}
	return status.Error(codes.Unknown, err.Error())
}
