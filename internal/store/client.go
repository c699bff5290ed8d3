// Package store is the scheduler's client for the authoritative resource store.
//
// The store is reached over Connect, gRPC-Web or native gRPC. Messages are
// google.protobuf.Struct documents, so no generated code is required on either side.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/limiquantix/quantix-sched/internal/config"
	"github.com/limiquantix/quantix-sched/internal/domain"
)

// tokenSkew renews a session token slightly before it expires.
const tokenSkew = 5 * time.Second

// Client is a session with the resource store. Calls are synchronous and bounded by the
// configured call timeout; the client never retries.
type Client struct {
	transport   transport
	creds       Credentials
	endpoint    string
	callTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
}

// Dial connects to the resource store and authenticates. Rejected credentials return
// domain.ErrAuth.
//
// Example:
//
//	client, err := store.Dial(ctx, cfg.Store, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	hosts, err := client.ListHosts(ctx)
func Dial(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*Client, error) {
	creds, err := LoadCredentials(cfg.Credentials, cfg.AuthFile)
	if err != nil {
		return nil, err
	}

	t, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}

	c := newClient(t, creds, cfg, logger)
	if _, err := c.session(ctx); err != nil {
		_ = t.close()
		return nil, err
	}

	c.logger.Info("Connected to resource store",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("protocol", cfg.Protocol),
		zap.String("user", creds.Username),
	)
	return c, nil
}

func newClient(t transport, creds Credentials, cfg config.StoreConfig, logger *zap.Logger) *Client {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		transport:   t,
		creds:       creds,
		endpoint:    cfg.Endpoint,
		callTimeout: timeout,
		logger:      logger.With(zap.String("component", "store")),
	}
}

// Close ends the session and releases the transport.
func (c *Client) Close() error {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
	return c.transport.close()
}

// Ping makes sure the client holds a valid session.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.session(ctx)
	return err
}

// ListHosts fetches the host pool.
func (c *Client) ListHosts(ctx context.Context) ([]domain.HostView, error) {
	resp, err := c.invoke(ctx, ProcedureListHosts, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Hosts []hostRecord `mapstructure:"hosts"`
	}
	if err := decode(resp, &out); err != nil {
		return nil, err
	}

	hosts := make([]domain.HostView, 0, len(out.Hosts))
	for _, r := range out.Hosts {
		hosts = append(hosts, r.ToDomain())
	}
	return hosts, nil
}

// ListPendingVMs fetches at most limit pending VMs. A limit of 0 fetches all of them.
func (c *Client) ListPendingVMs(ctx context.Context, limit int) ([]domain.VMView, error) {
	resp, err := c.invoke(ctx, ProcedureListPendingVMs, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}

	var out struct {
		VMs []vmRecord `mapstructure:"vms"`
	}
	if err := decode(resp, &out); err != nil {
		return nil, err
	}

	vms := make([]domain.VMView, 0, len(out.VMs))
	for _, r := range out.VMs {
		vms = append(vms, r.ToDomain())
	}
	return vms, nil
}

// ListUsers fetches the user pool.
func (c *Client) ListUsers(ctx context.Context) ([]domain.UserView, error) {
	resp, err := c.invoke(ctx, ProcedureListUsers, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Users []userRecord `mapstructure:"users"`
	}
	if err := decode(resp, &out); err != nil {
		return nil, err
	}

	users := make([]domain.UserView, 0, len(out.Users))
	for _, r := range out.Users {
		users = append(users, r.ToDomain())
	}
	return users, nil
}

// ListACLRules fetches the ACL rules. Rules that cannot be parsed are skipped.
func (c *Client) ListACLRules(ctx context.Context) ([]domain.ACLRule, error) {
	resp, err := c.invoke(ctx, ProcedureListACLRules, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Rules []aclRecord `mapstructure:"rules"`
	}
	if err := decode(resp, &out); err != nil {
		return nil, err
	}

	rules := make([]domain.ACLRule, 0, len(out.Rules))
	for _, r := range out.Rules {
		rule, err := r.ToDomain()
		if err != nil {
			c.logger.Warn("Skipping malformed ACL rule", zap.Int("rule_id", r.ID), zap.Error(err))
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// DispatchVM asks the store to deploy the VM on the host.
func (c *Client) DispatchVM(ctx context.Context, vmID, hostID int) error {
	_, err := c.invoke(ctx, ProcedureDispatchVM, map[string]any{
		"vm_id":   vmID,
		"host_id": hostID,
	})
	return err
}

// invoke performs one authenticated call. An authentication failure drops the session so
// the next call authenticates again; within a cycle it is reported as a transport error.
func (c *Client) invoke(ctx context.Context, procedure string, body map[string]any) (*structpb.Struct, error) {
	token, err := c.session(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}

	req, err := structpb.NewStruct(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", procedure, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.transport.call(callCtx, procedure, token, req)
	if err != nil {
		if errors.Is(err, domain.ErrAuth) {
			c.dropSession()
			return nil, fmt.Errorf("%w: %w", domain.ErrTransport, err)
		}
		c.logger.Debug("Store call failed", zap.String("procedure", procedure), zap.Error(err))
		return nil, err
	}
	return resp, nil
}

// session returns a valid token, authenticating when there is none or it has expired.
func (c *Client) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && (c.expires.IsZero() || time.Now().Add(tokenSkew).Before(c.expires)) {
		return c.token, nil
	}

	req, err := structpb.NewStruct(map[string]any{
		"username": c.creds.Username,
		"password": c.creds.Password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode credentials: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.transport.call(callCtx, ProcedureAuthenticate, "", req)
	if err != nil {
		return "", err
	}

	token := resp.GetFields()["token"].GetStringValue()
	if token == "" {
		return "", fmt.Errorf("%w: store returned an empty session token", domain.ErrAuth)
	}

	c.token = token
	c.expires = tokenExpiry(token)
	c.logger.Debug("Store session established", zap.Time("expires", c.expires))
	return token, nil
}

func (c *Client) dropSession() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}

// tokenExpiry reads the exp claim of a session token. The store verifies its own tokens, so
// the signature is not checked here. Opaque or exp-less tokens never expire client-side.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
