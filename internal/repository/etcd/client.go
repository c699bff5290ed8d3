// Package etcd provides leader election for scheduler replicas, so only one instance
// runs scheduling cycles at a time.
package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/config"
	"github.com/limiquantix/quantix-sched/internal/domain"
)

// ErrKeyNotFound indicates the key was not found in etcd.
var ErrKeyNotFound = errors.New("key not found")

// retryInterval is the pause between failed campaign or session attempts.
const retryInterval = 5 * time.Second

// Client wraps an etcd client with leader election.
type Client struct {
	client      *clientv3.Client
	sessionTTL  int
	electionKey string
	logger      *zap.Logger
}

// NewClient creates a new etcd client.
func NewClient(cfg config.EtcdConfig, logger *zap.Logger) (*Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 30
	}

	logger.Info("Connected to etcd", zap.Strings("endpoints", cfg.Endpoints))

	return &Client{
		client:      client,
		sessionTTL:  ttl,
		electionKey: cfg.ElectionKey,
		logger:      logger.With(zap.String("component", "etcd")),
	}, nil
}

// Close closes the etcd client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Health checks if etcd is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Status(ctx, c.client.Endpoints()[0])
	return err
}

// =============================================================================
// Leader Election
// =============================================================================

// Leader represents a leader election participant.
type Leader struct {
	client   *Client
	id       string
	isLeader atomic.Bool

	election atomic.Pointer[concurrency.Election]
	session  atomic.Pointer[concurrency.Session]
}

// LeaderCallback is called when leadership status changes.
type LeaderCallback func(isLeader bool)

// CampaignForLeader campaigns on the configured election key until ctx is cancelled. id
// identifies this instance as the election value. When the session is lost the instance
// steps down and campaigns again with a new session.
func (c *Client) CampaignForLeader(ctx context.Context, id string, callback LeaderCallback) *Leader {
	leader := &Leader{client: c, id: id}

	go func() {
		for ctx.Err() == nil {
			if err := leader.campaign(ctx, callback); err != nil && ctx.Err() == nil {
				c.logger.Warn("Leader campaign failed, retrying", zap.Error(err))
				select {
				case <-ctx.Done():
				case <-time.After(retryInterval):
				}
			}
		}
	}()

	return leader
}

// campaign runs one session: it blocks until elected, then until leadership is lost.
func (l *Leader) campaign(ctx context.Context, callback LeaderCallback) error {
	c := l.client

	session, err := concurrency.NewSession(c.client, concurrency.WithTTL(c.sessionTTL), concurrency.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to create etcd session: %w", err)
	}
	defer session.Close()

	election := concurrency.NewElection(session, c.electionKey)
	l.session.Store(session)
	l.election.Store(election)

	if err := election.Campaign(ctx, l.id); err != nil {
		return err
	}

	l.isLeader.Store(true)
	c.logger.Info("Became leader", zap.String("key", c.electionKey), zap.String("id", l.id))
	if callback != nil {
		callback(true)
	}

	select {
	case <-ctx.Done():
	case <-session.Done():
		c.logger.Warn("Lost leadership, etcd session expired", zap.String("key", c.electionKey))
	}

	l.isLeader.Store(false)
	if callback != nil {
		callback(false)
	}
	return nil
}

// IsLeader returns true if this instance is currently the leader.
func (l *Leader) IsLeader() bool {
	return l.isLeader.Load()
}

// Resign resigns from leadership.
func (l *Leader) Resign(ctx context.Context) error {
	election := l.election.Load()
	if election == nil || !l.IsLeader() {
		return nil
	}

	if err := election.Resign(ctx); err != nil {
		return fmt.Errorf("failed to resign: %w", err)
	}

	l.isLeader.Store(false)
	l.client.logger.Info("Resigned from leadership", zap.String("key", l.client.electionKey))
	return nil
}

// GetLeader returns the current leader's id.
func (c *Client) GetLeader(ctx context.Context) (string, error) {
	resp, err := c.client.Get(ctx, c.electionKey+"/", clientv3.WithFirstCreate()...)
	if err != nil {
		return "", fmt.Errorf("failed to get leader: %w", err)
	}

	if len(resp.Kvs) == 0 {
		return "", ErrKeyNotFound
	}

	return string(resp.Kvs[0].Value), nil
}

// =============================================================================
// Cycle reports
// =============================================================================

func (c *Client) reportKey() string {
	return c.electionKey + "-last-cycle"
}

// Report implements scheduler.Reporter. The last report is stored next to the election
// key, attached to the leader's session lease so it disappears with the leader.
func (l *Leader) Report(ctx context.Context, report *domain.CycleReport) error {
	session := l.session.Load()
	if session == nil || !l.IsLeader() {
		return nil
	}

	data, err := encodeReport(report)
	if err != nil {
		return err
	}

	if _, err := l.client.client.Put(ctx, l.client.reportKey(), data, clientv3.WithLease(session.Lease())); err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}
	return nil
}

// LastReport returns the report stored by the current leader.
func (c *Client) LastReport(ctx context.Context) (*domain.CycleReport, error) {
	resp, err := c.client.Get(ctx, c.reportKey())
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	if len(resp.Kvs) == 0 {
		return nil, ErrKeyNotFound
	}

	return decodeReport(resp.Kvs[0].Value)
}

func encodeReport(report *domain.CycleReport) (string, error) {
	if report == nil {
		return "", errors.New("nil report")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	return string(data), nil
}

func decodeReport(data []byte) (*domain.CycleReport, error) {
	var report domain.CycleReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}
