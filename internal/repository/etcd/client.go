// Package etcd provides leader election so that only one replica runs automatic passes.
package etcd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/limiquantix/vmmigrate/internal/config"
)

// ErrKeyNotFound indicates the key was not found in etcd.
var ErrKeyNotFound = errors.New("key not found")

// Client wraps an etcd client and its session. An expired session is replaced on the next
// campaign.
type Client struct {
	client *clientv3.Client
	logger *zap.Logger

	mu      sync.Mutex
	session *concurrency.Session
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

	session, err := concurrency.NewSession(client, concurrency.WithTTL(sessionTTL))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	logger.Info("Connected to etcd", zap.Strings("endpoints", cfg.Endpoints))

	return &Client{
		client:  client,
		session: session,
		logger:  logger,
	}, nil
}

const sessionTTL = 30

// Close closes the etcd client and session.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.session != nil {
		c.session.Close()
	}
	c.mu.Unlock()
	return c.client.Close()
}

// Health checks if etcd is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Status(ctx, c.client.Endpoints()[0])
	return err
}

// liveSession returns the current session, creating a new one if its lease has expired.
func (c *Client) liveSession(ctx context.Context) (*concurrency.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		select {
		case <-c.session.Done():
		default:
			return c.session, nil
		}
	}

	session, err := concurrency.NewSession(c.client, concurrency.WithTTL(sessionTTL), concurrency.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}
	c.session = session
	c.logger.Info("Created etcd session", zap.String("lease", fmt.Sprintf("%x", session.Lease())))
	return session, nil
}

func electionPrefix(name string) string {
	return fmt.Sprintf("/leaders/%s", name)
}

// electionSession and election are the parts of the etcd concurrency types a campaign uses.
type electionSession interface {
	Done() <-chan struct{}
	Lease() clientv3.LeaseID
}

type election interface {
	Campaign(ctx context.Context, val string) error
	Resign(ctx context.Context) error
}

type campaignFunc func(ctx context.Context) (electionSession, election, error)

// Leader is a participant in a leader election.
type Leader struct {
	name        string
	logger      *zap.Logger
	retry       time.Duration
	newCampaign campaignFunc

	mu       sync.Mutex
	election election
	isLeader atomic.Bool
}

// CampaignForLeader starts campaigning in the background. The returned Leader reports
// whether this instance currently holds leadership. Leadership lost with the session is
// campaigned for again on a fresh session until ctx is cancelled.
func (c *Client) CampaignForLeader(ctx context.Context, name string) *Leader {
	leader := newLeader(name, c.logger, func(ctx context.Context) (electionSession, election, error) {
		session, err := c.liveSession(ctx)
		if err != nil {
			return nil, nil, err
		}
		return session, concurrency.NewElection(session, electionPrefix(name)), nil
	})
	go leader.run(ctx)
	return leader
}

func newLeader(name string, logger *zap.Logger, newCampaign campaignFunc) *Leader {
	return &Leader{
		name:        name,
		logger:      logger,
		retry:       5 * time.Second,
		newCampaign: newCampaign,
	}
}

func (l *Leader) run(ctx context.Context) {
	for {
		session, el, err := l.newCampaign(ctx)
		if err == nil {
			l.mu.Lock()
			l.election = el
			l.mu.Unlock()
			err = l.campaign(ctx, session, el)
		}
		if ctx.Err() != nil {
			l.isLeader.Store(false)
			return
		}
		if err != nil {
			l.logger.Warn("Leader campaign failed, retrying", zap.String("name", l.name), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.retry):
			}
		}
	}
}

// campaign blocks until leadership is won and then lost with the session, or ctx ends.
func (l *Leader) campaign(ctx context.Context, session electionSession, el election) error {
	campaignCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-session.Done():
			cancel()
		case <-campaignCtx.Done():
		}
	}()

	value := fmt.Sprintf("%x", session.Lease())
	if host, err := os.Hostname(); err == nil {
		value = host + "/" + value
	}

	if err := el.Campaign(campaignCtx, value); err != nil {
		if ctx.Err() == nil && campaignCtx.Err() != nil {
			return errors.New("session expired while campaigning")
		}
		return err
	}

	l.isLeader.Store(true)
	l.logger.Info("Became leader", zap.String("name", l.name))

	select {
	case <-ctx.Done():
	case <-session.Done():
		l.isLeader.Store(false)
		l.logger.Warn("Lost leadership, campaigning again", zap.String("name", l.name))
	}
	return nil
}

// IsLeader returns true if this instance is currently the leader.
func (l *Leader) IsLeader() bool {
	return l.isLeader.Load()
}

// Resign gives up leadership.
func (l *Leader) Resign(ctx context.Context) error {
	if !l.isLeader.Load() {
		return nil
	}

	l.mu.Lock()
	el := l.election
	l.mu.Unlock()

	if err := el.Resign(ctx); err != nil {
		return fmt.Errorf("failed to resign: %w", err)
	}

	l.isLeader.Store(false)
	l.logger.Info("Resigned from leadership", zap.String("name", l.name))
	return nil
}

// GetLeader returns the current leader's campaign value.
func (c *Client) GetLeader(ctx context.Context, name string) (string, error) {
	session, err := c.liveSession(ctx)
	if err != nil {
		return "", err
	}

	resp, err := concurrency.NewElection(session, electionPrefix(name)).Leader(ctx)
	if err != nil {
		if errors.Is(err, concurrency.ErrElectionNoLeader) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to get leader: %w", err)
	}

	if len(resp.Kvs) == 0 {
		return "", ErrKeyNotFound
	}

	return string(resp.Kvs[0].Value), nil
}
