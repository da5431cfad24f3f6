package etcd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap/zaptest"
)

type fakeSession struct {
	lease clientv3.LeaseID
	done  chan struct{}
}

func newFakeSession(lease clientv3.LeaseID) *fakeSession {
	return &fakeSession{lease: lease, done: make(chan struct{})}
}

func (s *fakeSession) Done() <-chan struct{}   { return s.done }
func (s *fakeSession) Lease() clientv3.LeaseID { return s.lease }
func (s *fakeSession) expire()                 { close(s.done) }

type fakeElection struct {
	err      error
	resigned bool
}

func (e *fakeElection) Campaign(ctx context.Context, _ string) error {
	if e.err != nil {
		return e.err
	}
	return ctx.Err()
}

func (e *fakeElection) Resign(context.Context) error {
	e.resigned = true
	return nil
}

// fakeCampaigns hands out a new session per campaign and records them.
type fakeCampaigns struct {
	mu       sync.Mutex
	sessions []*fakeSession
	errs     []error
}

func (f *fakeCampaigns) next(context.Context) (electionSession, election, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, nil, err
	}
	s := newFakeSession(clientv3.LeaseID(len(f.sessions) + 1))
	f.sessions = append(f.sessions, s)
	return s, &fakeElection{}, nil
}

func (f *fakeCampaigns) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeCampaigns) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

func TestLeader_CampaignsAgainAfterSessionExpires(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	campaigns := &fakeCampaigns{}
	leader := newLeader("migration-engine", zaptest.NewLogger(t), campaigns.next)
	leader.retry = time.Millisecond
	done := make(chan struct{})
	go func() {
		leader.run(ctx)
		close(done)
	}()

	require.Eventually(t, leader.IsLeader, time.Second, time.Millisecond)
	assert.Equal(t, 1, campaigns.count())

	campaigns.session(0).expire()
	require.Eventually(t, func() bool { return campaigns.count() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, leader.IsLeader, time.Second, time.Millisecond)

	cancel()
	<-done
	assert.False(t, leader.IsLeader())
}

func TestLeader_RetriesFailedCampaigns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	campaigns := &fakeCampaigns{errs: []error{errors.New("etcdserver: no leader"), errors.New("timeout")}}
	leader := newLeader("migration-engine", zaptest.NewLogger(t), campaigns.next)
	leader.retry = time.Millisecond
	go leader.run(ctx)

	require.Eventually(t, leader.IsLeader, time.Second, time.Millisecond)
	assert.Equal(t, 1, campaigns.count())
}

func TestLeader_Resign(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	el := &fakeElection{}
	session := newFakeSession(1)
	leader := newLeader("migration-engine", zaptest.NewLogger(t), func(context.Context) (electionSession, election, error) {
		return session, el, nil
	})

	require.NoError(t, leader.Resign(ctx))
	assert.False(t, el.resigned)

	go leader.run(ctx)
	require.Eventually(t, leader.IsLeader, time.Second, time.Millisecond)

	require.NoError(t, leader.Resign(ctx))
	assert.True(t, el.resigned)
	assert.False(t, leader.IsLeader())
}
