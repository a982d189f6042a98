package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/greentrace/internal/syncqueue"
)

type stubProber struct {
	mu  sync.Mutex
	err error
}

func (p *stubProber) Probe(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *stubProber) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

type stubSyncer struct {
	mu      sync.Mutex
	tags    []string
	err     error
	pending map[syncqueue.Kind]int
}

func (s *stubSyncer) Sync(_ context.Context, tag string) (syncqueue.FlushResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags = append(s.tags, tag)
	return syncqueue.FlushResult{Tag: tag}, s.err
}

func (s *stubSyncer) Pending(context.Context) map[syncqueue.Kind]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *stubSyncer) synced() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tags...)
}

func TestRunOnceSkipsSyncWhileOffline(t *testing.T) {
	prober := &stubProber{err: errors.New("dial tcp: connection refused")}
	syncer := &stubSyncer{pending: map[syncqueue.Kind]int{syncqueue.KindActivities: 2}}
	scheduler := NewSyncScheduler(prober, syncer, syncer)

	require.NoError(t, scheduler.RunOnce(context.Background()))
	require.False(t, scheduler.Online())
	require.Empty(t, syncer.synced())
}

func TestRunOnceFlushesTagsWithPendingRecords(t *testing.T) {
	prober := &stubProber{}
	syncer := &stubSyncer{pending: map[syncqueue.Kind]int{
		syncqueue.KindActivities:  0,
		syncqueue.KindSocialPosts: 3,
	}}
	scheduler := NewSyncScheduler(prober, syncer, syncer)

	require.NoError(t, scheduler.RunOnce(context.Background()))
	require.True(t, scheduler.Online())
	require.Equal(t, []string{syncqueue.TagSocialPosts}, syncer.synced())
}

func TestRunOnceAfterReconnect(t *testing.T) {
	prober := &stubProber{err: errors.New("offline")}
	syncer := &stubSyncer{pending: map[syncqueue.Kind]int{syncqueue.KindActivities: 1}}
	scheduler := NewSyncScheduler(prober, syncer, syncer)

	require.NoError(t, scheduler.RunOnce(context.Background()))
	require.Empty(t, syncer.synced())

	prober.set(nil)
	require.NoError(t, scheduler.RunOnce(context.Background()))
	require.Equal(t, []string{syncqueue.TagActivities}, syncer.synced())
}

func TestRunOnceJoinsSyncErrors(t *testing.T) {
	syncer := &stubSyncer{
		err: errors.New("commit failed"),
		pending: map[syncqueue.Kind]int{
			syncqueue.KindActivities:  1,
			syncqueue.KindSocialPosts: 1,
		},
	}
	scheduler := NewSyncScheduler(&stubProber{}, syncer, syncer)

	err := scheduler.RunOnce(context.Background())
	require.Error(t, err)
	require.Len(t, syncer.synced(), 2)
}

func TestStartRunsProbeOnSchedule(t *testing.T) {
	syncer := &stubSyncer{pending: map[syncqueue.Kind]int{syncqueue.KindActivities: 1}}
	c := cron.New(cron.WithLogger(cron.DiscardLogger))
	scheduler := NewSyncScheduler(&stubProber{}, syncer, syncer, WithCron(c), WithSchedule("@every 10ms"))

	require.NoError(t, scheduler.Start())
	defer func() { <-scheduler.Stop().Done() }()

	require.Eventually(t, func() bool { return len(syncer.synced()) > 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	syncer := &stubSyncer{}
	scheduler := NewSyncScheduler(&stubProber{}, syncer, syncer, WithSchedule("every now and then"))

	require.Error(t, scheduler.Start())
}
