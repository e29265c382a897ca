package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amplifi/internal/metrics"
)

type countingTask struct {
	calls atomic.Int32
	n     int
	err   error
}

func (c *countingTask) run(context.Context) (int, error) {
	c.calls.Add(1)
	return c.n, c.err
}

func (c *countingTask) DeliverScheduled(ctx context.Context) (int, error) { return c.run(ctx) }
func (c *countingTask) ExpireStories(ctx context.Context) (int, error)    { return c.run(ctx) }
func (c *countingTask) ReapStale(ctx context.Context) (int, error)        { return c.run(ctx) }
func (c *countingTask) RetryPODOrders(ctx context.Context) (int, error)   { return c.run(ctx) }

func TestMaintenance(t *testing.T) {
	tests := []struct {
		name      string
		build     func() []Job
		wantNames []string
		wantFirst string
	}{
		{
			name: "all jobs",
			build: func() []Job {
				c := &countingTask{}
				return Maintenance(c, c, c, c, 3)
			},
			wantNames: []string{"scheduled_notifications", "expire_stories", "reap_stale_streams", "retry_pod_orders"},
			wantFirst: "@every 3m",
		},
		{
			name: "interval floor",
			build: func() []Job {
				return Maintenance(&countingTask{}, nil, nil, nil, 0)
			},
			wantNames: []string{"scheduled_notifications"},
			wantFirst: "@every 1m",
		},
		{
			name: "missing dependencies are skipped",
			build: func() []Job {
				return Maintenance(nil, &countingTask{}, nil, &countingTask{}, 1)
			},
			wantNames: []string{"expire_stories", "retry_pod_orders"},
			wantFirst: "@every 10m",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := tt.build()
			var names []string
			for _, j := range jobs {
				names = append(names, j.Name)
			}
			assert.Equal(t, tt.wantNames, names)
			assert.Equal(t, tt.wantFirst, jobs[0].Schedule)
		})
	}
}

func TestScheduler_RunNow(t *testing.T) {
	tests := []struct {
		name       string
		task       *countingTask
		wantResult string
	}{
		{name: "success", task: &countingTask{n: 3}, wantResult: "ok"},
		{name: "nothing to do", task: &countingTask{}, wantResult: "ok"},
		{name: "failure", task: &countingTask{err: errors.New("db down")}, wantResult: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := Job{Name: "run_now_" + tt.name, Schedule: "@every 1h", Run: tt.task.run}
			s := NewScheduler(job)

			before := testutil.ToFloat64(metrics.JobRuns.WithLabelValues(job.Name, tt.wantResult))
			assert.True(t, s.RunNow(context.Background(), job))
			after := testutil.ToFloat64(metrics.JobRuns.WithLabelValues(job.Name, tt.wantResult))

			assert.Equal(t, int32(1), tt.task.calls.Load())
			assert.Equal(t, before+1, after)
		})
	}
}

func TestScheduler_SkipsOverlappingRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	job := Job{Name: "overlap", Schedule: "@every 1h", Run: func(ctx context.Context) (int, error) {
		close(entered)
		<-release
		return 0, nil
	}}
	s := NewScheduler(job)

	done := make(chan bool)
	go func() { done <- s.RunNow(context.Background(), job) }()
	<-entered

	assert.False(t, s.RunNow(context.Background(), job))
	close(release)
	assert.True(t, <-done)
}

func TestScheduler_StartStop(t *testing.T) {
	t.Run("invalid schedule", func(t *testing.T) {
		s := NewScheduler(Job{Name: "bad", Schedule: "whenever", Run: (&countingTask{}).run})
		err := s.Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "schedule job bad")
	})

	t.Run("runs on schedule", func(t *testing.T) {
		task := &countingTask{}
		s := NewScheduler(Job{Name: "tick", Schedule: "@every 1s", Run: task.run})
		require.NoError(t, s.Start())
		require.NoError(t, s.Start())

		assert.Eventually(t, func() bool { return task.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
		s.Stop(ctx)
	})
}
