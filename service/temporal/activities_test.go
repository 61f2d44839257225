package temporal

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/hip/service/db"
	"github.com/brojonat/hip/service/metrics"
	natspkg "github.com/brojonat/hip/service/nats"
	"github.com/brojonat/hip/service/smoke"
	"github.com/brojonat/hip/service/solana"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateRun(ctx context.Context, params db.CreateRunParams) (*db.Run, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Run), args.Error(1)
}

func (m *MockStore) GetRun(ctx context.Context, id int64) (*db.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Run), args.Error(1)
}

type fakeRunner struct {
	program     string
	instruction string
	result      *smoke.Result
	err         error
}

func (f *fakeRunner) Program() string     { return f.program }
func (f *fakeRunner) Instruction() string { return f.instruction }

func (f *fakeRunner) RunInitializationCheck(ctx context.Context) (*smoke.Result, error) {
	return f.result, f.err
}

func factoryFor(r *fakeRunner) RunnerFactory {
	return func(program, instruction string) SmokeRunner { return r }
}

func TestRunSmokeCheck(t *testing.T) {
	logger := slog.Default()

	t.Run("success", func(t *testing.T) {
		runner := &fakeRunner{
			program:     "Hip",
			instruction: "initialize",
			result: &smoke.Result{
				Program:     "Hip",
				ProgramID:   "4DJBep6Jm34REZUnjr1NjEZiwqzm2pS1cjpiejvG2iUF",
				Instruction: "initialize",
				Cluster:     "http://127.0.0.1:8899",
				Signature:   testSignature,
				Slot:        42,
			},
		}
		m := metrics.NewMetrics(prometheus.NewRegistry())
		activities := NewActivities(nil, factoryFor(runner), nil, "localnet", m, logger)

		out, err := activities.RunSmokeCheck(context.Background(), RunSmokeCheckInput{})
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, out.Status)
		assert.Equal(t, testSignature, out.Signature)
		assert.Equal(t, uint64(42), out.Slot)
		assert.Equal(t, "http://127.0.0.1:8899", out.Cluster)
		assert.Empty(t, out.ErrorKind)
	})

	t.Run("failure is classified, not returned", func(t *testing.T) {
		runner := &fakeRunner{
			program:     "Hip",
			instruction: "initialize",
			err: &solana.ConnectionError{
				Endpoint: "localnet",
				Op:       "getHealth",
				Err:      errors.New("connection refused"),
			},
		}
		activities := NewActivities(nil, factoryFor(runner), nil, "localnet", nil, logger)

		out, err := activities.RunSmokeCheck(context.Background(), RunSmokeCheckInput{Program: "Hip"})
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, out.Status)
		assert.Equal(t, smoke.KindConnection, out.ErrorKind)
		assert.Contains(t, out.Error, "connection refused")
		assert.Equal(t, "localnet", out.Cluster)
		assert.Equal(t, "Hip", out.Program)
		assert.Equal(t, "initialize", out.Instruction)
	})

	t.Run("missing runner factory", func(t *testing.T) {
		activities := NewActivities(nil, nil, nil, "", nil, logger)
		_, err := activities.RunSmokeCheck(context.Background(), RunSmokeCheckInput{})
		assert.Error(t, err)
	})
}

func TestRecordRun(t *testing.T) {
	logger := slog.Default()

	t.Run("stores the outcome", func(t *testing.T) {
		store := new(MockStore)
		store.On("CreateRun", mock.Anything, mock.MatchedBy(func(p db.CreateRunParams) bool {
			return p.Program == "Hip" &&
				p.Status == db.StatusSuccess &&
				p.Signature != nil && *p.Signature == testSignature &&
				p.ErrorKind == nil &&
				p.WorkflowID != nil && *p.WorkflowID == "wf-1" &&
				p.Duration == 1500*time.Millisecond &&
				p.Slot == 42
		})).Return(&db.Run{ID: 3, Program: "Hip", Status: db.StatusSuccess}, nil)

		reg := prometheus.NewRegistry()
		activities := NewActivities(store, nil, nil, "", metrics.NewMetrics(reg), logger)

		out, err := activities.RecordRun(context.Background(), RecordRunInput{
			Check: RunSmokeCheckResult{
				Program:     "Hip",
				Instruction: "initialize",
				Status:      StatusSuccess,
				Signature:   testSignature,
				Slot:        42,
				DurationMS:  1500,
			},
			WorkflowID: "wf-1",
			StartedAt:  time.Now().Add(-2 * time.Second),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), out.RunID)
		store.AssertExpectations(t)

		count, err := testutil.GatherAndCount(reg, "smoke_workflow_executions_total")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("store error", func(t *testing.T) {
		store := new(MockStore)
		store.On("CreateRun", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

		activities := NewActivities(store, nil, nil, "", nil, logger)
		_, err := activities.RecordRun(context.Background(), RecordRunInput{
			Check: RunSmokeCheckResult{Program: "Hip", Status: StatusFailed, ErrorKind: "rpc"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func TestPublishRun(t *testing.T) {
	logger := slog.Default()
	sig := testSignature
	run := &db.Run{ID: 5, Program: "Hip", Instruction: "initialize", Status: db.StatusSuccess, Signature: &sig}

	t.Run("publishes the stored run", func(t *testing.T) {
		store := new(MockStore)
		store.On("GetRun", mock.Anything, int64(5)).Return(run, nil)
		publisher := natspkg.NewMockPublisher()

		activities := NewActivities(store, nil, publisher, "", nil, logger)
		require.NoError(t, activities.PublishRun(context.Background(), PublishRunInput{RunID: 5}))

		events := publisher.GetPublishedEventsForProgram("Hip")
		require.Len(t, events, 1)
		assert.Equal(t, int64(5), events[0].RunID)
		assert.Equal(t, testSignature, events[0].Signature)
	})

	t.Run("no publisher is a no-op", func(t *testing.T) {
		store := new(MockStore)
		activities := NewActivities(store, nil, nil, "", nil, logger)
		require.NoError(t, activities.PublishRun(context.Background(), PublishRunInput{RunID: 5}))
		store.AssertNotCalled(t, "GetRun", mock.Anything, mock.Anything)
	})

	t.Run("publish error is returned", func(t *testing.T) {
		store := new(MockStore)
		store.On("GetRun", mock.Anything, int64(5)).Return(run, nil)
		publisher := natspkg.NewMockPublisher()
		publisher.SetPublishError(errors.New("nats down"))

		activities := NewActivities(store, nil, publisher, "", nil, logger)
		assert.Error(t, activities.PublishRun(context.Background(), PublishRunInput{RunID: 5}))
	})

	t.Run("missing run", func(t *testing.T) {
		store := new(MockStore)
		store.On("GetRun", mock.Anything, int64(6)).Return(nil, db.ErrRunNotFound)

		activities := NewActivities(store, nil, natspkg.NewMockPublisher(), "", nil, logger)
		err := activities.PublishRun(context.Background(), PublishRunInput{RunID: 6})
		assert.ErrorIs(t, err, db.ErrRunNotFound)
	})
}

func TestMockScheduler(t *testing.T) {
	var s Scheduler = NewMockScheduler()
	m := s.(*MockScheduler)
	ctx := context.Background()

	require.NoError(t, s.CreateSmokeSchedule(ctx, "Hip", "initialize", 5*time.Minute))
	assert.True(t, m.ScheduleExists("Hip", "initialize"))

	require.NoError(t, s.CreateSmokeSchedule(ctx, "Hip", "initialize", time.Minute))
	interval, ok := m.GetScheduleInterval("Hip", "initialize")
	require.True(t, ok)
	assert.Equal(t, time.Minute, interval)
	assert.Equal(t, 1, m.ScheduleCount())

	require.NoError(t, s.DeleteSmokeSchedule(ctx, "Hip", "initialize"))
	assert.Error(t, s.DeleteSmokeSchedule(ctx, "Hip", "initialize"))
	assert.Equal(t, 0, m.ScheduleCount())
}

func TestScheduleID(t *testing.T) {
	assert.Equal(t, "smoke-hip-initialize", scheduleID("Hip", "initialize"))
	assert.Equal(t, "smoke-daily_claim-register_user", scheduleID("DailyClaim", "registerUser"))
}

func TestSmokeCheckOptions(t *testing.T) {
	c := &Client{taskQueue: "hip-smoke"}
	assert.Equal(t, "hip-smoke", c.TaskQueue())

	first := c.smokeCheckOptions("DailyClaim", "registerUser")
	second := c.smokeCheckOptions("DailyClaim", "registerUser")
	assert.Equal(t, "hip-smoke", first.TaskQueue)
	assert.True(t, strings.HasPrefix(first.ID, "smoke-check-smoke-daily_claim-register_user-"))
	assert.NotEqual(t, first.ID, second.ID)
}
