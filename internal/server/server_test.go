package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-orchestrator/internal/comparator"
	"github.com/rxtech-lab/argo-orchestrator/internal/engine"
	"github.com/rxtech-lab/argo-orchestrator/internal/logger"
	"github.com/rxtech-lab/argo-orchestrator/internal/scheduler"
	"github.com/rxtech-lab/argo-orchestrator/internal/session"
	"github.com/rxtech-lab/argo-orchestrator/internal/store"
	"github.com/rxtech-lab/argo-orchestrator/internal/types"
	"github.com/rxtech-lab/argo-orchestrator/pkg/backtestconfig"
	"github.com/stretchr/testify/suite"
)

// stubRunner completes every run instantly with parseable output. The
// reported return depends on the strategy name so comparisons have
// something to rank.
type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, cmd engine.Command, timeout time.Duration) (engine.Outcome, error) {
	strategy := ""
	for i, arg := range cmd.Args {
		if arg == "--strategy" && i+1 < len(cmd.Args) {
			strategy = cmd.Args[i+1]
		}
	}

	profit := 10.0
	if strategy == "Winner" {
		profit = 50.0
	}

	stdout := fmt.Sprintf(`
| Total profit USDT      | %.2f   |
| Total profit %%         | %.2f   |
| Win rate               | 60.0 %% |
| Max drawdown %%         | -3.00  |
| Sharpe                 | 1.00   |
`, profit, profit)

	return engine.Outcome{ExitCode: 0, Stdout: stdout}, nil
}

// stubStreamer hands out fake session processes that idle until stopped.
type stubStreamer struct{}

type stubHandle struct {
	lines chan string
	done  chan struct{}
}

func (stubStreamer) Stream(ctx context.Context, cmd engine.Command) (session.Handle, error) {
	return &stubHandle{lines: make(chan string), done: make(chan struct{})}, nil
}

func (h *stubHandle) LineStream() <-chan string { return h.lines }

func (h *stubHandle) Stop(grace time.Duration) (engine.Outcome, error) {
	select {
	case <-h.done:
	default:
		close(h.lines)
		close(h.done)
	}

	return engine.Outcome{}, nil
}

func (h *stubHandle) Done() <-chan struct{} { return h.done }

func (h *stubHandle) Wait() engine.Outcome {
	<-h.done

	return engine.Outcome{}
}

func (h *stubHandle) Pid() int { return 999 }

// ServerTestSuite exercises the REST surface end to end against real
// components with stubbed process execution.
type ServerTestSuite struct {
	suite.Suite
	server    *Server
	scheduler *scheduler.Scheduler
	results   *store.ResultStore
	baseURL   string
	client    *http.Client
}

// SetupTest runs before each test.
func (suite *ServerTestSuite) SetupTest() {
	log := logger.NewNopLogger()

	results, err := store.NewResultStore(":memory:", log)
	suite.Require().NoError(err)
	suite.results = results

	sched, err := scheduler.NewScheduler(scheduler.Config{
		Workers:      2,
		EngineBinary: "freqtrade",
		WorkDir:      suite.T().TempDir(),
		TaskTimeout:  time.Minute,
	}, stubRunner{}, results, log)
	suite.Require().NoError(err)
	suite.scheduler = sched

	sessions := session.NewManager(session.Config{
		EngineBinary: "freqtrade",
		WorkDir:      suite.T().TempDir(),
		GraceTimeout: time.Second,
	}, stubStreamer{}, log)

	configs, err := backtestconfig.NewStore(suite.T().TempDir())
	suite.Require().NoError(err)

	suite.server = NewServer(sched, sessions, results,
		comparator.NewComparator(comparator.DefaultWeights()), configs, log)
	suite.Require().NoError(suite.server.Start(":0"))

	suite.baseURL = "http://" + suite.server.Address()
	suite.client = &http.Client{Timeout: 5 * time.Second}
}

// TearDownTest runs after each test.
func (suite *ServerTestSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	suite.NoError(suite.server.Stop(ctx))
	suite.NoError(suite.scheduler.Shutdown(ctx))
	suite.results.Close()
}

// TestServerSuite runs the test suite.
func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (suite *ServerTestSuite) validConfig() types.Configuration {
	cfg := types.DefaultConfiguration()
	cfg.StartTime = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg.EndTime = time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC)

	return cfg
}

func (suite *ServerTestSuite) post(path string, body interface{}) *http.Response {
	data, err := json.Marshal(body)
	suite.Require().NoError(err)

	resp, err := suite.client.Post(suite.baseURL+path, "application/json", bytes.NewReader(data))
	suite.Require().NoError(err)

	return resp
}

func (suite *ServerTestSuite) get(path string, out interface{}) *http.Response {
	resp, err := suite.client.Get(suite.baseURL + path)
	suite.Require().NoError(err)

	if out != nil {
		defer resp.Body.Close()
		suite.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
	}

	return resp
}

func (suite *ServerTestSuite) submitBatch(strategies ...string) string {
	tasks := make([]map[string]interface{}, 0, len(strategies))
	for _, strategy := range strategies {
		tasks = append(tasks, map[string]interface{}{
			"strategy": strategy,
			"config":   suite.validConfig(),
		})
	}

	resp := suite.post("/api/v1/batches", map[string]interface{}{"tasks": tasks})
	defer resp.Body.Close()

	suite.Require().Equal(http.StatusAccepted, resp.StatusCode)

	var created map[string]string

	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&created))
	suite.Require().NotEmpty(created["batch_id"])

	return created["batch_id"]
}

func (suite *ServerTestSuite) waitForBatch(batchID string) map[string]scheduler.TaskStatus {
	deadline := time.Now().Add(10 * time.Second)

	for time.Now().Before(deadline) {
		var statuses map[string]scheduler.TaskStatus

		resp := suite.get("/api/v1/batches/"+batchID, &statuses)
		suite.Require().Equal(http.StatusOK, resp.StatusCode)

		allDone := true

		for _, status := range statuses {
			if !status.State.IsTerminal() {
				allDone = false
			}
		}

		if allDone {
			return statuses
		}

		time.Sleep(20 * time.Millisecond)
	}

	suite.FailNow("batch did not finish in time")

	return nil
}

func (suite *ServerTestSuite) TestBatchLifecycle() {
	batchID := suite.submitBatch("Winner", "Loser")

	statuses := suite.waitForBatch(batchID)
	suite.Require().Len(statuses, 2)

	for _, status := range statuses {
		suite.Equal(types.ExecutionStateCompleted, status.State)
	}
}

func (suite *ServerTestSuite) TestInvalidBatchRejected() {
	bad := suite.validConfig()
	bad.StartTime, bad.EndTime = bad.EndTime, bad.StartTime

	resp := suite.post("/api/v1/batches", map[string]interface{}{
		"tasks": []map[string]interface{}{{"strategy": "S", "config": bad}},
	})
	defer resp.Body.Close()

	suite.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (suite *ServerTestSuite) TestUnknownBatchIs404() {
	resp := suite.get("/api/v1/batches/unknown", nil)
	defer resp.Body.Close()

	suite.Equal(http.StatusNotFound, resp.StatusCode)
}

func (suite *ServerTestSuite) TestCompareRanksStoredResults() {
	suite.waitForBatch(suite.submitBatch("Winner", "Loser"))

	resp := suite.post("/api/v1/compare", map[string]interface{}{
		"strategies": []string{"Winner", "Loser"},
	})
	defer resp.Body.Close()

	suite.Require().Equal(http.StatusOK, resp.StatusCode)

	var comparison comparator.Comparison

	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&comparison))
	suite.Equal("Winner", comparison.Best.Strategy)
	suite.Len(comparison.Rankings, 2)
}

func (suite *ServerTestSuite) TestResultsQuery() {
	suite.waitForBatch(suite.submitBatch("Winner"))

	var stored []store.StoredResult

	resp := suite.get("/api/v1/results?strategy=Winner", &stored)
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Require().Len(stored, 1)
	suite.Equal("Winner", stored[0].Result.Strategy)
}

func (suite *ServerTestSuite) TestSessionLifecycle() {
	resp := suite.post("/api/v1/sessions", map[string]interface{}{
		"strategy": "SampleStrategy",
		"config":   suite.validConfig(),
	})

	suite.Require().Equal(http.StatusCreated, resp.StatusCode)

	var created map[string]string

	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	sessionID := created["session_id"]
	suite.Require().NotEmpty(sessionID)

	var status session.Status

	resp = suite.get("/api/v1/sessions/"+sessionID, &status)
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal(types.ExecutionStateRunning, status.State)

	req, err := http.NewRequest(http.MethodDelete, suite.baseURL+"/api/v1/sessions/"+sessionID, nil)
	suite.Require().NoError(err)

	stopResp, err := suite.client.Do(req)
	suite.Require().NoError(err)
	stopResp.Body.Close()
	suite.Equal(http.StatusOK, stopResp.StatusCode)
}

// TestUnconfiguredStoresReturn503 runs a server built without a result store
// or configuration store; every endpoint backed by them must answer 503,
// never crash the request goroutine.
func (suite *ServerTestSuite) TestUnconfiguredStoresReturn503() {
	log := logger.NewNopLogger()

	sched, err := scheduler.NewScheduler(scheduler.Config{
		Workers:      1,
		EngineBinary: "freqtrade",
		WorkDir:      suite.T().TempDir(),
		TaskTimeout:  time.Minute,
	}, stubRunner{}, nil, log)
	suite.Require().NoError(err)

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		suite.NoError(sched.Shutdown(ctx))
	}()

	sessions := session.NewManager(session.Config{
		EngineBinary: "freqtrade",
		WorkDir:      suite.T().TempDir(),
		GraceTimeout: time.Second,
	}, stubStreamer{}, log)

	bare := NewServer(sched, sessions, nil,
		comparator.NewComparator(comparator.DefaultWeights()), nil, log)
	suite.Require().NoError(bare.Start(":0"))

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		suite.NoError(bare.Stop(ctx))
	}()

	base := "http://" + bare.Address()

	cases := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/v1/results", ""},
		{http.MethodPost, "/api/v1/compare", `{"strategies":["A"]}`},
		{http.MethodGet, "/api/v1/configs", ""},
		{http.MethodGet, "/api/v1/configs/default", ""},
		{http.MethodPut, "/api/v1/configs/default", `{}`},
		{http.MethodDelete, "/api/v1/configs/default", ""},
	}

	for _, tc := range cases {
		req, err := http.NewRequest(tc.method, base+tc.path, bytes.NewReader([]byte(tc.body)))
		suite.Require().NoError(err)

		resp, err := suite.client.Do(req)
		suite.Require().NoError(err)
		resp.Body.Close()

		suite.Equalf(http.StatusServiceUnavailable, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func (suite *ServerTestSuite) TestConfigSnapshotEndpoints() {
	data, err := json.Marshal(suite.validConfig())
	suite.Require().NoError(err)

	req, err := http.NewRequest(http.MethodPut, suite.baseURL+"/api/v1/configs/default", bytes.NewReader(data))
	suite.Require().NoError(err)

	resp, err := suite.client.Do(req)
	suite.Require().NoError(err)
	resp.Body.Close()
	suite.Equal(http.StatusNoContent, resp.StatusCode)

	var names []string

	listResp := suite.get("/api/v1/configs", &names)
	suite.Equal(http.StatusOK, listResp.StatusCode)
	suite.Equal([]string{"default"}, names)

	var cfg types.Configuration

	getResp := suite.get("/api/v1/configs/default", &cfg)
	suite.Equal(http.StatusOK, getResp.StatusCode)
	suite.Equal("1h", cfg.Timeframe)

	schemaResp := suite.get("/api/v1/configs/schema", nil)
	defer schemaResp.Body.Close()
	suite.Equal(http.StatusOK, schemaResp.StatusCode)
}
