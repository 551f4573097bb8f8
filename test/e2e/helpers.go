//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloo-solutions/ctirag/internal/api/handlers"
	"github.com/cloo-solutions/ctirag/internal/index"
	"github.com/cloo-solutions/ctirag/internal/jobs"
	"github.com/cloo-solutions/ctirag/internal/repository"
	"github.com/cloo-solutions/ctirag/internal/server"
	"github.com/cloo-solutions/ctirag/internal/service"
	"github.com/cloo-solutions/ctirag/internal/storage"
	"github.com/cloo-solutions/ctirag/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap/zaptest"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	Store        *storage.S3Store
	Embedder     *testutil.KeywordEmbedder
	ServerURL    string
	ServerCloser func()
	BinaryDir    string
	HTTPClient   *http.Client
}

// SetupE2EEnv starts Postgres and RustFS and serves the full router over
// them. Embeddings come from a keyword embedder and plans from a stub
// planner, so no OpenAI credentials are needed.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	store, err := storage.NewS3Store(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.RustFSAccessKey,
		SecretAccessKey: testutil.RustFSSecretKey,
		Bucket:          "e2e-bundles",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 store: %v", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		RustFSC:    s3C,
		Pool:       pool,
		Store:      store,
		Embedder:   testutil.NewKeywordEmbedder("banking", "trojan", "emotet", "credential", "mimikatz", "phishing"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	env.ServerURL, env.ServerCloser = env.startServer(port)

	return env
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// BuildBinaries builds the ctiragd binary
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "ctirag-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "ctiragd"), "./cmd/ctiragd")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build ctiragd: %v\n%s", err, out)
	}
}

// RunCtiragd runs the ctiragd binary against the test database
func (e *E2ETestEnv) RunCtiragd(workDir string, args ...string) (string, error) {
	migrations, err := filepath.Abs("../../migrations")
	if err != nil {
		return "", err
	}
	cmd := exec.Command(filepath.Join(e.BinaryDir, "ctiragd"), args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(),
		"CTIRAG_DATABASE_URL="+e.PostgresC.ConnectionString(),
		"CTIRAG_MIGRATIONS_DIR="+migrations,
		"CTIRAG_DATA_DIR="+workDir,
		"CTIRAG_OPENAI_API_KEY=",
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, e.ServerURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	return nil
}

// Upload sends a bundle through the multipart upload endpoint
func (e *E2ETestEnv) Upload(name string, content []byte) (*APIResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, e.ServerURL+"/rag/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.send(req)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return e.send(req)
}

func (e *E2ETestEnv) send(req *http.Request) (*APIResponse, error) {
	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s: %s", resp.StatusCode, apiResp.Code, apiResp.Error)
	}

	return &apiResp, nil
}

// WaitForRun polls the run until it ends or the timeout expires
func (e *E2ETestEnv) WaitForRun(runID string, timeout time.Duration) *service.ExecutionStatus {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := e.Get("/runs/" + runID)
		if err == nil {
			var status service.ExecutionStatus
			if err := json.Unmarshal(resp.Data, &status); err != nil {
				e.T.Fatalf("failed to decode run status: %v", err)
			}
			if status.Status == "FINISHED" || status.Status == "FAILED" {
				return &status
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	e.T.Fatalf("run %s did not finish within %v", runID, timeout)
	return nil
}

func (e *E2ETestEnv) startServer(port int) (string, func()) {
	logger := zaptest.NewLogger(e.T)

	runs := repository.NewRunRepository(e.Pool)
	bundles := service.NewBundleService(e.Store, logger)
	factory := func(model string) (index.Embedder, error) {
		return e.Embedder, nil
	}

	workers := jobs.NewPool(2, 16, logger)
	workers.Start(context.Background())

	execution := service.NewExecutionService(runs, bundles, factory, stubPlanner{}, workers, service.RAGOptions{}, logger)
	router := server.NewRouter(server.RouterConfig{
		ExecutionHandler: handlers.NewExecutionHandler(execution),
		RAGHandler:       handlers.NewRAGHandler(bundles, execution),
		Logger:           logger,
		Health:           map[string]string{"run_store": "postgres", "bundle_store": "s3"},
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.T.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(e.T, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		workers.Stop()
	}
}

// stubPlanner reports whether it received CTI context.
type stubPlanner struct{}

func (stubPlanner) Plan(ctx context.Context, task, ctiContext string) (string, error) {
	if ctiContext == "" {
		return "plan: " + task, nil
	}
	return "plan with cti: " + task, nil
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
