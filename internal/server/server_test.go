// Copyright 2025 AI Lead Generation System Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Fos938/lead-generator/internal/config"
	"github.com/Fos938/lead-generator/internal/export"
	"github.com/Fos938/lead-generator/internal/health"
	"github.com/Fos938/lead-generator/internal/history"
	"github.com/Fos938/lead-generator/internal/inference"
	"github.com/Fos938/lead-generator/internal/pipeline"
	"github.com/Fos938/lead-generator/internal/store"
	"github.com/Fos938/lead-generator/internal/task"
)

const researchJSON = `[
  {"business_name": "Peachtree Smiles", "address": "3284 Peachtree Rd NE, Atlanta, GA 30305", "phone": "(404) 555-0132", "website": "https://peachtreesmiles.example.com"},
  {"business_name": "Midtown Dental Studio", "address": "1080 Crescent Ave NE, Atlanta, GA 30309", "phone": "(404) 555-0178", "website": "https://midtowndentalstudio.example.com"}
]`

const qualifiedJSON = `[
  {"business_name": "Peachtree Smiles", "phone": "(404) 555-0132", "score": 4.6, "classification": "High Value", "best_contact_method": "Email"},
  {"business_name": "Midtown Dental Studio", "phone": "(404) 555-0178", "score": 3.1, "classification": "Medium Value", "best_contact_method": "Phone"}
]`

const singleQualifiedJSON = `[
  {"business_name": "Peachtree Smiles", "phone": "(404) 555-0132", "score": 4.6, "classification": "High Value", "best_contact_method": "Email"}
]`

type stubResponse struct {
	content string
	err     error
}

type stubClient struct {
	mu        sync.Mutex
	responses []stubResponse
}

func (c *stubClient) Complete(ctx context.Context, req inference.Request) (*inference.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.responses) == 0 {
		return &inference.Response{Content: "[]"}, nil
	}
	next := c.responses[0]
	c.responses = c.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &inference.Response{Content: next.content}, nil
}

type blockingClient struct {
	started chan struct{}
	once    sync.Once
}

func newBlockingClient() *blockingClient {
	return &blockingClient{started: make(chan struct{})}
}

func (c *blockingClient) Complete(ctx context.Context, req inference.Request) (*inference.Response, error) {
	c.once.Do(func() { close(c.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

// gatedClient serves canned responses first, then parks every further
// call until release is closed
type gatedClient struct {
	mu        sync.Mutex
	responses []stubResponse
	started   chan struct{}
	release   chan struct{}
	calls     int
}

func newGatedClient(responses ...stubResponse) *gatedClient {
	return &gatedClient{
		responses: responses,
		started:   make(chan struct{}, 8),
		release:   make(chan struct{}),
	}
}

func (c *gatedClient) Complete(ctx context.Context, req inference.Request) (*inference.Response, error) {
	c.mu.Lock()
	if len(c.responses) > 0 {
		next := c.responses[0]
		c.responses = c.responses[1:]
		c.mu.Unlock()
		if next.err != nil {
			return nil, next.err
		}
		return &inference.Response{Content: next.content}, nil
	}
	c.calls++
	n := c.calls
	c.mu.Unlock()

	c.started <- struct{}{}
	select {
	case <-c.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &inference.Response{Content: fmt.Sprintf("Subject: outreach %d", n)}, nil
}

type testServer struct {
	server   *Server
	router   *gin.Engine
	registry *store.Registry
	runner   *task.Runner
}

func setupTestServer(t *testing.T, client inference.Client, historyStore *history.Store) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()

	cfg := &config.Config{
		Search: config.SearchConfig{
			Industry: "dental practices",
			Location: "Buckhead, Atlanta, GA",
			Criteria: "Established businesses with professional websites",
			NumLeads: 3,
		},
	}

	registry := store.NewRegistry(store.Config{MaxRuns: 10, TTL: time.Hour, CleanupInterval: 0}, logger)
	t.Cleanup(func() { _ = registry.Close() })

	generator := pipeline.NewGenerator(client, pipeline.DefaultOptions(), logger)
	writer := export.NewWriter(t.TempDir(), logger)

	runner := task.NewRunner(generator, registry, writer, nil, logger)
	t.Cleanup(runner.Close)

	healthManager := health.NewManager("lead-generator", "test", logger)

	srv := New(cfg, runner, registry, generator, historyStore, healthManager, logger)

	return &testServer{
		server:   srv,
		router:   srv.Router(),
		registry: registry,
		runner:   runner,
	}
}

func (ts *testServer) waitForTerminal(t *testing.T, runID string) *store.Run {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := ts.registry.Get(context.Background(), runID)
		require.NoError(t, err)
		if run.Status.Terminal() {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("Run %s never reached a terminal state", runID)
	return nil
}

// startFinishedRun runs a canned pipeline to completion and returns the
// final run snapshot.
func (ts *testServer) startFinishedRun(t *testing.T) *store.Run {
	t.Helper()

	w := performJSON(ts.router, "POST", "/runs", map[string]interface{}{})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	return ts.waitForTerminal(t, resp.ID)
}

func performJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}

	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleIndex(t *testing.T) {
	ts := setupTestServer(t, &stubClient{}, nil)

	w := performJSON(ts.router, "GET", "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))

	assert.Equal(t, "lead-generator", response["service"])
	assert.Equal(t, false, response["history_enabled"])

	defaults, ok := response["defaults"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "dental practices", defaults["industry"])
	assert.Equal(t, "Buckhead, Atlanta, GA", defaults["location"])
	assert.Equal(t, float64(3), defaults["min_leads"])
	assert.Equal(t, float64(10), defaults["max_leads"])
}

func TestHandleHealth(t *testing.T) {
	ts := setupTestServer(t, &stubClient{}, nil)

	w := performJSON(ts.router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Contains(t, response, "status")
	assert.Equal(t, "lead-generator", response["service"])
}

func TestHandleStartRunDefaults(t *testing.T) {
	ts := setupTestServer(t, &stubClient{}, nil)

	// An empty request starts a run with the configured form defaults
	w := performJSON(ts.router, "POST", "/runs", map[string]interface{}{})
	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.True(t, strings.HasPrefix(resp.ID, "run_"))
	assert.Equal(t, store.StatusPending, resp.Status)
	assert.Equal(t, "dental practices", resp.Params.Industry)
	assert.Equal(t, "Buckhead, Atlanta, GA", resp.Params.Location)
	assert.Equal(t, 3, resp.Params.NumLeads)

	ts.waitForTerminal(t, resp.ID)
}

func TestHandleStartRunClampsCount(t *testing.T) {
	ts := setupTestServer(t, &stubClient{}, nil)

	w := performJSON(ts.router, "POST", "/runs", map[string]interface{}{
		"industry":  "med spas",
		"location":  "Austin, TX",
		"num_leads": 99,
	})
	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "med spas", resp.Params.Industry)
	assert.Equal(t, "Austin, TX", resp.Params.Location)
	assert.Equal(t, 10, resp.Params.NumLeads)

	ts.waitForTerminal(t, resp.ID)
}

func TestHandleStartRunFormEncoding(t *testing.T) {
	ts := setupTestServer(t, &stubClient{}, nil)

	form := url.Values{}
	form.Set("industry", "med spas")
	form.Set("num_leads", "5")

	req, _ := http.NewRequest("POST", "/runs", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "med spas", resp.Params.Industry)
	assert.Equal(t, 5, resp.Params.NumLeads)

	ts.waitForTerminal(t, resp.ID)
}

func TestHandleGetRun(t *testing.T) {
	client := &stubClient{responses: []stubResponse{
		{content: researchJSON},
		{content: qualifiedJSON},
	}}
	ts := setupTestServer(t, client, nil)

	// Unknown run
	w := performJSON(ts.router, "GET", "/runs/run_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	run := ts.startFinishedRun(t)

	w = performJSON(ts.router, "GET", "/runs/"+run.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, store.StatusSucceeded, resp.Status)
	assert.Equal(t, 2, resp.Metrics.TotalLeads)
	assert.Equal(t, 2, resp.Metrics.QualifiedLeads)
	assert.Equal(t, 1, resp.Metrics.HighValue)
	assert.Equal(t, 1, resp.Metrics.MediumValue)
	assert.Equal(t, 0, resp.Metrics.LowValue)
	require.NotNil(t, resp.Export)
	assert.True(t, strings.HasPrefix(resp.Export.Filename, "qualified_leads_"))
}

func TestHandleListRuns(t *testing.T) {
	ts := setupTestServer(t, &stubClient{}, nil)

	first := ts.startFinishedRun(t)
	second := ts.startFinishedRun(t)

	w := performJSON(ts.router, "GET", "/runs", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp []RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 2)

	// Newest first
	assert.Equal(t, second.ID, resp[0].ID)
	assert.Equal(t, first.ID, resp[1].ID)
}

func TestHandleCancelRun(t *testing.T) {
	client := newBlockingClient()
	ts := setupTestServer(t, client, nil)

	w := performJSON(ts.router, "POST", "/runs", map[string]interface{}{})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	select {
	case <-client.started:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for research call")
	}

	w = performJSON(ts.router, "POST", "/runs/"+resp.ID+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	final := ts.waitForTerminal(t, resp.ID)
	assert.Equal(t, store.StatusCanceled, final.Status)

	// Canceling a finished run conflicts
	w = performJSON(ts.router, "POST", "/runs/"+resp.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Canceling an unknown run is a 404
	w = performJSON(ts.router, "POST", "/runs/run_missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleDeleteRun(t *testing.T) {
	ts := setupTestServer(t, &stubClient{}, nil)

	run := ts.startFinishedRun(t)

	w := performJSON(ts.router, "DELETE", "/runs/"+run.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = performJSON(ts.router, "GET", "/runs/"+run.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = performJSON(ts.router, "DELETE", "/runs/"+run.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleDeleteActiveRunConflict(t *testing.T) {
	client := newBlockingClient()
	ts := setupTestServer(t, client, nil)

	w := performJSON(ts.router, "POST", "/runs", map[string]interface{}{})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	select {
	case <-client.started:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for research call")
	}

	// A live run cannot be deleted out from under its pipeline
	w = performJSON(ts.router, "DELETE", "/runs/"+resp.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = performJSON(ts.router, "GET", "/runs/"+resp.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Once canceled it can be removed
	w = performJSON(ts.router, "POST", "/runs/"+resp.ID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	ts.waitForTerminal(t, resp.ID)

	w = performJSON(ts.router, "DELETE", "/runs/"+resp.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleGenerateEmail(t *testing.T) {
	client := &stubClient{responses: []stubResponse{
		{content: researchJSON},
		{content: qualifiedJSON},
		{content: "Subject: Premium cleaning for Peachtree Smiles"},
	}}
	ts := setupTestServer(t, client, nil)

	run := ts.startFinishedRun(t)

	w := performJSON(ts.router, "POST", "/runs/"+run.ID+"/emails/0", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp EmailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, run.ID, resp.RunID)
	assert.Equal(t, 0, resp.Index)
	assert.Equal(t, "Subject: Premium cleaning for Peachtree Smiles", resp.Email)
	assert.Empty(t, resp.Error)

	// The email is stored on the run
	w = performJSON(ts.router, "GET", "/runs/"+run.ID, nil)
	var runResp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runResp))
	assert.Equal(t, "Subject: Premium cleaning for Peachtree Smiles", runResp.Emails[0])

	// Invalid index formats and ranges
	w = performJSON(ts.router, "POST", "/runs/"+run.ID+"/emails/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performJSON(ts.router, "POST", "/runs/"+run.ID+"/emails/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = performJSON(ts.router, "POST", "/runs/run_missing/emails/0", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGenerateEmailConcurrent(t *testing.T) {
	client := newGatedClient(
		stubResponse{content: researchJSON},
		stubResponse{content: qualifiedJSON},
	)
	ts := setupTestServer(t, client, nil)

	run := ts.startFinishedRun(t)
	require.Len(t, run.Qualified, 2)

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := performJSON(ts.router, "POST", fmt.Sprintf("/runs/%s/emails/%d", run.ID, i), nil)
			codes[i] = w.Code
		}(i)
	}

	// Both generations are inside their model calls, each holding a
	// pre-call view of the run, before either one stores its result
	for i := 0; i < 2; i++ {
		select {
		case <-client.started:
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for outreach calls")
		}
	}
	close(client.release)
	wg.Wait()

	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])

	// Neither stored email erased the other, and the run stayed finished
	w := performJSON(ts.router, "GET", "/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Emails, 2)
	assert.NotEmpty(t, resp.Emails[0])
	assert.NotEmpty(t, resp.Emails[1])
	assert.Equal(t, store.StatusSucceeded, resp.Status)
	require.NotNil(t, resp.CompletedAt)
}

func TestHandleGenerateEmailFailure(t *testing.T) {
	client := &stubClient{responses: []stubResponse{
		{content: researchJSON},
		{content: qualifiedJSON},
		{err: assert.AnError},
	}}
	ts := setupTestServer(t, client, nil)

	run := ts.startFinishedRun(t)

	w := performJSON(ts.router, "POST", "/runs/"+run.ID+"/emails/0", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp EmailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	// The fixed template text is returned alongside the error
	assert.Equal(t, pipeline.EmailFailureText, resp.Email)
	assert.NotEmpty(t, resp.Error)
}

func TestHandleGenerateAllEmails(t *testing.T) {
	client := &stubClient{responses: []stubResponse{
		{content: researchJSON},
		{content: singleQualifiedJSON},
		{content: "Subject: Premium cleaning for Peachtree Smiles"},
	}}
	ts := setupTestServer(t, client, nil)

	run := ts.startFinishedRun(t)

	w := performJSON(ts.router, "POST", "/runs/"+run.ID+"/emails", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		RunID  string   `json:"run_id"`
		Emails []string `json:"emails"`
		Failed int      `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, run.ID, resp.RunID)
	require.Len(t, resp.Emails, 1)
	assert.Equal(t, "Subject: Premium cleaning for Peachtree Smiles", resp.Emails[0])
	assert.Equal(t, 0, resp.Failed)
}

func TestHandleGenerateAllEmailsNoLeads(t *testing.T) {
	// Empty model outputs leave no qualified leads to email
	ts := setupTestServer(t, &stubClient{}, nil)

	run := ts.startFinishedRun(t)

	w := performJSON(ts.router, "POST", "/runs/"+run.ID+"/emails", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleDownloadExport(t *testing.T) {
	client := &stubClient{responses: []stubResponse{
		{content: researchJSON},
		{content: qualifiedJSON},
	}}
	ts := setupTestServer(t, client, nil)

	run := ts.startFinishedRun(t)
	require.NotNil(t, run.Export)

	w := performJSON(ts.router, "GET", "/runs/"+run.ID+"/export", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.ContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "qualified_leads_")
	assert.NotZero(t, w.Body.Len())
}

func TestHandleDownloadExportMissing(t *testing.T) {
	// Runs without qualified leads produce no spreadsheet
	ts := setupTestServer(t, &stubClient{}, nil)

	run := ts.startFinishedRun(t)

	w := performJSON(ts.router, "GET", "/runs/"+run.ID+"/export", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = performJSON(ts.router, "GET", "/runs/run_missing/export", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRunEvents(t *testing.T) {
	ts := setupTestServer(t, &stubClient{}, nil)

	run := ts.startFinishedRun(t)

	w := performJSON(ts.router, "GET", "/runs/"+run.ID+"/events", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "data: ")
	assert.Contains(t, body, `"type":"progress"`)
	assert.Contains(t, body, `"type":"complete"`)
	assert.Contains(t, body, "Researching businesses...")

	w = performJSON(ts.router, "GET", "/runs/run_missing/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleHistory(t *testing.T) {
	logger := zap.NewNop()
	historyStore, err := history.NewStore(":memory:", logger)
	require.NoError(t, err)
	defer func() { _ = historyStore.Close() }()

	now := time.Now().UTC()
	for i, id := range []string{"run_old", "run_new"} {
		require.NoError(t, historyStore.Record(context.Background(), history.Summary{
			RunID:       id,
			Industry:    "dental practices",
			Location:    "Buckhead, Atlanta, GA",
			CreatedAt:   now.Add(time.Duration(i) * time.Hour),
			CompletedAt: now.Add(time.Duration(i)*time.Hour + time.Minute),
		}))
	}

	ts := setupTestServer(t, &stubClient{}, historyStore)

	w := performJSON(ts.router, "GET", "/history", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var summaries []history.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	require.Len(t, summaries, 2)
	assert.Equal(t, "run_new", summaries[0].RunID)

	w = performJSON(ts.router, "GET", "/history?limit=1", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	assert.Len(t, summaries, 1)

	w = performJSON(ts.router, "GET", "/history?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHistoryDisabled(t *testing.T) {
	ts := setupTestServer(t, &stubClient{}, nil)

	// The route is not registered when history is off
	w := performJSON(ts.router, "GET", "/history", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
