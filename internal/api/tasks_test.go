package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/webtasks/internal/engine"
	"github.com/seantiz/webtasks/internal/model"
)

func submitTask(t *testing.T, ts *httptest.Server, body string) string {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/tasks", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/tasks: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var got submitTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID == "" {
		t.Fatal("empty task id")
	}
	if loc := resp.Header.Get("Location"); loc != "/v1/tasks/"+got.ID {
		t.Errorf("Location = %q, want /v1/tasks/%s", loc, got.ID)
	}
	return got.ID
}

// getTask fetches the task status. ok is false on 404.
func getTask(t *testing.T, ts *httptest.Server, id string) (model.Status, bool) {
	t.Helper()
	resp, err := http.Get(ts.URL + "/v1/tasks/" + id)
	if err != nil {
		t.Fatalf("GET /v1/tasks/%s: %v", id, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return model.Status{}, false
	case http.StatusOK:
	default:
		t.Fatalf("status = %d, want 200 or 404", resp.StatusCode)
	}

	var st model.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return st, true
}

// waitForTaskState polls GET /v1/tasks/{id} until the task reaches expected.
// The task must persist on read.
func waitForTaskState(t *testing.T, ts *httptest.Server, id string, expected model.State, timeout time.Duration) model.Status {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st, ok := getTask(t, ts, id)
		if !ok {
			t.Fatalf("task %s not found while waiting for %q", id, expected)
		}
		if st.State == expected {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach state %q within %v", id, expected, timeout)
	return model.Status{}
}

func TestSubmitEchoTask(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := submitTask(t, ts, `{"job":"echo","params":{"value":"hi"},"config":{"persist_on_read":true}}`)
	st := waitForTaskState(t, ts, id, model.StateFinished, 5*time.Second)

	if st.ID != id {
		t.Errorf("id = %q, want %q", st.ID, id)
	}
	if st.Result != "hi" {
		t.Errorf("result = %v, want hi", st.Result)
	}

	// Persisted: a second read still succeeds.
	if _, ok := getTask(t, ts, id); !ok {
		t.Error("persisted task evicted on read")
	}
}

func TestGetTaskReadOnce(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := submitTask(t, ts, `{"job":"echo","params":{"value":1}}`)
	srv.registry.Wait()

	st, ok := getTask(t, ts, id)
	if !ok {
		t.Fatal("first read returned 404")
	}
	if st.State != model.StateFinished {
		t.Errorf("state = %q, want finished", st.State)
	}
	if _, ok := getTask(t, ts, id); ok {
		t.Error("second read of a read-once task succeeded")
	}
}

func TestSubmitFailTask(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := submitTask(t, ts, `{"job":"fail","params":{"message":"nope"}}`)
	srv.registry.Wait()

	// Failed tasks are not evicted on read.
	for range 2 {
		st, ok := getTask(t, ts, id)
		if !ok {
			t.Fatal("failed task not found")
		}
		if st.State != model.StateFailed || st.Error != "nope" {
			t.Errorf("status = %+v, want failed/nope", st)
		}
	}
}

func TestSubmitTaskBadRequests(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing job", `{"params":{}}`},
		{"unknown job", `{"job":"teleport"}`},
		{"invalid params", `{"job":"count","params":{"total":0}}`},
		{"negative expiration", `{"job":"echo","config":{"result_expiration_ms":-5}}`},
		{"negative timeout", `{"job":"echo","config":{"work_timeout_ms":-1}}`},
		{"overflowing expiration", `{"job":"echo","config":{"result_expiration_ms":9223372036854775807}}`},
		{"overflowing timeout", `{"job":"echo","config":{"work_timeout_ms":9300000000000}}`},
		{"name too long", `{"job":"echo","name":"` + strings.Repeat("x", 200) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/v1/tasks", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] == "" {
				t.Error("error message is empty")
			}
		})
	}
	if n := srv.registry.Len(); n != 0 {
		t.Errorf("registry holds %d tasks after rejected submissions", n)
	}
}

func TestSubmitTaskAfterShutdown(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	if err := srv.registry.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	resp, err := http.Post(ts.URL+"/v1/tasks", "application/json", strings.NewReader(`{"job":"echo"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	if _, ok := getTask(t, ts, "nonexistent"); ok {
		t.Error("unknown task returned 200")
	}
}

func TestCancelTask(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := submitTask(t, ts, `{"job":"count","params":{"total":10000,"step_ms":20}}`)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/tasks/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}

	srv.registry.Wait()
	st, ok := getTask(t, ts, id)
	if !ok {
		t.Fatal("canceled task not found")
	}
	if st.State != model.StateCanceled {
		t.Errorf("state = %q, want canceled", st.State)
	}
}

func TestCancelUnknownTaskAccepted(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/tasks/nonexistent", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
}

func TestSubmitTaskConfigOverrides(t *testing.T) {
	srv := newTestServer(t, engine.WithDefaults(model.Config{WorkTimeout: time.Hour}))

	req := submitTaskRequest{Job: "echo"}
	cfg := srv.taskConfig(req)
	if cfg.Name != "echo" || cfg.WorkTimeout != time.Hour || cfg.PersistOnRead {
		t.Errorf("default config = %+v", cfg)
	}

	exp, timeout, persist := int64(1500), int64(0), true
	req = submitTaskRequest{
		Job:  "echo",
		Name: "greeting",
		Config: &taskConfigRequest{
			ResultExpirationMS: &exp,
			WorkTimeoutMS:      &timeout,
			PersistOnRead:      &persist,
		},
	}
	cfg = srv.taskConfig(req)
	if cfg.Name != "greeting" {
		t.Errorf("Name = %q, want greeting", cfg.Name)
	}
	if cfg.ResultExpiration != 1500*time.Millisecond {
		t.Errorf("ResultExpiration = %v, want 1.5s", cfg.ResultExpiration)
	}
	if !cfg.PersistOnRead {
		t.Error("PersistOnRead = false, want true")
	}
}

func TestListJobs(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs")
	if err != nil {
		t.Fatalf("GET /v1/jobs: %v", err)
	}
	defer resp.Body.Close()

	var got []struct {
		Name         string `json:"name"`
		ContextAware bool   `json:"context_aware"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 3 || got[0].Name != "count" || !got[0].ContextAware {
		t.Errorf("jobs = %+v", got)
	}
}
