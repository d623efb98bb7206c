package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/seantiz/webtasks/internal/model"
)

// readSSE collects data payloads and event names until the stream ends.
func readSSE(t *testing.T, resp *http.Response) (data []string, events []string) {
	t.Helper()
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}
	return data, events
}

func TestStreamProgressNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/tasks/nonexistent/progress")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamProgressSettledTask(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	id := submitTask(t, ts, `{"job":"fail","params":{"message":"x"}}`)
	srv.registry.Wait()

	resp, err := http.Get(ts.URL + "/v1/tasks/" + id + "/progress")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	_, events := readSSE(t, resp)
	if len(events) != 1 || events[0] != "done" {
		t.Errorf("events = %v, want [done]", events)
	}
}

func TestStreamProgressReceivesEntries(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Slow enough steps that the subscription is in place before the first report.
	id := submitTask(t, ts, `{"job":"count","params":{"total":3,"step_ms":200}}`)

	resp, err := http.Get(ts.URL + "/v1/tasks/" + id + "/progress")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	data, events := readSSE(t, resp)
	if len(events) != 1 || events[0] != "done" {
		t.Errorf("events = %v, want [done]", events)
	}

	// The last data line belongs to the done event.
	if len(data) != 4 {
		t.Fatalf("data lines = %d, want 3 entries plus done: %v", len(data), data)
	}
	for i, raw := range data[:3] {
		var p model.Progress
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			t.Fatalf("decode entry %d: %v", i, err)
		}
		if p.Current != i+1 || p.Total != 3 {
			t.Errorf("entry[%d] = %+v", i, p)
		}
	}
}
