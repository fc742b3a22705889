//go:build e2e

package e2e_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// getenv returns the value of the environment variable k or def if empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

var baseURL = getenv("E2E_BASE_URL", "http://localhost:8080")

// waitForAppReady polls /readyz until the stack (db, queue, bot runner)
// reports healthy or the timeout elapses.
func waitForAppReady(t *testing.T, client *http.Client, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(2 * time.Second)
	}
	t.Fatalf("app not ready within %s", timeout)
}

// postJSON posts the payload and decodes the JSON response body.
func postJSON(t *testing.T, client *http.Client, path string, payload any, hdr map[string]string) (int, map[string]any) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

// getJSON fetches the path and decodes the JSON response body.
func getJSON(t *testing.T, client *http.Client, path string) (int, map[string]any) {
	t.Helper()
	resp, err := client.Get(baseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(raw) == 0 {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode body %q: %v", raw, err)
	}
	return out
}

// waitForTerminal polls the job until it reaches completed or failed, or
// the timeout elapses, returning the last job document seen.
func waitForTerminal(t *testing.T, client *http.Client, jobID string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last map[string]any
	for time.Now().Before(deadline) {
		code, body := getJSON(t, client, "/v1/jobs/"+jobID)
		if code != http.StatusOK {
			t.Fatalf("GET job %s: status %d: %#v", jobID, code, body)
		}
		last = body
		switch body["state"] {
		case "completed", "failed":
			return body
		}
		time.Sleep(1 * time.Second)
	}
	return last
}

// enqueue posts an operation and returns the job id, failing on non-201.
func enqueue(t *testing.T, client *http.Client, kind, userID string, data any, hdr map[string]string) string {
	t.Helper()
	payload := map[string]any{"kind": kind, "user_id": userID}
	if data != nil {
		payload["data"] = data
	}
	code, body := postJSON(t, client, "/v1/operations", payload, hdr)
	if code != http.StatusCreated {
		t.Fatalf("enqueue %s: status %d: %#v", kind, code, body)
	}
	jobID, _ := body["job_id"].(string)
	if jobID == "" {
		t.Fatalf("enqueue %s: no job_id in %#v", kind, body)
	}
	return jobID
}

// uniqueAgent derives a fresh agent id per test run so reruns do not
// contend with each other's locks or sync history.
func uniqueAgent(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano()%1_000_000)
}
