package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kodflow/ddi-simulator/src/internal/domain/entity"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/logger"
)

const artifactContent = "firmware-image"

type recordedRequest struct {
	Method string
	Device string
	Path   string
	Auth   string
	Body   string
}

// fakeDDI answers the controller resources the commands touch. Every device
// is offered deployment 7 until it has fetched it once.
type fakeDDI struct {
	mu       sync.Mutex
	requests []recordedRequest
	served   map[string]bool
}

func newFakeDDI(t *testing.T) (*fakeDDI, *httptest.Server) {
	t.Helper()
	f := &fakeDDI{served: map[string]bool{}}
	server := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeDDI) serve(w http.ResponseWriter, r *http.Request) {
	// /{tenant}/controller/v1/{id}[/...]
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 4 || parts[0] != "DEFAULT" || parts[1] != "controller" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[3]
	rest := strings.Join(parts[4:], "/")
	base := "http://" + r.Host + "/DEFAULT/controller/v1/" + id
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Device: id,
		Path:   rest,
		Auth:   r.Header.Get("Authorization"),
		Body:   string(body),
	})

	deployment := entity.DeploymentBase{
		ID: "7",
		Deployment: entity.Deployment{
			Download: "forced",
			Update:   "forced",
			Chunks: []entity.Chunk{{
				Part:      "os",
				Name:      "firmware",
				Version:   "2.1.0",
				Artifacts: []entity.Artifact{{Filename: "fw.bin", Size: 2048}},
			}},
		},
	}

	switch {
	case rest == "" && r.Method == http.MethodGet:
		links := map[string]interface{}{}
		if !f.served[id] {
			links["deploymentBase"] = map[string]string{"href": base + "/deploymentBase/7?c=1"}
		}
		writeTestJSON(w, map[string]interface{}{
			"config": map[string]interface{}{"polling": map[string]string{"sleep": "00:00:01"}},
			"_links": links,
		})
	case rest == "deploymentBase/7" && r.Method == http.MethodGet:
		f.served[id] = true
		writeTestJSON(w, deployment)
	case rest == "installedBase/7" && r.Method == http.MethodGet:
		deployment.ActionHistory = &entity.ActionHistory{Status: "FINISHED", Messages: []string{"installed by rig"}}
		writeTestJSON(w, deployment)
	case strings.HasSuffix(rest, "/feedback") && r.Method == http.MethodPost:
		w.WriteHeader(http.StatusOK)
	case rest == "confirmationBase" && r.Method == http.MethodGet:
		writeTestJSON(w, map[string]interface{}{
			"autoConfirm": map[string]interface{}{"active": true, "initiator": "ops"},
			"_links": map[string]interface{}{
				"confirmationBase": map[string]string{"href": base + "/confirmationBase/9?c=1"},
			},
		})
	case strings.HasPrefix(rest, "confirmationBase/") && strings.HasSuffix(rest, "AutoConfirm") && r.Method == http.MethodPost:
		w.WriteHeader(http.StatusOK)
	case rest == "softwaremodules/5/artifacts" && r.Method == http.MethodGet:
		writeTestJSON(w, []entity.Artifact{{
			Filename: "fw.bin",
			Size:     int64(len(artifactContent)),
			Hashes:   entity.Hashes{SHA256: "0123456789abcdef0123"},
		}})
	case rest == "softwaremodules/5/artifacts/fw.bin" && r.Method == http.MethodGet:
		_, _ = io.WriteString(w, artifactContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeTestJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Requests returns the recorded requests whose path starts with prefix.
func (f *fakeDDI) Requests(method, prefix string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedRequest
	for _, req := range f.requests {
		if req.Method == method && strings.HasPrefix(req.Path, prefix) {
			out = append(out, req)
		}
	}
	return out
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	defer logger.Close()

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// serverArgs points a command at server with gateway auth and a fixed prefix.
func serverArgs(url string, args ...string) []string {
	return append([]string{"--server", url, "--gateway-token", "gw", "--prefix", "rig", "--log-level", "error"}, args...)
}

func writeTestConfig(t *testing.T, url string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	content := fmt.Sprintf(`[server]
url = %q
tenant = "DEFAULT"
timeout_seconds = 5

[auth]
gateway_token = "gw"

[fleet]
devices = 2
prefix = "rig"

[simulation]
polling_interval_seconds = 1
download_rate_ms = 1
install_delay_ms = 0

[logging]
level = "error"
`, url)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
