package main

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/kodflow/ddi-simulator/src/internal/application/fleet"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/store"
)

func TestRunCommand_DeploysEveryDevice(t *testing.T) {
	ddi, server := newFakeDDI(t)
	configPath := writeTestConfig(t, server.URL)

	out, _, err := runCLI(t, "--config", configPath, "run", "--duration", "1500ms")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "rig-0")
	requireContains(t, out, "rig-1")
	requireContains(t, out, "gateway_token")
	requireContains(t, out, "POLLS")

	feedback := ddi.Requests(http.MethodPost, "deploymentBase/7/feedback")
	perDevice := map[string][]string{}
	for _, req := range feedback {
		var body struct {
			Status struct {
				Execution string `json:"execution"`
			} `json:"status"`
		}
		if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
			t.Fatalf("decode feedback: %v", err)
		}
		perDevice[req.Device] = append(perDevice[req.Device], body.Status.Execution)
	}
	for _, id := range []string{"rig-0", "rig-1"} {
		got := strings.Join(perDevice[id], ",")
		if got != "proceeding,downloaded,closed" {
			t.Errorf("%s feedback = %q, want proceeding,downloaded,closed", id, got)
		}
	}
}

func TestRunCommand_FlagsOverrideConfig(t *testing.T) {
	ddi, server := newFakeDDI(t)
	configPath := writeTestConfig(t, server.URL)

	_, _, err := runCLI(t, "--config", configPath, "--devices", "1", "--prefix", "bench", "run", "--duration", "300ms")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	polls := ddi.Requests(http.MethodGet, "")
	if len(polls) == 0 {
		t.Fatal("no requests recorded")
	}
	for _, req := range polls {
		if req.Device != "bench-0" {
			t.Errorf("request from %q, want only bench-0", req.Device)
		}
	}
}

func TestRunCommand_StatusEndpoint(t *testing.T) {
	_, server := newFakeDDI(t)
	configPath := writeTestConfig(t, server.URL)
	addr := freeAddr(t)

	done := make(chan error, 1)
	go func() {
		_, _, err := runCLI(t, "--config", configPath, "run", "--duration", "2s", "--status-addr", addr)
		done <- err
	}()

	var devices []store.DeviceStatus
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/devices")
		if err == nil {
			decodeErr := json.NewDecoder(resp.Body).Decode(&devices)
			_ = resp.Body.Close()
			if decodeErr == nil && len(devices) == 2 {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("status endpoint not ready: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if devices[0].ControllerID != "rig-0" || devices[1].ControllerID != "rig-1" {
		t.Errorf("devices = %+v", devices)
	}

	var stats fleet.Stats
	for !stats.Running {
		resp, err := http.Get("http://" + addr + "/stats")
		if err == nil {
			_ = json.NewDecoder(resp.Body).Decode(&stats)
			_ = resp.Body.Close()
		}
		if time.Now().After(deadline) {
			t.Fatalf("fleet never reported running: %+v, %v", stats, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if stats.Devices != 2 || stats.Workers != 2 {
		t.Errorf("stats = %+v", stats)
	}

	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	_, server := newFakeDDI(t)

	_, _, err := runCLI(t, serverArgs(server.URL, "--devices", "0", "run")...)
	if err == nil {
		t.Fatal("expected a validation error")
	}
	requireContains(t, err.Error(), "fleet.devices must be positive")
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}
