package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/security"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	auth, err := security.NewAuthenticator(security.Credentials{TargetToken: "secret"})
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}
	return NewClient(server.URL+"/", server.Client(), auth, 5*time.Second, nil)
}

func TestClientDo_DecodesAndAuthenticates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "TargetToken secret" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("User-Agent"); !strings.HasPrefix(got, "ddi-simulator/") {
			t.Errorf("User-Agent = %q", got)
		}
		if r.URL.Path != "/items" || r.URL.Query().Get("n") != "2" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"widget"}`))
	})

	var out struct {
		Name string `json:"name"`
	}
	err := client.Do(context.Background(), "get items", http.MethodGet, "/items", url.Values{"n": {"2"}}, nil, &out)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if out.Name != "widget" {
		t.Errorf("Name = %q, want widget", out.Name)
	}
}

func TestClientDo_SendsJSONBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"mode":"merge"}` {
			t.Errorf("body = %s", body)
		}
		w.WriteHeader(http.StatusOK)
	})

	body := map[string]string{"mode": "merge"}
	if err := client.Do(context.Background(), "put", http.MethodPut, "/config", nil, body, nil); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
}

func TestClientDo_HTTPError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{name: "hawkbit exception info", status: http.StatusNotFound, body: `{"errorCode":"hawkbit.server.error.repo.entitiyNotFound","message":"Action 7 not found"}`, wantMessage: "Action 7 not found"},
		{name: "error code only", status: http.StatusGone, body: `{"errorCode":"hawkbit.server.error.action.closed"}`, wantMessage: "hawkbit.server.error.action.closed"},
		{name: "plain text", status: http.StatusInternalServerError, body: "boom\n", wantMessage: "boom"},
		{name: "empty body", status: http.StatusUnauthorized, body: "", wantMessage: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			err := client.Do(context.Background(), "op", http.MethodGet, "/x", nil, nil, nil)

			var httpErr *HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("error = %v, want *HTTPError", err)
			}
			if httpErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", httpErr.StatusCode, tt.status)
			}
			if httpErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", httpErr.Message, tt.wantMessage)
			}
			if StatusCode(err) != tt.status {
				t.Errorf("StatusCode(err) = %d, want %d", StatusCode(err), tt.status)
			}
		})
	}
}

type failingDoer struct{ err error }

func (d failingDoer) Do(*http.Request) (*http.Response, error) { return nil, d.err }

func TestClientDo_TransportError(t *testing.T) {
	cause := errors.New("connection refused")
	client := NewClient("http://unreachable", failingDoer{err: cause}, nil, time.Second, nil)

	err := client.Do(context.Background(), "poll", http.MethodGet, "/", nil, nil, nil)

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error should wrap the cause")
	}
	if StatusCode(err) != 0 {
		t.Errorf("StatusCode() = %d, want 0", StatusCode(err))
	}
}

func TestClientDo_RequestError(t *testing.T) {
	client := NewClient("http://localhost", failingDoer{}, nil, time.Second, nil)

	err := client.Do(context.Background(), "push", http.MethodPut, "/", nil, make(chan int), nil)

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error = %v, want *RequestError", err)
	}
}

func TestClientDo_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client(), nil, 50*time.Millisecond, nil)

	err := client.Do(context.Background(), "slow", http.MethodGet, "/", nil, nil, nil)

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
}

func TestClientStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("binary-content"))
	})

	body, err := client.Stream(context.Background(), "download", "/file.bin")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != "binary-content" {
		t.Errorf("body = %q", data)
	}
}
