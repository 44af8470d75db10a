package version

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"
)

// setBuild overrides the build variables for the duration of a test.
func setBuild(t *testing.T, v, commit, date string) {
	t.Helper()
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = v, commit, date
	t.Cleanup(func() {
		Version, Commit, Date = origVersion, origCommit, origDate
	})
}

func TestGetFullVersion(t *testing.T) {
	setBuild(t, "1.0.0", "abc123", "2026-01-01")

	full := GetFullVersion()

	for _, want := range []string{
		"ddi-simulator",
		"1.0.0",
		"abc123",
		"2026-01-01",
		runtime.Version(),
		runtime.GOOS + "/" + runtime.GOARCH,
	} {
		if !strings.Contains(full, want) {
			t.Errorf("full version %q should contain %q", full, want)
		}
	}
}

func TestGetShortVersion(t *testing.T) {
	setBuild(t, "1.2.3", "x", "y")
	if short := GetShortVersion(); short != "1.2.3" {
		t.Errorf("Expected '1.2.3', got '%s'", short)
	}

	Version = "dev"
	if short := GetShortVersion(); short != "dev" {
		t.Errorf("Expected 'dev', got '%s'", short)
	}
}

func TestGet_JSON(t *testing.T) {
	setBuild(t, "2.0.0", "deadbeef", "2026-10-01")

	data, err := json.Marshal(Get())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["version"] != "2.0.0" || decoded["commit"] != "deadbeef" || decoded["go_version"] != runtime.Version() {
		t.Errorf("info = %v", decoded)
	}
}

func TestUserAgent(t *testing.T) {
	setBuild(t, "3.1.4", "x", "y")
	if ua := UserAgent(); ua != "ddi-simulator/3.1.4" {
		t.Errorf("UserAgent() = %q", ua)
	}
}

func TestDefaultValues(t *testing.T) {
	if Version != "dev" && Version != "" {
		t.Logf("Version is set to: %s (probably from build flags)", Version)
	}
	if Commit != "unknown" && Commit != "" {
		t.Logf("Commit is set to: %s (probably from build flags)", Commit)
	}
}
