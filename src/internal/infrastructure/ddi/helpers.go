package ddi

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// DefaultPollingInterval is used when the server sends a malformed sleep value.
const DefaultPollingInterval = 60

var actionIDPattern = regexp.MustCompile(`/(?:deploymentBase|cancelAction|confirmationBase|installedBase)/(\d+)(?:[/?#]|$)`)

// ExtractActionID returns the numeric action id embedded in a
// deploymentBase/{id}, cancelAction/{id}, confirmationBase/{id} or
// installedBase/{id} URL.
func ExtractActionID(href string) (string, bool) {
	m := actionIDPattern.FindStringSubmatch(href)
	if m == nil {
		return "", false
	}
	return m[1], true
}

var confirmationIDPattern = regexp.MustCompile(`/confirmationBase/(\d+)(?:[/?#]|$)`)

// ConfirmationActionID returns the action id of a confirmationBase/{id} URL.
func ConfirmationActionID(href string) (string, bool) {
	m := confirmationIDPattern.FindStringSubmatch(href)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParsePollingInterval converts "HH:MM:SS" to seconds. Anything that is not
// exactly three non-negative numeric parts, or that sums to zero, yields
// DefaultPollingInterval.
func ParsePollingInterval(text string) int {
	parts := strings.Split(strings.TrimSpace(text), ":")
	if len(parts) != 3 {
		return DefaultPollingInterval
	}

	total := 0
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return DefaultPollingInterval
		}
		switch i {
		case 0:
			total += n * 3600
		case 1:
			total += n * 60
		default:
			total += n
		}
	}
	if total <= 0 {
		return DefaultPollingInterval
	}
	return total
}

// FormatSize renders a byte count for log output.
func FormatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// minDownloadDelay is the floor applied to every simulated artifact download.
const minDownloadDelay = 100 * time.Millisecond

// DownloadDelay returns how long a simulated download of size bytes takes at
// rate per MiB, never less than 100ms.
func DownloadDelay(size int64, rate time.Duration) time.Duration {
	mib := float64(size) / (1024 * 1024)
	d := time.Duration(math.Round(mib * float64(rate)))
	if d < minDownloadDelay {
		return minDownloadDelay
	}
	return d
}
