package security

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// sessionPrefix stands in for an empty prefix. It is generated once so every
// caller in the process sees the same fleet.
var sessionPrefix = sync.OnceValue(NewControllerID)

// ControllerID returns the controller id of the index-th simulated device.
// Devices are numbered from 0. An empty prefix is replaced by a random one
// that stays fixed for the lifetime of the process.
func ControllerID(prefix string, index int) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = sessionPrefix()
	}
	return fmt.Sprintf("%s-%d", prefix, index)
}

// NewControllerID generates a random controller id.
func NewControllerID() string {
	return "sim-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
