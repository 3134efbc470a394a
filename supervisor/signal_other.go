//go:build !unix

package supervisor

import (
	"fmt"
	"os"
	"strings"
)

var DefaultSignal os.Signal = os.Kill

// ParseSignal only knows SIGKILL here; the platform has no other way to stop
// a process.
func ParseSignal(name string) (os.Signal, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "KILL", "SIGKILL":
		return DefaultSignal, nil
	default:
		return nil, fmt.Errorf("unsupported signal %q on this platform", name)
	}
}
