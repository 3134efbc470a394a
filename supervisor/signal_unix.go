//go:build unix

package supervisor

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// DefaultSignal matches a hard kill of the previous run.
var DefaultSignal os.Signal = unix.SIGKILL

// ParseSignal accepts names like "SIGTERM", "term" or "INT". An empty name
// yields DefaultSignal.
func ParseSignal(name string) (os.Signal, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "" {
		return DefaultSignal, nil
	}
	if !strings.HasPrefix(n, "SIG") {
		n = "SIG" + n
	}

	sig := unix.SignalNum(n)
	if sig == 0 {
		return nil, fmt.Errorf("unknown signal %q", name)
	}
	return sig, nil
}
