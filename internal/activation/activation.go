package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Systemd passes activated file descriptors starting at fd 3
// (0=stdin, 1=stdout, 2=stderr).
const listenFDStart = 3

// Listeners returns the listeners handed to this process via systemd
// socket activation, nil when no activation is detected or the activation
// targets a different process. Socket names from LISTEN_FDNAMES are used
// to label the file descriptors when present.
func Listeners() ([]net.Listener, error) {
	numFDs, names, err := activatedFDs()
	if err != nil || numFDs == 0 {
		return nil, err
	}

	listeners := make([]net.Listener, 0, numFDs)
	for i := 0; i < numFDs; i++ {
		fd := listenFDStart + i

		name := fmt.Sprintf("systemd-socket-%d", i)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}

		file := os.NewFile(uintptr(fd), name)
		if file == nil {
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}

		listener, err := net.FileListener(file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}

		// The listener duplicated the descriptor and owns its copy.
		_ = file.Close()

		listeners = append(listeners, listener)
	}

	scrubEnv()
	return listeners, nil
}

// activatedFDs parses the socket activation environment and returns the
// number of activated descriptors plus their optional names. Zero is
// returned when activation is absent or addressed to another process.
func activatedFDs() (int, []string, error) {
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return 0, nil, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		// Socket activation is for a different process
		return 0, nil, nil
	}

	fdsStr := os.Getenv("LISTEN_FDS")
	if fdsStr == "" {
		return 0, nil, nil
	}

	numFDs, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if numFDs < 1 {
		return 0, nil, nil
	}

	var names []string
	if namesStr := os.Getenv("LISTEN_FDNAMES"); namesStr != "" {
		names = strings.Split(namesStr, ":")
	}

	return numFDs, names, nil
}

// scrubEnv unsets the activation variables so child processes do not
// inherit them.
func scrubEnv() {
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")
}
