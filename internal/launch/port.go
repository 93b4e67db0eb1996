package launch

import (
	"fmt"
	"net"
)

// UnusedPort asks the kernel for a free TCP port for worker coordination.
func UnusedPort() (int, error) {
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find unused port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
