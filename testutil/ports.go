package testutil

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// FreeAddresses returns n loopback addresses with ports that were free at the time of the call
func FreeAddresses(t *testing.T, n int) []string {
	t.Helper()

	listeners := make([]net.Listener, 0, n)
	defer func() {
		for _, l := range listeners {
			_ = l.Close()
		}
	}()

	result := make([]string, 0, n)
	for range n {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners = append(listeners, l)

		port := l.Addr().(*net.TCPAddr).Port
		result = append(result, fmt.Sprintf("127.0.0.1:%d", port))
	}
	return result
}
