package gateway

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsClosedErr(t *testing.T) {
	closed := []error{
		io.EOF,
		io.ErrUnexpectedEOF,
		net.ErrClosed,
		fmt.Errorf("write: %w", syscall.EPIPE),
		fmt.Errorf("read: %w", syscall.ECONNRESET),
		wsutil.ClosedError{Code: ws.StatusNormalClosure},
	}
	for _, err := range closed {
		assert.True(t, isClosedErr(err), "%v should count as closed", err)
	}

	assert.False(t, isClosedErr(errors.New("boom")))
}

func TestWrapConn_DrainsHandshakeBuffer(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(strings.NewReader("leftover")), nil)
	_, err := rw.Reader.Peek(1)
	require.NoError(t, err)

	conn := wrapConn(server, rw)
	buf := make([]byte, 8)
	n, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "leftover", string(buf[:n]))

	assert.Same(t, server, wrapConn(server, nil))
}
