package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
)

// SendCommand delivers one command to the channel listening on socket.
// It returns once the command is written; it does not wait for the
// command to be carried out.
func SendCommand(ctx context.Context, socket, command string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return fmt.Errorf("connect %s: %w", socket, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}

	if _, err := io.WriteString(conn, command+"\n"); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}
