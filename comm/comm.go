/*Package comm provides connection plumbing for communication with lab hardware.

Most usages of this package will boil down to:
	1.  make a Pool whose CreationFunc dials the hardware with DialBackoff
	2.  Get a connection, talk to the device, and return it with
		ReturnWithError so connections that errored are not reused

A minimal example is provided below for a device that answers "RD?" with a
line of text

	pool := comm.NewPool(1, time.Minute, func() (io.ReadWriteCloser, error) {
		return comm.DialBackoff("192.168.100.123:2006", 3*time.Second)
	})
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	_, err = io.WriteString(conn, "RD?\n")
	pool.ReturnWithError(conn, err)
*/
package comm

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

var (
	// ErrNotConnected is generated when a connection is used after it was closed
	ErrNotConnected = errors.New("conn is nil, not connected to remote")
)

// Deadliner is anything with read and write deadlines, e.g. a net.Conn
type Deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// DialBackoff opens a TCP connection to addr.  Refused connections are retried
// with an exponential backoff for up to three seconds, since some servers
// do not like being connection thrashed.  Any other error ends the retries.
func DialBackoff(addr string, timeout time.Duration) (net.Conn, error) {
	var conn net.Conn
	op := func() error {
		c, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "refused") {
				return err
			}
			return backoff.Permanent(err)
		}
		conn = c
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return conn, nil
}

// SetDeadline pushes the read and write deadlines of d timeout into the future.
// A timeout <= 0 clears them.
func SetDeadline(d Deadliner, timeout time.Duration) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	d.SetReadDeadline(deadline)
	d.SetWriteDeadline(deadline)
}
