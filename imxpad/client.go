package imxpad

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.jpl.nasa.gov/bdube/xpad/comm"
	"github.jpl.nasa.gov/bdube/xpad/logging"
)

// Client talks to an XPAD server.  It holds at most one session, and only
// one command or handshake is in flight at a time.
type Client struct {
	// Addr is the host:port of the server
	Addr string

	// Timeout bounds each command and each step of a handshake
	Timeout time.Duration

	pool *comm.Pool
	mu   sync.Mutex
	log  zerolog.Logger
}

// NewClient returns a Client for the server at addr.  The connection is made
// on first use with DialBackoff.  The session is hung up after idleTimeout
// without commands; idleTimeout <= 0 keeps it open until Close.
func NewClient(addr string, timeout, idleTimeout time.Duration) *Client {
	c := &Client{
		Addr:    addr,
		Timeout: timeout,
		log:     logging.WithComponent("imxpad").With().Str("addr", addr).Logger(),
	}
	maker := func() (io.ReadWriteCloser, error) {
		conn, err := comm.DialBackoff(addr, timeout)
		if err != nil {
			return nil, err
		}
		c.log.Info().Msg("connected to XPAD server")
		connected.Inc()
		return newSession(conn, c.log), nil
	}
	c.pool = comm.NewPool(1, idleTimeout, maker)
	return c
}

// Close hangs up the session, if there is one
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.Close()
}

// Tx is a session lent to a handshake.  It is only valid inside the
// function given to Client.Do.
type Tx struct {
	s       *session
	timeout time.Duration
}

// poisons reports if err leaves the session in an unknown state.  Refusals
// and type mismatches are read to completion and leave it usable.
func poisons(err error) bool {
	if err == nil {
		return false
	}
	var se *ServerError
	return !(errors.As(err, &se) || errors.Is(err, ErrNoReturnCode) || errors.Is(err, ErrUnexpectedReply))
}

// Do runs fn with exclusive use of the session.  timeout overrides
// c.Timeout for each step when positive, for long running commands such
// as calibrations.
func (c *Client) Do(timeout time.Duration, fn func(tx *Tx) error) error {
	if timeout <= 0 {
		timeout = c.Timeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rwc, err := c.pool.Get()
	if err != nil {
		return err
	}
	s, ok := rwc.(*session)
	if !ok {
		c.pool.Destroy(rwc)
		return comm.ErrNotConnected
	}
	err = fn(&Tx{s: s, timeout: timeout})
	if poisons(err) {
		c.log.Error().Err(err).Msg("dropping XPAD session")
		c.pool.Destroy(rwc)
		return err
	}
	c.pool.Put(rwc)
	return err
}

func (t *Tx) arm() {
	comm.SetDeadline(t.s.conn, t.timeout)
}

// SendWaitInt sends cmd and returns the integer reply.  Negative replies
// are a *ServerError.
func (t *Tx) SendWaitInt(cmd string) (int, error) {
	t.arm()
	return t.s.sendWaitInt(cmd)
}

// SendWaitFloat sends cmd and returns the numeric reply.  NaN is a *ServerError.
func (t *Tx) SendWaitFloat(cmd string) (float64, error) {
	t.arm()
	return t.s.sendWaitFloat(cmd)
}

// SendWaitString sends cmd and returns the string reply.  (null) and empty
// strings are a *ServerError.
func (t *Tx) SendWaitString(cmd string) (string, error) {
	t.arm()
	return t.s.sendWaitString(cmd)
}

// SendWaitText sends cmd and returns the reply as text
func (t *Tx) SendWaitText(cmd string) (string, error) {
	t.arm()
	return t.s.sendWaitText(cmd)
}

// SendNoWait sends cmd and does not wait for a reply
func (t *Tx) SendNoWait(cmd string) error {
	t.arm()
	return t.s.send(cmd)
}

// ReadRaw reads exactly n bytes sent outside the line protocol
func (t *Tx) ReadRaw(n int) ([]byte, error) {
	t.arm()
	buf := make([]byte, n)
	_, err := io.ReadFull(t.s.r, buf)
	if err != nil {
		return nil, fmt.Errorf("imxpad: reading %d raw bytes: %w", n, err)
	}
	return buf, nil
}

// SendWaitInt is a single command round trip with an integer reply
func (c *Client) SendWaitInt(cmd string) (int, error) {
	var (
		ret int
		err error
	)
	start := time.Now()
	err = c.Do(0, func(tx *Tx) error {
		ret, err = tx.SendWaitInt(cmd)
		return err
	})
	observe(commandName(cmd), start, err)
	return ret, err
}

// SendWaitFloat is a single command round trip with a numeric reply
func (c *Client) SendWaitFloat(cmd string) (float64, error) {
	var (
		ret float64
		err error
	)
	start := time.Now()
	err = c.Do(0, func(tx *Tx) error {
		ret, err = tx.SendWaitFloat(cmd)
		return err
	})
	observe(commandName(cmd), start, err)
	return ret, err
}

// SendWaitString is a single command round trip with a string reply
func (c *Client) SendWaitString(cmd string) (string, error) {
	var (
		ret string
		err error
	)
	start := time.Now()
	err = c.Do(0, func(tx *Tx) error {
		ret, err = tx.SendWaitString(cmd)
		return err
	})
	observe(commandName(cmd), start, err)
	return ret, err
}

// SendNoWait sends a command that has no reply
func (c *Client) SendNoWait(cmd string) error {
	start := time.Now()
	err := c.Do(0, func(tx *Tx) error {
		return tx.SendNoWait(cmd)
	})
	observe(commandName(cmd), start, err)
	return err
}

// sendCheck sends a command whose integer reply is 0 on success
func (c *Client) sendCheck(timeout time.Duration, cmd string) error {
	start := time.Now()
	err := c.Do(timeout, func(tx *Tx) error {
		ret, err := tx.SendWaitInt(cmd)
		if err != nil {
			return err
		}
		if ret != 0 {
			return &ServerError{Cmd: commandName(cmd), Msg: "return code " + strconv.Itoa(ret)}
		}
		return nil
	})
	observe(commandName(cmd), start, err)
	return err
}

// Raw sends an arbitrary command and returns the reply as text.  Numbers are
// returned in the server's formatting.
func (c *Client) Raw(cmd string) (string, error) {
	var (
		ret string
		err error
	)
	start := time.Now()
	err = c.Do(0, func(tx *Tx) error {
		ret, err = tx.SendWaitText(cmd)
		return err
	})
	observe(commandName(cmd), start, err)
	return ret, err
}
