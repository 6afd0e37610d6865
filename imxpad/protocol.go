package imxpad

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

/* the XPAD server speaks a line protocol.  Every line begins with a tag and a
space:

	"> "  prompt, the server is ready for a command (no line terminator follows)
	"! "  error message
	"# "  debug message
	"@ "  time-bar, "<done> <outof>" optionally followed by a quoted message
	"* "  return value, (null), "quoted string", nan, or a number

anything else is an unknown line and is skipped.  Commands are terminated by
a single line feed.
*/

const (
	cr = '\r'
	lf = '\n'

	maxLine = 1024

	quit = "quit\n"
)

var (
	// ErrNoReturnCode is generated when the server prompts for a new command
	// before it sent a return value for the last one
	ErrNoReturnCode = errors.New("imxpad: no return code from the server")

	// ErrUnexpectedReply is generated when the return value is not of the
	// kind the command produces, e.g. a string where an integer was expected
	ErrUnexpectedReply = errors.New("imxpad: unexpected return value type")
)

// ServerError is returned when the server reports a failure for a command.
// Msg is the last "!" line the server sent, if any.
type ServerError struct {
	Cmd string
	Msg string
}

func (e *ServerError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("imxpad: %s failed", e.Cmd)
	}
	return fmt.Sprintf("imxpad: %s failed [ %s ]", e.Cmd, e.Msg)
}

type lineKind int

const (
	linePrompt lineKind = iota
	lineError
	lineDebug
	lineTimebar
	lineUnknown
	lineNumber
	lineString
	lineNull
)

type line struct {
	kind lineKind

	// text is the message for error, debug, unknown, and time-bar lines,
	// the value for string lines and the raw digits for number lines
	text string

	// done and outOf are the progress of a time-bar line
	done, outOf int
}

// readUntil reads bytes until one of stops is found or EOF.  The stop byte
// is consumed but not returned.  At most limit bytes are kept.
func readUntil(r *bufio.Reader, limit int, stops ...byte) (string, byte, error) {
	var b strings.Builder
	for {
		c, err := r.ReadByte()
		if err != nil {
			return b.String(), 0, err
		}
		for _, s := range stops {
			if c == s {
				return b.String(), c, nil
			}
		}
		if b.Len() < limit {
			b.WriteByte(c)
		}
	}
}

// readLine reads the next message from the server.  We are assumed to be
// at the beginning of a line or just after the end of the previous one.
func readLine(r *bufio.Reader) (line, error) {
	var (
		c   byte
		err error
	)
	for {
		c, err = r.ReadByte()
		if err != nil {
			return line{}, err
		}
		if c != cr && c != lf {
			break
		}
	}

	switch c {
	case '>':
		r.ReadByte() // discard ' '
		return line{kind: linePrompt}, nil

	case '!', '#':
		r.ReadByte()
		text, _, err := readUntil(r, maxLine, cr, lf)
		if err != nil && err != io.EOF {
			return line{}, err
		}
		kind := lineError
		if c == '#' {
			kind = lineDebug
		}
		return line{kind: kind, text: text}, nil

	case '@':
		r.ReadByte()
		progress, stop, err := readUntil(r, maxLine, '\'', '"', cr, lf)
		if err != nil && err != io.EOF {
			return line{}, err
		}
		l := line{kind: lineTimebar}
		fmt.Sscanf(progress, "%d %d", &l.done, &l.outOf)
		if stop == '\'' || stop == '"' {
			msg, _, err := readUntil(r, maxLine, cr, lf)
			if err != nil && err != io.EOF {
				return line{}, err
			}
			l.text = strings.TrimRight(msg, "'\"")
		}
		return l, nil

	case '*':
		r.ReadByte()
		first, err := r.ReadByte()
		if err != nil {
			return line{}, err
		}
		switch first {
		case '(': // (null)
			_, _, err := readUntil(r, maxLine, ')', cr, lf)
			if err != nil && err != io.EOF {
				return line{}, err
			}
			return line{kind: lineNull}, nil
		case '"':
			text, _, err := readUntil(r, math.MaxInt32, '"')
			if err != nil {
				return line{}, err
			}
			return line{kind: lineString, text: text}, nil
		default:
			rest, _, err := readUntil(r, maxLine, cr, lf)
			if err != nil && err != io.EOF {
				return line{}, err
			}
			return line{kind: lineNumber, text: strings.TrimSpace(string(first) + rest)}, nil
		}

	default:
		rest, _, err := readUntil(r, maxLine, cr, lf)
		if err != nil && err != io.EOF {
			return line{}, err
		}
		return line{kind: lineUnknown, text: string(c) + rest}, nil
	}
}

// session is one connection to the server.  It is an io.ReadWriteCloser so
// it can live in a comm.Pool; Read goes through the line buffer.
type session struct {
	conn net.Conn
	r    *bufio.Reader
	log  zerolog.Logger

	// prompts counts prompts already consumed while waiting for a reply
	prompts int

	// lastErr is the last error message the server sent
	lastErr string

	// debug holds the debug messages sent during the last reply
	debug []string
}

func newSession(conn net.Conn, log zerolog.Logger) *session {
	return &session{conn: conn, r: bufio.NewReaderSize(conn, maxLine), log: log}
}

func (s *session) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *session) Write(p []byte) (int, error) {
	return s.conn.Write(p)
}

// Close tells the server we are leaving, then hangs up
func (s *session) Close() error {
	connected.Dec()
	io.WriteString(s.conn, quit)
	return s.conn.Close()
}

// handle records the side-channel lines; it returns false for lines that
// answer a command
func (s *session) handle(l line) bool {
	switch l.kind {
	case lineError:
		s.lastErr = l.text
		s.log.Warn().Str("msg", l.text).Msg("server error message")
	case lineDebug:
		s.debug = append(s.debug, l.text)
		s.log.Debug().Str("msg", l.text).Msg("server debug message")
	case lineUnknown:
		s.lastErr = "unknown string from server: " + l.text
		s.log.Debug().Str("line", l.text).Msg("unknown line from server")
	case lineTimebar:
		s.log.Debug().Int("done", l.done).Int("outof", l.outOf).Str("msg", l.text).Msg("progress")
	default:
		return false
	}
	return true
}

// waitForPrompt consumes lines up to and including the next prompt, unless
// a prompt was already seen while waiting for a reply
func (s *session) waitForPrompt() error {
	if s.prompts > 0 {
		s.prompts--
		return nil
	}
	for {
		l, err := readLine(s.r)
		if err != nil {
			return fmt.Errorf("imxpad: waiting for prompt: %w", err)
		}
		if l.kind == linePrompt {
			return nil
		}
		s.handle(l)
	}
}

// send waits for the prompt and writes one command
func (s *session) send(cmd string) error {
	if err := s.waitForPrompt(); err != nil {
		return err
	}
	s.log.Debug().Str("cmd", abbreviate(cmd)).Msg("send")
	s.lastErr = ""
	_, err := io.WriteString(s.conn, cmd+"\n")
	if err != nil {
		return fmt.Errorf("imxpad: sending %s: %w", abbreviate(cmd), err)
	}
	return nil
}

// waitForReply reads until the line answering the last command
func (s *session) waitForReply() (line, error) {
	s.debug = s.debug[:0]
	for {
		l, err := readLine(s.r)
		if err != nil {
			return line{}, fmt.Errorf("imxpad: server read error (disconnected?): %w", err)
		}
		if l.kind == linePrompt {
			s.prompts++
			return line{}, ErrNoReturnCode
		}
		if !s.handle(l) {
			return l, nil
		}
	}
}

func (s *session) fail(cmd string) error {
	return &ServerError{Cmd: commandName(cmd), Msg: s.lastErr}
}

func (s *session) sendWaitInt(cmd string) (int, error) {
	if err := s.send(cmd); err != nil {
		return 0, err
	}
	l, err := s.waitForReply()
	if err != nil {
		return 0, err
	}
	if l.kind != lineNumber {
		return 0, fmt.Errorf("%w: %s answered with a string", ErrUnexpectedReply, commandName(cmd))
	}
	v, err := strconv.Atoi(l.text)
	if err != nil {
		return 0, fmt.Errorf("%w: %s answered %q, not an integer", ErrUnexpectedReply, commandName(cmd), l.text)
	}
	if v < 0 {
		return v, s.fail(cmd)
	}
	return v, nil
}

func (s *session) sendWaitFloat(cmd string) (float64, error) {
	if err := s.send(cmd); err != nil {
		return 0, err
	}
	l, err := s.waitForReply()
	if err != nil {
		return 0, err
	}
	if l.kind != lineNumber {
		return 0, fmt.Errorf("%w: %s answered with a string", ErrUnexpectedReply, commandName(cmd))
	}
	v, err := strconv.ParseFloat(l.text, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s answered %q, not a number", ErrUnexpectedReply, commandName(cmd), l.text)
	}
	if math.IsNaN(v) {
		return v, s.fail(cmd)
	}
	return v, nil
}

func (s *session) sendWaitString(cmd string) (string, error) {
	if err := s.send(cmd); err != nil {
		return "", err
	}
	l, err := s.waitForReply()
	if err != nil {
		return "", err
	}
	switch l.kind {
	case lineNull:
		return "", s.fail(cmd)
	case lineString:
		if l.text == "" {
			return "", s.fail(cmd)
		}
		return l.text, nil
	default:
		return "", fmt.Errorf("%w: %s answered with a number", ErrUnexpectedReply, commandName(cmd))
	}
}

// sendWaitText sends cmd and returns its reply as text, whichever kind it is
func (s *session) sendWaitText(cmd string) (string, error) {
	if err := s.send(cmd); err != nil {
		return "", err
	}
	l, err := s.waitForReply()
	if err != nil {
		return "", err
	}
	if l.kind == lineNull {
		return "", s.fail(cmd)
	}
	return l.text, nil
}

// commandName is the first word of a command, e.g. "LoadConfigG 62 30" => "LoadConfigG"
func commandName(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if i := strings.IndexAny(cmd, " \n"); i >= 0 {
		return cmd[:i]
	}
	return cmd
}

// abbreviate keeps file uploads out of the logs
func abbreviate(cmd string) string {
	const n = 64
	if len(cmd) > n {
		return cmd[:n] + "..."
	}
	return cmd
}
