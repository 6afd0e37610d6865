package imxpad

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeXPAD is a scripted XPAD server.  Commands found in replies are
// answered with the scripted text, the file transfer handshakes are
// emulated, and everything else is answered "* 0".
type fakeXPAD struct {
	ln net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	replies  map[string]string
	received []string
	conns    []net.Conn
	local    []byte
	uploaded []byte
	quits    int
}

func newFakeXPAD(t *testing.T) *fakeXPAD {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeXPAD{ln: ln, replies: map[string]string{}}
	f.wg.Add(1)
	go f.accept()
	t.Cleanup(func() {
		ln.Close()
		f.mu.Lock()
		for _, c := range f.conns {
			c.Close()
		}
		f.mu.Unlock()
		f.wg.Wait()
	})
	return f
}

func (f *fakeXPAD) addr() string {
	return f.ln.Addr().String()
}

// client returns a Client connected to f, closed when the test ends
func (f *fakeXPAD) client(t *testing.T) *Client {
	c := NewClient(f.addr(), 2*time.Second, 0)
	t.Cleanup(func() { c.Close() })
	return c
}

func (f *fakeXPAD) script(cmd, reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[cmd] = reply
}

func (f *fakeXPAD) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func (f *fakeXPAD) accept() {
	defer f.wg.Done()
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		f.wg.Add(1)
		go f.serve(conn)
	}
}

func (f *fakeXPAD) serve(conn net.Conn) {
	defer f.wg.Done()
	defer conn.Close()
	r := bufio.NewReader(conn)
	var (
		state string
		size  int
	)
	io.WriteString(conn, "> ")
	for {
		if state == "data" {
			buf := make([]byte, size+1)
			if _, err := io.ReadFull(r, buf); err != nil {
				return
			}
			f.mu.Lock()
			f.uploaded = buf[:size]
			f.received = append(f.received, "<data>")
			f.mu.Unlock()
			state = "answer"
			io.WriteString(conn, "* \"SERVER: data received\"\n> ")
			continue
		}

		cmd, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd = strings.TrimSuffix(cmd, "\n")
		f.mu.Lock()
		if cmd == "quit" {
			f.quits++
			f.mu.Unlock()
			return
		}
		f.received = append(f.received, cmd)
		reply, scripted := f.replies[cmd]
		local := f.local
		f.mu.Unlock()

		switch {
		case scripted:
		case cmd == "LoadConfigGFromFile" || cmd == "LoadConfigLFromFile":
			state = "size"
			reply = "* \"SERVER: Ready to receive data\"\n"
		case state == "size":
			size, _ = strconv.Atoi(cmd)
			state = "ok"
			reply = fmt.Sprintf("* %d\n", size)
		case state == "ok" && cmd == "OK":
			state = "data"
			reply = "* \"SERVER: OK\"\n"
		case state == "answer" && cmd == "Waiting for answer":
			state = ""
			reply = "* 0\n"
		case cmd == "ReadConfigL":
			state = "dl"
			reply = "* \"SERVER: Ready to send data\"\n"
		case state == "dl" && cmd == clientReady:
			reply = fmt.Sprintf("* %d\n", len(local))
		case state == "dl" && cmd == strconv.Itoa(len(local)):
			reply = "* 0\n"
		case state == "dl" && cmd == "OK":
			state = ""
			reply = string(local)
		case strings.HasPrefix(cmd, "LoadConfigG "):
			reply = "* \"SERVER: OK\"\n"
		case strings.HasPrefix(cmd, "ReadConfigG"):
			reply = "* \"30 31 32 33 34 35 36\"\n"
		case cmd == "Exit":
			reply = ""
		default:
			reply = "* 0\n"
		}
		if _, err := io.WriteString(conn, reply+"> "); err != nil {
			return
		}
	}
}
