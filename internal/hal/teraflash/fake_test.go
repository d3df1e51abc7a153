package teraflash

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeInstrument answers UDP commands from a reply table and serves queued
// frames on its TCP trace port.
type fakeInstrument struct {
	t       *testing.T
	cmd     net.PacketConn
	trace   net.Listener
	rxPort  int
	txPort  int
	mu      sync.Mutex
	replies map[string]string
	log     []string
	frames  [][]byte
	waitOn  int
	// spoof sends spoofReply ahead of every real reply.
	spoof      net.PacketConn
	spoofReply string
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func newFakeInstrument(t *testing.T) *fakeInstrument {
	t.Helper()

	cmd, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	trace, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeInstrument{
		t:      t,
		cmd:    cmd,
		trace:  trace,
		rxPort: freeUDPPort(t),
		txPort: freeUDPPort(t),
		replies: map[string]string{
			"RD-RUN":       "ON",
			"RD-LASER":     "ON",
			"RD-VOLT1":     "ON",
			"RD-VOLT2":     "ON",
			"RD-WAIT":      "ON",
			"RD-AUTO":      "OFF",
			"RD-TAC.TIME":  "2.5",
			"RD-AVERAGE":   "1000",
			"RD-AMPLITUDE": "12.3",
			"RD-BEGIN":     "1000.0",
			"RD-RANGE":     "100",
		},
	}
	t.Cleanup(func() {
		cmd.Close()
		trace.Close()
	})

	go f.serveUDP()
	go f.serveTCP()
	return f
}

func (f *fakeInstrument) client(opts ...Option) *Client {
	base := []Option{
		WithLocalAddr("127.0.0.1"),
		WithPorts(f.cmd.LocalAddr().(*net.UDPAddr).Port, f.rxPort, f.txPort, f.trace.Addr().(*net.TCPAddr).Port),
		WithTimeout(500 * time.Millisecond),
		WithProbeTimeout(200 * time.Millisecond),
		WithPollInterval(10 * time.Millisecond),
	}
	c := New(append(base, opts...)...)
	f.t.Cleanup(func() { c.Disconnect() })
	return c
}

func (f *fakeInstrument) setReply(cmd, reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[cmd] = reply
}

// silence makes the instrument ignore cmd.
func (f *fakeInstrument) silence(cmd string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[cmd] = ""
}

// waitAfter makes RD-WAIT answer OFF n times before ON.
func (f *fakeInstrument) waitAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitOn = n
}

// spoofFrom makes conn, bound to another host, answer every command with
// reply just before the instrument does.
func (f *fakeInstrument) spoofFrom(conn net.PacketConn, reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoof = conn
	f.spoofReply = reply
}

func (f *fakeInstrument) queueFrame(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
}

func (f *fakeInstrument) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeInstrument) reply(cmd string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, cmd)

	if cmd == "RD-WAIT" && f.waitOn > 0 {
		f.waitOn--
		return "OFF", true
	}
	if r, ok := f.replies[cmd]; ok {
		return r, r != ""
	}
	if strings.HasPrefix(cmd, "RC-") {
		return "OK", true
	}
	return "ERR unknown command", true
}

func (f *fakeInstrument) serveUDP() {
	buf := make([]byte, 1024)
	for {
		n, addr, err := f.cmd.ReadFrom(buf)
		if err != nil {
			return
		}
		reply, ok := f.reply(string(buf[:n]))
		if !ok {
			continue
		}
		dst := &net.UDPAddr{IP: addr.(*net.UDPAddr).IP, Port: f.rxPort}
		f.mu.Lock()
		spoof, spoofReply := f.spoof, f.spoofReply
		f.mu.Unlock()
		if spoof != nil {
			spoof.WriteTo([]byte(spoofReply+"\r\n"), dst)
		}
		f.cmd.WriteTo([]byte(reply+"\r\n"), dst)
	}
}

func (f *fakeInstrument) serveTCP() {
	for {
		conn, err := f.trace.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		var frame []byte
		if len(f.frames) > 0 {
			frame, f.frames = f.frames[0], f.frames[1:]
		}
		f.mu.Unlock()

		conn.Write(frame)
		conn.Close()
	}
}

func traceFrame(csvText string) []byte {
	return []byte(fmt.Sprintf("%06d%s", len(csvText), csvText))
}

const sampleCSV = "Time_abs/ps,Signal1/nA,Signal2/nA\r\n" +
	"0.0,0.10,1.10\r\n" +
	"0.1,0.20,1.20\r\n" +
	"0.2,0.30,1.30\r\n"
