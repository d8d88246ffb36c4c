package server

import (
	"bytes"
	"context"
	"go_tftp/fileio"
	"go_tftp/networking"
	"go_tftp/networking/opcode"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/pierrec/lz4/v4"
)

const testTimeout = 150 * time.Millisecond

type testServer struct {
	root string
	addr *net.UDPAddr
}

func startServer(c *qt.C, opts Options) *testServer {
	if opts.Root == "" {
		opts.Root = c.TempDir()
	}
	opts.Timeout = testTimeout
	opts.Logger = log.New(io.Discard, "", 0)

	srv := NewServer(opts)
	c.Assert(srv.Listen("127.0.0.1:0"), qt.IsNil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		srv.Serve(ctx)
	}()
	c.Cleanup(func() {
		cancel()
		<-stopped
	})

	return &testServer{root: opts.Root, addr: srv.Addr()}
}

func (s *testServer) write(c *qt.C, name string, data []byte) {
	c.Assert(os.WriteFile(filepath.Join(s.root, name), data, 0644), qt.IsNil)
}

// fakeClient plays the client side of a transfer by hand
type fakeClient struct {
	c    *qt.C
	ep   *networking.Endpoint
	peer *net.UDPAddr
}

func newFakeClient(c *qt.C) *fakeClient {
	ep, err := networking.Listen("127.0.0.1:0", 0)
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { ep.Close() })
	return &fakeClient{c: c, ep: ep}
}

func (f *fakeClient) request(to *net.UDPAddr, op uint16, filename, mode string) {
	message, err := networking.EncodeRequest(op, filename, mode)
	f.c.Assert(err, qt.IsNil)
	f.c.Assert(f.ep.Send(message, to), qt.IsNil)
}

func (f *fakeClient) receive() (networking.Packet, *net.UDPAddr) {
	message, from, err := f.ep.Receive(context.Background(), time.Now().Add(2*time.Second))
	f.c.Assert(err, qt.IsNil)
	packet, err := networking.DecodePacket(message)
	f.c.Assert(err, qt.IsNil)
	return packet, from
}

func (f *fakeClient) expectData(block uint16, size int) *networking.Data {
	packet, from := f.receive()
	data, ok := packet.(*networking.Data)
	f.c.Assert(ok, qt.IsTrue, qt.Commentf("got %#v", packet))
	f.c.Assert(data.Block, qt.Equals, block)
	f.c.Assert(data.Payload, qt.HasLen, size)
	f.peer = from
	return data
}

func (f *fakeClient) expectError(code networking.ErrorCode) *networking.ErrorPacket {
	packet, _ := f.receive()
	e, ok := packet.(*networking.ErrorPacket)
	f.c.Assert(ok, qt.IsTrue, qt.Commentf("got %#v", packet))
	f.c.Assert(e.Code, qt.Equals, code)
	return e
}

func (f *fakeClient) ack(block uint16) {
	f.c.Assert(f.ep.Send(networking.EncodeAck(block), f.peer), qt.IsNil)
}

func (f *fakeClient) expectSilence() {
	_, _, err := f.ep.Receive(context.Background(), time.Now().Add(3*testTimeout))
	f.c.Assert(err, qt.ErrorIs, networking.ErrTimeout)
}

func TestServeShortLastBlock(t *testing.T) {
	c := qt.New(t)
	s := startServer(c, Options{})
	content := bytes.Repeat([]byte("x"), 1000)
	s.write(c, "a.txt", content)

	f := newFakeClient(c)
	f.request(s.addr, opcode.RRQ, "a.txt", "octet")

	first := f.expectData(1, 512)
	c.Assert(f.peer.Port, qt.Not(qt.Equals), s.addr.Port)
	f.ack(1)
	second := f.expectData(2, 488)
	f.ack(2)

	c.Assert(append(first.Payload, second.Payload...), qt.DeepEquals, content)
	f.expectSilence()
}

func TestServeBlockMultipleEndsWithEmptyBlock(t *testing.T) {
	c := qt.New(t)
	s := startServer(c, Options{})
	s.write(c, "k.bin", make([]byte, 1024))

	f := newFakeClient(c)
	f.request(s.addr, opcode.RRQ, "k.bin", "octet")

	f.expectData(1, 512)
	f.ack(1)
	f.expectData(2, 512)
	f.ack(2)
	f.expectData(3, 0)
	f.ack(3)
	f.expectSilence()
}

func TestServeModeIsCaseInsensitive(t *testing.T) {
	c := qt.New(t)
	s := startServer(c, Options{})
	s.write(c, "m.txt", []byte("mode"))

	f := newFakeClient(c)
	f.request(s.addr, opcode.RRQ, "m.txt", "OCTET")

	data := f.expectData(1, 4)
	c.Assert(string(data.Payload), qt.Equals, "mode")
	f.ack(1)
}

func TestServeMissingFile(t *testing.T) {
	c := qt.New(t)
	s := startServer(c, Options{})

	f := newFakeClient(c)
	f.request(s.addr, opcode.RRQ, "missing.txt", "octet")

	e := f.expectError(networking.ErrFileNotFound)
	c.Assert(e.Message, qt.Equals, networking.MsgFileNotFound)
}

func TestServeUnreadableFile(t *testing.T) {
	c := qt.New(t)
	if os.Geteuid() == 0 {
		c.Skip("permissions are not enforced for root")
	}
	s := startServer(c, Options{})
	s.write(c, "secret", []byte("hidden"))
	c.Assert(os.Chmod(filepath.Join(s.root, "secret"), 0), qt.IsNil)

	f := newFakeClient(c)
	f.request(s.addr, opcode.RRQ, "secret", "octet")

	e := f.expectError(networking.ErrAccessViolation)
	c.Assert(e.Message, qt.Equals, networking.MsgNoReadPermission)
}

func TestServeRejectsTraversal(t *testing.T) {
	c := qt.New(t)
	s := startServer(c, Options{})

	f := newFakeClient(c)
	f.request(s.addr, opcode.RRQ, "../etc/passwd", "octet")
	f.expectError(networking.ErrAccessViolation)
}

func TestServeRejectsNetascii(t *testing.T) {
	c := qt.New(t)
	s := startServer(c, Options{})
	s.write(c, "n.txt", []byte("text"))

	f := newFakeClient(c)
	f.request(s.addr, opcode.RRQ, "n.txt", "netascii")

	e := f.expectError(networking.ErrNotDefined)
	c.Assert(e.Message, qt.Equals, networking.MsgOctetOnly)
}

func TestServeResendsOnceOnLostAck(t *testing.T) {
	c := qt.New(t)
	s := startServer(c, Options{})
	s.write(c, "l.bin", make([]byte, 600))

	f := newFakeClient(c)
	f.request(s.addr, opcode.RRQ, "l.bin", "octet")

	f.expectData(1, 512)
	// No ack. The block comes again exactly once, then the server gives up.
	f.expectData(1, 512)
	f.expectSilence()
}

func TestServeStaleAckRepeatsBlock(t *testing.T) {
	c := qt.New(t)
	s := startServer(c, Options{})
	s.write(c, "s.bin", make([]byte, 700))

	f := newFakeClient(c)
	f.request(s.addr, opcode.RRQ, "s.bin", "octet")

	f.expectData(1, 512)
	f.ack(1)
	f.expectData(2, 188)
	f.ack(1)
	f.expectData(2, 188)
	f.ack(2)
	f.expectSilence()
}

func TestServeRejectsStrangerOnTransferPort(t *testing.T) {
	c := qt.New(t)
	s := startServer(c, Options{})
	s.write(c, "t.bin", make([]byte, 100))

	f := newFakeClient(c)
	f.request(s.addr, opcode.RRQ, "t.bin", "octet")
	f.expectData(1, 100)

	stranger := newFakeClient(c)
	stranger.peer = f.peer
	stranger.ack(1)
	stranger.expectError(networking.ErrUnknownTID)

	f.ack(1)
}

func TestServeWriteRequests(t *testing.T) {
	c := qt.New(t)
	s := startServer(c, Options{})
	s.write(c, "exists.txt", []byte("here"))

	f := newFakeClient(c)

	f.request(s.addr, opcode.WRQ, "exists.txt", "octet")
	e := f.expectError(networking.ErrFileExists)
	c.Assert(e.Message, qt.Equals, networking.MsgFileExists)

	f.request(s.addr, opcode.WRQ, "new.txt", "octet")
	e = f.expectError(networking.ErrAccessViolation)
	c.Assert(e.Message, qt.Equals, networking.MsgNoUpload)

	_, err := os.Stat(filepath.Join(s.root, "new.txt"))
	c.Assert(os.IsNotExist(err), qt.IsTrue)
}

func TestServeTransferPacketsOnRequestPort(t *testing.T) {
	c := qt.New(t)
	s := startServer(c, Options{})

	f := newFakeClient(c)
	f.peer = s.addr
	f.ack(1)
	f.expectError(networking.ErrUnknownTID)

	message, err := networking.EncodeData(1, []byte("x"))
	c.Assert(err, qt.IsNil)
	c.Assert(f.ep.Send(message, s.addr), qt.IsNil)
	f.expectError(networking.ErrUnknownTID)

	// Garbage and errors are dropped silently.
	c.Assert(f.ep.Send([]byte{0, 9}, s.addr), qt.IsNil)
	c.Assert(f.ep.Send(networking.EncodeError(networking.ErrNotDefined, "bye"), s.addr), qt.IsNil)
	f.expectSilence()
}

func TestServeLZ4Fallback(t *testing.T) {
	c := qt.New(t)
	s := startServer(c, Options{Factory: &fileio.BufferedFactory{LZ4: true}})
	content := bytes.Repeat([]byte("boot "), 200)

	var compressed bytes.Buffer
	zw := lz4.NewWriter(&compressed)
	_, err := zw.Write(content)
	c.Assert(err, qt.IsNil)
	c.Assert(zw.Close(), qt.IsNil)
	s.write(c, "kernel.lz4", compressed.Bytes())

	f := newFakeClient(c)
	f.request(s.addr, opcode.RRQ, "kernel", "octet")

	var got []byte
	for block := uint16(1); ; block++ {
		size := len(content) - len(got)
		if size > 512 {
			size = 512
		}
		data := f.expectData(block, size)
		got = append(got, data.Payload...)
		f.ack(block)
		if data.IsFinal() {
			break
		}
	}
	c.Assert(got, qt.DeepEquals, content)
}

func TestServeConcurrentTransfers(t *testing.T) {
	c := qt.New(t)
	s := startServer(c, Options{})
	s.write(c, "one", []byte("first"))
	s.write(c, "two", []byte("second"))

	a, b := newFakeClient(c), newFakeClient(c)
	a.request(s.addr, opcode.RRQ, "one", "octet")
	b.request(s.addr, opcode.RRQ, "two", "octet")

	da := a.expectData(1, 5)
	db := b.expectData(1, 6)
	c.Assert(a.peer.Port, qt.Not(qt.Equals), b.peer.Port)
	c.Assert(string(da.Payload), qt.Equals, "first")
	c.Assert(string(db.Payload), qt.Equals, "second")
	a.ack(1)
	b.ack(1)
}

func TestListenRejectsBadRoot(t *testing.T) {
	c := qt.New(t)
	file := filepath.Join(c.TempDir(), "plain")
	c.Assert(os.WriteFile(file, nil, 0644), qt.IsNil)

	srv := NewServer(Options{Root: file, Logger: log.New(io.Discard, "", 0)})
	c.Assert(srv.Listen("127.0.0.1:0"), qt.ErrorMatches, "invalid root folder .*")

	srv = NewServer(Options{Root: filepath.Join(file, "nope"), Logger: log.New(io.Discard, "", 0)})
	c.Assert(srv.Listen("127.0.0.1:0"), qt.Not(qt.IsNil))
	c.Assert(srv.Addr(), qt.IsNil)
}
