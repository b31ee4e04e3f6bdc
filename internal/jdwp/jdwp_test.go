package jdwp

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

// fakeVM simulates just enough of a JDWP server to exercise the handshake,
// id-size negotiation, and one round-trip request over an in-memory pipe.
func fakeVM(t *testing.T, conn net.Conn) {
	t.Helper()

	buf := make([]byte, len(handshake))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Errorf("fakeVM: read handshake: %v", err)
		return
	}
	if _, err := conn.Write([]byte(handshake)); err != nil {
		t.Errorf("fakeVM: write handshake: %v", err)
		return
	}

	for {
		hdr := make([]byte, packetHeaderSize)
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return
		}
		length := binary.BigEndian.Uint32(hdr[0:4])
		id := binary.BigEndian.Uint32(hdr[4:8])
		cmdSet := hdr[9]
		cmd := hdr[10]
		dataLen := int(length) - packetHeaderSize
		if dataLen > 0 {
			payload := make([]byte, dataLen)
			io.ReadFull(conn, payload)
		}

		switch {
		case cmdSet == csVirtualMachine && cmd == cmdVMIDSizes:
			d := newEncoder(defaultIDSizes)
			d.i32(8)
			d.i32(8)
			d.i32(8)
			d.i32(8)
			d.i32(8)
			writeReply(conn, id, ErrNone, d.bytes())
		case cmdSet == csVirtualMachine && cmd == cmdVMResume:
			writeReply(conn, id, ErrNone, nil)
		case cmdSet == csVirtualMachine && cmd == cmdVMCreateString:
			d := newEncoder(defaultIDSizes)
			d.objectID(4242)
			writeReply(conn, id, ErrNone, d.bytes())
		default:
			writeReply(conn, id, ErrNotFound, nil)
		}
	}
}

func writeReply(conn net.Conn, id uint32, code ErrorCode, data []byte) {
	length := uint32(packetHeaderSize + len(data))
	hdr := make([]byte, packetHeaderSize)
	binary.BigEndian.PutUint32(hdr[0:4], length)
	binary.BigEndian.PutUint32(hdr[4:8], id)
	hdr[8] = flagReply
	binary.BigEndian.PutUint16(hdr[9:11], uint16(code))
	conn.Write(hdr)
	if len(data) > 0 {
		conn.Write(data)
	}
}

func dialFake(t *testing.T) *Client {
	t.Helper()
	client, server := net.Pipe()
	go fakeVM(t, server)

	tr := &Transport{
		conn:   client,
		reader: bufio.NewReader(client),
		writer: bufio.NewWriter(client),
		seq:    1,
	}
	if err := tr.doHandshake(); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport: tr,
		size:      defaultIDSizes,
		pending:   make(map[uint32]chan reply),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.wg.Add(1)
	go c.readLoop()

	if err := c.negotiateIDSizes(2 * time.Second); err != nil {
		t.Fatalf("negotiateIDSizes: %v", err)
	}
	return c
}

func TestAttachNegotiatesIDSizes(t *testing.T) {
	c := dialFake(t)
	defer c.Close()

	if c.size.objectIDSize != 8 {
		t.Errorf("expected negotiated objectIDSize 8, got %d", c.size.objectIDSize)
	}
}

func TestResumeRoundTrip(t *testing.T) {
	c := dialFake(t)
	defer c.Close()

	if _, err := c.request(csVirtualMachine, cmdVMResume, nil, 2*time.Second); err != nil {
		t.Fatalf("resume request failed: %v", err)
	}
}

func TestCreateStringRoundTrip(t *testing.T) {
	c := dialFake(t)
	defer c.Close()

	vm := &VM{client: c}
	obj, err := vm.CreateString("hello")
	if err != nil {
		t.Fatalf("CreateString: %v", err)
	}
	if obj != 4242 {
		t.Errorf("expected objectID 4242, got %d", obj)
	}
}

func TestUnknownCommandReturnsWireError(t *testing.T) {
	c := dialFake(t)
	defer c.Close()

	_, err := c.request(csVirtualMachine, 250, nil, 2*time.Second)
	if err == nil {
		t.Fatal("expected an error for an unrecognized command")
	}
	we, ok := err.(*WireError)
	if !ok {
		t.Fatalf("expected *WireError, got %T", err)
	}
	if we.Code != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %d", we.Code)
	}
}

func TestHandleCompositeBreakpointEvent(t *testing.T) {
	c := &Client{size: defaultIDSizes}
	var got EventSet
	c.eventHandler = func(es EventSet) { got = es }

	e := newEncoder(defaultIDSizes)
	e.u8(byte(SuspendAll))
	e.i32(1)
	e.u8(byte(EventBreakpoint))
	e.u32(42)
	e.threadID(ThreadID(7))
	e.location(Location{TypeTag: 1, Class: ReferenceTypeID(3), Method: MethodID(9), CodeIdx: 5})

	c.handleComposite(e.bytes())

	if len(got.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got.Events))
	}
	ev := got.Events[0]
	if ev.Kind != EventBreakpoint || ev.RequestID != 42 || ev.Thread != 7 {
		t.Errorf("unexpected decoded event: %+v", ev)
	}
	if ev.Loc.Class != 3 || ev.Loc.CodeIdx != 5 {
		t.Errorf("unexpected decoded location: %+v", ev.Loc)
	}
}
