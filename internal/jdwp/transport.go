package jdwp

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// handshake is the fixed ASCII string exchanged, un-framed, before either
// side sends a single JDWP packet.
const handshake = "JDWP-Handshake"

// packetHeaderSize is length(4) + id(4) + flags(1) + (cmdSet(1) + cmd(1) for
// a command packet, or errorCode(2) for a reply). We always read all 11
// header bytes, then branch on the flags byte to decode the last 2 bytes.
const packetHeaderSize = 11

const flagReply = 0x80

// packet is a raw, framed JDWP packet before or after command-specific
// decoding of its data payload.
type packet struct {
	id      uint32
	flags   byte
	cmdSet  byte
	cmd     byte
	errCode ErrorCode
	data    []byte
}

func (p *packet) isReply() bool { return p.flags&flagReply != 0 }

// Transport owns the JDWP socket: the handshake, packet framing, and raw
// send/receive. It knows nothing about request/response correlation or
// event semantics; Client layers those on top, mirroring the split between
// a DAP transport and a DAP client.
type Transport struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	mu  sync.Mutex
	seq uint32
}

// Dial opens a TCP connection to addr and performs the JDWP handshake.
func Dial(addr string) (*Transport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	t := &Transport{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		seq:    1,
	}

	if err := t.doHandshake(); err != nil {
		conn.Close()
		return nil, err
	}

	return t, nil
}

func (t *Transport) doHandshake() error {
	if _, err := t.writer.WriteString(handshake); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("flush handshake: %w", err)
	}

	buf := make([]byte, len(handshake))
	if _, err := io.ReadFull(t.reader, buf); err != nil {
		return fmt.Errorf("read handshake reply: %w", err)
	}
	if string(buf) != handshake {
		return fmt.Errorf("unexpected handshake reply %q", buf)
	}
	return nil
}

// NextID returns the next outgoing packet id.
func (t *Transport) NextID() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.seq
	t.seq++
	return id
}

// SendCommand writes a command packet with the given id, command set,
// command, and pre-encoded data payload.
func (t *Transport) SendCommand(id uint32, cmdSet, cmd byte, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	length := uint32(packetHeaderSize + len(data))
	hdr := make([]byte, packetHeaderSize)
	binary.BigEndian.PutUint32(hdr[0:4], length)
	binary.BigEndian.PutUint32(hdr[4:8], id)
	hdr[8] = 0 // flags: command packet
	hdr[9] = cmdSet
	hdr[10] = cmd

	if _, err := t.writer.Write(hdr); err != nil {
		return fmt.Errorf("write jdwp header: %w", err)
	}
	if len(data) > 0 {
		if _, err := t.writer.Write(data); err != nil {
			return fmt.Errorf("write jdwp payload: %w", err)
		}
	}
	return t.writer.Flush()
}

// Receive blocks for the next full packet (command or reply) on the wire.
func (t *Transport) Receive() (*packet, error) {
	hdr := make([]byte, packetHeaderSize)
	if _, err := io.ReadFull(t.reader, hdr); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(hdr[0:4])
	id := binary.BigEndian.Uint32(hdr[4:8])
	flags := hdr[8]

	p := &packet{id: id, flags: flags}

	if length < packetHeaderSize {
		return nil, fmt.Errorf("jdwp packet too short: %d", length)
	}
	dataLen := int(length) - packetHeaderSize

	if p.isReply() {
		p.errCode = ErrorCode(binary.BigEndian.Uint16(hdr[9:11]))
	} else {
		p.cmdSet = hdr[9]
		p.cmd = hdr[10]
	}

	if dataLen > 0 {
		p.data = make([]byte, dataLen)
		if _, err := io.ReadFull(t.reader, p.data); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Close closes the underlying socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}
