package jdwp

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Event is one entry inside a JDWP composite event set.
type Event struct {
	Kind      EventKind
	RequestID uint32

	Thread ThreadID // BreakpointEvent, SingleStep, Exception, ClassPrepare, MethodEntry/Exit
	Loc    Location // BreakpointEvent, SingleStep, Exception (throw site), MethodEntry/Exit

	// ExceptionEvent-only.
	Exception     ObjectID
	CatchLoc      Location
	CatchLocValid bool

	// ClassPrepareEvent-only.
	RefTypeTag byte
	RefType    ReferenceTypeID
	Signature  string
	Status     uint32
}

// EventSet is one composite JDWP event notification.
type EventSet struct {
	SuspendPolicy SuspendPolicy
	Events        []Event
}

// reply is what a pending request is waiting for: either a decoded payload
// or a non-zero JDWP error code.
type reply struct {
	errCode ErrorCode
	data    []byte
}

// Client layers request/response correlation and event-set dispatch on top
// of Transport, exactly the split the DAP client this design is grounded on
// uses between its Transport and Client types.
type Client struct {
	transport *Transport
	size      idSizes

	mu      sync.Mutex
	pending map[uint32]chan reply

	eventHandler func(EventSet)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Attach dials addr, performs the handshake, negotiates id sizes, and
// starts the background read loop. The returned Client is ready to issue
// commands and will invoke SetEventHandler's callback for every composite
// event set the target sends.
func Attach(addr string, timeout time.Duration) (*Client, error) {
	t, err := Dial(addr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport: t,
		size:      defaultIDSizes,
		pending:   make(map[uint32]chan reply),
		ctx:       ctx,
		cancel:    cancel,
	}

	c.wg.Add(1)
	go c.readLoop()

	if err := c.negotiateIDSizes(timeout); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

func (c *Client) negotiateIDSizes(timeout time.Duration) error {
	d, err := c.request(csVirtualMachine, cmdVMIDSizes, nil, timeout)
	if err != nil {
		return fmt.Errorf("negotiate id sizes: %w", err)
	}
	c.size = idSizes{
		fieldIDSize:         int(d.i32()),
		methodIDSize:        int(d.i32()),
		objectIDSize:        int(d.i32()),
		referenceTypeIDSize: int(d.i32()),
		frameIDSize:         int(d.i32()),
	}
	return nil
}

// SetEventHandler installs the callback invoked for every incoming
// composite event set. It must not block for long: the read loop calls it
// synchronously so that event ordering is preserved.
func (c *Client) SetEventHandler(h func(EventSet)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventHandler = h
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		p, err := c.transport.Receive()
		if err != nil {
			c.deliverDisconnect()
			return
		}

		if p.isReply() {
			c.mu.Lock()
			ch, ok := c.pending[p.id]
			if ok {
				delete(c.pending, p.id)
			}
			c.mu.Unlock()
			if ok {
				ch <- reply{errCode: p.errCode, data: p.data}
			}
			continue
		}

		if p.cmdSet == csEvent && p.cmd == cmdEventComposite {
			c.handleComposite(p.data)
			continue
		}
		// Unrecognized incoming command packet; JDWP clients never receive
		// these in practice since only Event.Composite flows server->client.
	}
}

func (c *Client) deliverDisconnect() {
	c.mu.Lock()
	h := c.eventHandler
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if h != nil {
		h(EventSet{
			SuspendPolicy: SuspendNone,
			Events:        []Event{{Kind: EventVMDisconnected}},
		})
	}
}

func (c *Client) handleComposite(data []byte) {
	d := newDecoder(data, c.size)
	set := EventSet{SuspendPolicy: SuspendPolicy(d.u8())}
	n := int(d.i32())
	for i := 0; i < n; i++ {
		kind := EventKind(d.u8())
		reqID := d.u32()
		ev := Event{Kind: kind, RequestID: reqID}

		switch kind {
		case EventBreakpoint, EventSingleStep, EventMethodEntry, EventMethodExit:
			ev.Thread = d.threadID()
			ev.Loc = d.location()
		case EventException:
			ev.Thread = d.threadID()
			ev.Loc = d.location()
			ev.Exception = d.taggedValue().Obj
			hasCatch := d.u8()
			if hasCatch != 0 {
				ev.CatchLoc = d.location()
				ev.CatchLocValid = true
			}
		case EventClassPrepare:
			ev.Thread = d.threadID()
			ev.RefTypeTag = d.u8()
			ev.RefType = d.referenceTypeID()
			ev.Signature = d.str()
			ev.Status = d.u32()
		case EventThreadStart, EventThreadDeath:
			ev.Thread = d.threadID()
		case EventVMStart:
			ev.Thread = d.threadID()
		case EventVMDeath:
			// no payload
		default:
			// Unhandled event kind: nothing more to decode safely.
		}

		set.Events = append(set.Events, ev)
	}

	c.mu.Lock()
	h := c.eventHandler
	c.mu.Unlock()
	if h != nil {
		h(set)
	}
}

// request sends a command and blocks for its reply, decoding it on success
// or translating a non-zero JDWP error code into a Go error.
func (c *Client) request(cmdSet, cmd byte, payload []byte, timeout time.Duration) (*decoder, error) {
	id := c.transport.NextID()
	ch := make(chan reply, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.transport.SendCommand(id, cmdSet, cmd, payload); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case r, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("jdwp: connection closed while waiting for reply")
		}
		if r.errCode != ErrNone {
			return nil, &WireError{Code: r.errCode}
		}
		return newDecoder(r.data, c.size), nil
	case <-time.After(timeout):
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("jdwp: request timeout (cmdSet=%d cmd=%d)", cmdSet, cmd)
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

// WireError wraps a raw JDWP reply error code.
type WireError struct {
	Code ErrorCode
}

func (e *WireError) Error() string { return fmt.Sprintf("jdwp error code %d", e.Code) }

// Close tears down the client and its underlying transport.
func (c *Client) Close() error {
	c.cancel()
	err := c.transport.Close()
	c.wg.Wait()
	return err
}

func (c *Client) enc() *encoder { return newEncoder(c.size) }
