package jdwp

import (
	"encoding/binary"
	"fmt"
)

// idSizes records the target VM's declared width, in bytes, for each opaque
// handle kind, per the VirtualMachine.IDSizes reply. A real JDWP
// implementation must honor these instead of assuming 8 bytes everywhere.
type idSizes struct {
	fieldIDSize         int
	methodIDSize        int
	objectIDSize        int
	referenceTypeIDSize int
	frameIDSize         int
}

var defaultIDSizes = idSizes{
	fieldIDSize:         8,
	methodIDSize:        8,
	objectIDSize:        8,
	referenceTypeIDSize: 8,
	frameIDSize:         8,
}

// encoder builds a JDWP command payload incrementally.
type encoder struct {
	buf  []byte
	size idSizes
}

func newEncoder(size idSizes) *encoder { return &encoder{size: size} }

func (e *encoder) bytes() []byte { return e.buf }

func (e *encoder) u8(v byte)      { e.buf = append(e.buf, v) }
func (e *encoder) i32(v int32)    { e.appendUint(uint64(uint32(v)), 4) }
func (e *encoder) u32(v uint32)   { e.appendUint(uint64(v), 4) }
func (e *encoder) i64(v int64)    { e.appendUint(uint64(v), 8) }
func (e *encoder) appendUint(v uint64, width int) {
	start := len(e.buf)
	e.buf = append(e.buf, make([]byte, width)...)
	switch width {
	case 1:
		e.buf[start] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(e.buf[start:], uint16(v))
	case 4:
		binary.BigEndian.PutUint32(e.buf[start:], uint32(v))
	case 8:
		binary.BigEndian.PutUint64(e.buf[start:], v)
	default:
		panic(fmt.Sprintf("jdwp: unsupported id width %d", width))
	}
}

func (e *encoder) objectID(id ObjectID)             { e.appendUint(uint64(id), e.size.objectIDSize) }
func (e *encoder) referenceTypeID(id ReferenceTypeID) { e.appendUint(uint64(id), e.size.referenceTypeIDSize) }
func (e *encoder) methodID(id MethodID)             { e.appendUint(uint64(id), e.size.methodIDSize) }
func (e *encoder) fieldID(id FieldID)               { e.appendUint(uint64(id), e.size.fieldIDSize) }
func (e *encoder) threadID(id ThreadID)             { e.appendUint(uint64(id), e.size.objectIDSize) }
func (e *encoder) frameID(id FrameID)               { e.appendUint(uint64(id), e.size.frameIDSize) }

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) location(loc Location) {
	e.u8(loc.TypeTag)
	e.referenceTypeID(loc.Class)
	e.methodID(loc.Method)
	e.i64(int64(loc.CodeIdx))
}

func (e *encoder) taggedValue(v TaggedValue) {
	e.u8(byte(v.Tag))
	switch v.Tag {
	case TagBoolean:
		if v.Bool {
			e.u8(1)
		} else {
			e.u8(0)
		}
	case TagByte:
		e.u8(byte(v.Byte))
	case TagChar, TagShort:
		e.appendUint(uint64(v.Short), 2)
	case TagInt, TagFloat:
		e.i32(v.Int)
	case TagLong, TagDouble:
		e.i64(v.Long)
	case TagObject, TagString, TagArray, TagThread, TagThreadGroup, TagClassLoader, TagClassObject:
		e.objectID(v.Obj)
	case TagVoid:
		// no payload
	default:
		e.objectID(v.Obj)
	}
}

// decoder reads a JDWP reply payload sequentially.
type decoder struct {
	buf  []byte
	pos  int
	size idSizes
}

func newDecoder(buf []byte, size idSizes) *decoder { return &decoder{buf: buf, size: size} }

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) u8() byte {
	v := d.buf[d.pos]
	d.pos++
	return v
}

func (d *decoder) readUint(width int) uint64 {
	v := uint64(0)
	switch width {
	case 1:
		v = uint64(d.buf[d.pos])
	case 2:
		v = uint64(binary.BigEndian.Uint16(d.buf[d.pos:]))
	case 4:
		v = uint64(binary.BigEndian.Uint32(d.buf[d.pos:]))
	case 8:
		v = binary.BigEndian.Uint64(d.buf[d.pos:])
	default:
		panic(fmt.Sprintf("jdwp: unsupported id width %d", width))
	}
	d.pos += width
	return v
}

func (d *decoder) i32() int32  { return int32(d.readUint(4)) }
func (d *decoder) u32() uint32 { return uint32(d.readUint(4)) }
func (d *decoder) i64() int64  { return int64(d.readUint(8)) }

func (d *decoder) objectID() ObjectID             { return ObjectID(d.readUint(d.size.objectIDSize)) }
func (d *decoder) referenceTypeID() ReferenceTypeID {
	return ReferenceTypeID(d.readUint(d.size.referenceTypeIDSize))
}
func (d *decoder) methodID() MethodID { return MethodID(d.readUint(d.size.methodIDSize)) }
func (d *decoder) fieldID() FieldID   { return FieldID(d.readUint(d.size.fieldIDSize)) }
func (d *decoder) threadID() ThreadID { return ThreadID(d.readUint(d.size.objectIDSize)) }
func (d *decoder) frameID() FrameID   { return FrameID(d.readUint(d.size.frameIDSize)) }

func (d *decoder) str() string {
	n := int(d.u32())
	s := string(d.buf[d.pos : d.pos+n])
	d.pos += n
	return s
}

func (d *decoder) location() Location {
	return Location{
		TypeTag: d.u8(),
		Class:   d.referenceTypeID(),
		Method:  d.methodID(),
		CodeIdx: uint64(d.i64()),
	}
}

func (d *decoder) taggedValue() TaggedValue {
	tag := Tag(d.u8())
	v := TaggedValue{Tag: tag}
	switch tag {
	case TagBoolean:
		v.Bool = d.u8() != 0
	case TagByte:
		v.Byte = int8(d.u8())
	case TagChar, TagShort:
		v.Short = int16(d.readUint(2))
	case TagInt, TagFloat:
		v.Int = d.i32()
	case TagLong, TagDouble:
		v.Long = d.i64()
	case TagVoid:
		// no payload
	default:
		v.Obj = d.objectID()
	}
	return v
}
