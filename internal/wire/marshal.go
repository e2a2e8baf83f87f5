package wire

import (
	"encoding/binary"
	"errors"
)

// ErrInsufficientData is returned when a buffer is too short to unmarshal
// the requested struct.
var ErrInsufficientData = errors.New("wire: insufficient data")

// MarshalFrameHeader encodes h into its 8-byte wire form.
func MarshalFrameHeader(h *FrameHeader) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], h.ObjectID)
	binary.LittleEndian.PutUint16(buf[4:6], h.Opcode)
	binary.LittleEndian.PutUint16(buf[6:8], h.SizeQwords)
	return buf
}

// UnmarshalFrameHeader decodes h from its 8-byte wire form.
func UnmarshalFrameHeader(data []byte, h *FrameHeader) error {
	if len(data) < 8 {
		return ErrInsufficientData
	}
	h.ObjectID = binary.LittleEndian.Uint32(data[0:4])
	h.Opcode = binary.LittleEndian.Uint16(data[4:6])
	h.SizeQwords = binary.LittleEndian.Uint16(data[6:8])
	return nil
}

// PutIOAreaLayout writes l into the mapped bytes at the head of a node's IO
// area. buf must be at least 40 bytes; it is written in place since the IO
// area is shared memory, not a fresh allocation.
func PutIOAreaLayout(buf []byte, l *IOAreaLayout) error {
	if len(buf) < 40 {
		return ErrInsufficientData
	}
	binary.LittleEndian.PutUint32(buf[0:4], l.InputBufferID)
	binary.LittleEndian.PutUint32(buf[4:8], l.OutputBufferID)
	binary.LittleEndian.PutUint64(buf[8:16], l.ClockPosition)
	binary.LittleEndian.PutUint64(buf[16:24], l.ClockDuration)
	binary.LittleEndian.PutUint64(buf[24:32], l.Latency)
	binary.LittleEndian.PutUint32(buf[32:36], l.Flags)
	return nil
}

// GetIOAreaLayout reads an IOAreaLayout out of mapped bytes.
func GetIOAreaLayout(buf []byte) (IOAreaLayout, error) {
	var l IOAreaLayout
	if len(buf) < 40 {
		return l, ErrInsufficientData
	}
	l.InputBufferID = binary.LittleEndian.Uint32(buf[0:4])
	l.OutputBufferID = binary.LittleEndian.Uint32(buf[4:8])
	l.ClockPosition = binary.LittleEndian.Uint64(buf[8:16])
	l.ClockDuration = binary.LittleEndian.Uint64(buf[16:24])
	l.Latency = binary.LittleEndian.Uint64(buf[24:32])
	l.Flags = binary.LittleEndian.Uint32(buf[32:36])
	return l, nil
}

// PutClockInfo writes c into the mapped clock publication area. buf must be
// at least 56 bytes.
func PutClockInfo(buf []byte, c *ClockInfo) error {
	if len(buf) < 56 {
		return ErrInsufficientData
	}
	binary.LittleEndian.PutUint32(buf[0:4], c.Rate)
	binary.LittleEndian.PutUint64(buf[8:16], c.Position)
	binary.LittleEndian.PutUint64(buf[16:24], c.Duration)
	binary.LittleEndian.PutUint64(buf[24:32], c.NextPosition)
	binary.LittleEndian.PutUint64(buf[32:40], c.Delay)
	binary.LittleEndian.PutUint32(buf[40:44], c.XrunCount)
	binary.LittleEndian.PutUint64(buf[48:56], uint64(c.CycleStartMonotonicNs))
	return nil
}

// GetClockInfo reads a ClockInfo out of mapped bytes.
func GetClockInfo(buf []byte) (ClockInfo, error) {
	var c ClockInfo
	if len(buf) < 56 {
		return c, ErrInsufficientData
	}
	c.Rate = binary.LittleEndian.Uint32(buf[0:4])
	c.Position = binary.LittleEndian.Uint64(buf[8:16])
	c.Duration = binary.LittleEndian.Uint64(buf[16:24])
	c.NextPosition = binary.LittleEndian.Uint64(buf[24:32])
	c.Delay = binary.LittleEndian.Uint64(buf[32:40])
	c.XrunCount = binary.LittleEndian.Uint32(buf[40:44])
	c.CycleStartMonotonicNs = int64(binary.LittleEndian.Uint64(buf[48:56]))
	return c, nil
}
