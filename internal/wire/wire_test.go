package wire

import (
	"testing"
	"unsafe"
)

func TestStructSizes(t *testing.T) {
	tests := []struct {
		name     string
		size     uintptr
		expected int
	}{
		{"FrameHeader", unsafe.Sizeof(FrameHeader{}), 8},
		{"IOAreaLayout", unsafe.Sizeof(IOAreaLayout{}), 40},
		{"ClockInfo", unsafe.Sizeof(ClockInfo{}), 56},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if int(tt.size) != tt.expected {
				t.Errorf("%s size = %d, want %d", tt.name, tt.size, tt.expected)
			}
		})
	}
}

func TestFrameHeaderRoundTrip(t *testing.T) {
	h := FrameHeader{ObjectID: 7, Opcode: 3, SizeQwords: 12}
	buf := MarshalFrameHeader(&h)
	if len(buf) != 8 {
		t.Fatalf("marshaled length = %d, want 8", len(buf))
	}

	var got FrameHeader
	if err := UnmarshalFrameHeader(buf, &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestUnmarshalFrameHeaderShortBuffer(t *testing.T) {
	var got FrameHeader
	if err := UnmarshalFrameHeader([]byte{1, 2, 3}, &got); err != ErrInsufficientData {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestIOAreaLayoutRoundTrip(t *testing.T) {
	l := IOAreaLayout{
		InputBufferID:  1,
		OutputBufferID: 2,
		ClockPosition:  1000,
		ClockDuration:  64,
		Latency:        5,
		Flags:          IOAreaFlagXRun,
	}
	buf := make([]byte, 40)
	if err := PutIOAreaLayout(buf, &l); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := GetIOAreaLayout(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != l {
		t.Errorf("got %+v, want %+v", got, l)
	}
}

func TestClockInfoRoundTrip(t *testing.T) {
	c := ClockInfo{
		Rate:                  48000,
		Position:              960000,
		Duration:              1024,
		NextPosition:          961024,
		Delay:                 32,
		XrunCount:             2,
		CycleStartMonotonicNs: 123456789,
	}
	buf := make([]byte, 56)
	if err := PutClockInfo(buf, &c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := GetClockInfo(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != c {
		t.Errorf("got %+v, want %+v", got, c)
	}
}
