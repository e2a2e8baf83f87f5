package pod

import (
	"encoding/binary"
	"math"
)

// frame tracks an open compound value awaiting its End() call, mirroring
// the teacher's practice of reserving a length field and backfilling it
// once the real size is known (see internal/uapi's UblkParams.Len handling
// in internal/ctrl/control.go's SetParams).
type frame struct {
	tag       Tag
	lenOffset int // offset of the 4-byte body-length field to backfill
}

// Builder appends tagged values to a growing byte buffer and collects any
// file descriptors referenced by Fd values into a side channel, exactly as
// spec.md §4.1 requires ("Fd values are indices into a side channel of file
// descriptors attached to the enclosing message").
type Builder struct {
	buf    []byte
	fds    []int
	frames []frame
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Bytes returns the encoded value stream built so far. It is only
// meaningful once every opened frame has been closed with End.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Fds returns the file descriptors referenced by Fd values, in the order
// PutFd was called.
func (b *Builder) Fds() []int {
	return b.fds
}

func (b *Builder) writeHeaderPlaceholder(tag Tag) int {
	off := len(b.buf)
	b.buf = append(b.buf, 0, 0, 0, 0, 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(b.buf[off+4:], uint32(tag))
	return off
}

func (b *Builder) backfillLength(off int) {
	bodyLen := len(b.buf) - off - headerSize
	binary.LittleEndian.PutUint32(b.buf[off:], uint32(bodyLen))
	if p := padLen(len(b.buf)); p > 0 {
		b.buf = append(b.buf, make([]byte, p)...)
	}
}

// putLeaf writes a complete primitive value: header followed by body,
// padded to an 8-byte boundary.
func (b *Builder) putLeaf(tag Tag, body []byte) {
	off := b.writeHeaderPlaceholder(tag)
	b.buf = append(b.buf, body...)
	b.backfillLength(off)
}

// PutNone appends a None value.
func (b *Builder) PutNone() {
	b.putLeaf(TagNone, nil)
}

// PutBool appends a Bool value.
func (b *Builder) PutBool(v bool) {
	var n uint32
	if v {
		n = 1
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, n)
	b.putLeaf(TagBool, buf)
}

// PutID appends an Id value (a 32-bit enumerated value, e.g. an object type
// or parameter key).
func (b *Builder) PutID(v uint32) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	b.putLeaf(TagID, buf)
}

// PutInt appends an Int value.
func (b *Builder) PutInt(v int32) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(v))
	b.putLeaf(TagInt, buf)
}

// PutLong appends a Long value.
func (b *Builder) PutLong(v int64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	b.putLeaf(TagLong, buf)
}

// PutFloat appends a Float value.
func (b *Builder) PutFloat(v float32) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
	b.putLeaf(TagFloat, buf)
}

// PutDouble appends a Double value.
func (b *Builder) PutDouble(v float64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	b.putLeaf(TagDouble, buf)
}

// PutString appends a zero-terminated, length-prefixed String value.
func (b *Builder) PutString(v string) {
	body := make([]byte, len(v)+1)
	copy(body, v)
	b.putLeaf(TagString, body)
}

// PutBytes appends an opaque Bytes value.
func (b *Builder) PutBytes(v []byte) {
	b.putLeaf(TagBytes, v)
}

// PutPointer appends an opaque host-local Pointer value. Pointers never
// cross the wire meaningfully across processes; this exists so in-process
// graph components can pass the codec the same value they would pass a
// remote peer.
func (b *Builder) PutPointer(v uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	b.putLeaf(TagPointer, buf)
}

// PutFd appends an Fd value referencing fd in the side-channel fd array,
// returning its index.
func (b *Builder) PutFd(fd int) int {
	idx := len(b.fds)
	b.fds = append(b.fds, fd)
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(idx))
	b.putLeaf(TagFd, buf)
	return idx
}

// PutRectangle appends a Rectangle value.
func (b *Builder) PutRectangle(r Rectangle) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], r.Width)
	binary.LittleEndian.PutUint32(buf[4:], r.Height)
	b.putLeaf(TagRectangle, buf)
}

// PutFraction appends a Fraction value.
func (b *Builder) PutFraction(f Fraction) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], f.Num)
	binary.LittleEndian.PutUint32(buf[4:], f.Denom)
	b.putLeaf(TagFraction, buf)
}

// PutBitmap appends an opaque Bitmap value.
func (b *Builder) PutBitmap(bits []byte) {
	b.putLeaf(TagBitmap, bits)
}

// BeginArray opens an Array frame of homogeneous elemTag values. Every
// Put call made before the matching End must write a value of elemTag.
func (b *Builder) BeginArray(elemTag Tag) {
	off := b.writeHeaderPlaceholder(TagArray)
	elemHdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(elemHdr[4:], uint32(elemTag))
	b.buf = append(b.buf, elemHdr...)
	b.frames = append(b.frames, frame{tag: TagArray, lenOffset: off})
}

// BeginChoice opens a Choice frame: kind plus alternatives of elemTag.
func (b *Builder) BeginChoice(kind ChoiceKind, elemTag Tag) {
	off := b.writeHeaderPlaceholder(TagChoice)
	prefix := make([]byte, 8)
	binary.LittleEndian.PutUint32(prefix[0:], uint32(kind))
	binary.LittleEndian.PutUint32(prefix[4:], uint32(elemTag))
	b.buf = append(b.buf, prefix...)
	b.frames = append(b.frames, frame{tag: TagChoice, lenOffset: off})
}

// BeginStruct opens a Struct frame of heterogeneous, ordered values.
func (b *Builder) BeginStruct() {
	off := b.writeHeaderPlaceholder(TagStruct)
	b.frames = append(b.frames, frame{tag: TagStruct, lenOffset: off})
}

// BeginObject opens an Object frame: objectType plus a sequence of
// (key_id, flags, value) properties, each opened with BeginProperty.
func (b *Builder) BeginObject(objectType, id uint32) {
	off := b.writeHeaderPlaceholder(TagObject)
	prefix := make([]byte, 8)
	binary.LittleEndian.PutUint32(prefix[0:], objectType)
	binary.LittleEndian.PutUint32(prefix[4:], id)
	b.buf = append(b.buf, prefix...)
	b.frames = append(b.frames, frame{tag: TagObject, lenOffset: off})
}

// PropertyFlags carries the out-of-band bits attached to an Object
// property, e.g. the "unset" flag used during EnumFormat enumeration.
type PropertyFlags uint32

const (
	// PropertyUnset marks a property present during enumeration but not
	// currently carrying a concrete value.
	PropertyUnset PropertyFlags = 1 << 0
)

// BeginProperty writes an Object property's (key_id, flags) header; the
// caller then writes exactly one value and calls nothing further — the
// value's own header carries its own length, so properties need no
// explicit end.
func (b *Builder) BeginProperty(keyID uint32, flags PropertyFlags) {
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(hdr[0:], keyID)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(flags))
	b.buf = append(b.buf, hdr...)
}

// End closes the innermost open frame, backfilling its length prefix.
func (b *Builder) End() {
	n := len(b.frames)
	f := b.frames[n-1]
	b.frames = b.frames[:n-1]
	b.backfillLength(f.lenOffset)
}
