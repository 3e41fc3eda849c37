// Package classfiletest assembles small class files in memory for tests.
package classfiletest

import (
	"bytes"
	"encoding/binary"
	"math"
)

type method struct {
	name, descriptor uint16
	code             []byte
}

// Builder appends constant pool entries and methods, then lays them out as a
// class file. Utf8 and Class entries are interned; every other call adds a
// new entry so tests can create duplicates on purpose.
type Builder struct {
	pool    bytes.Buffer
	next    uint16
	utf8    map[string]uint16
	classes map[string]uint16
	this    uint16
	super   uint16
	methods []method

	// MajorVersion defaults to 52 (Java 8).
	MajorVersion uint16
}

func New() *Builder {
	return &Builder{
		next:         1,
		utf8:         make(map[string]uint16),
		classes:      make(map[string]uint16),
		MajorVersion: 52,
	}
}

func (b *Builder) add(tag byte, payload ...byte) uint16 {
	idx := b.next
	b.pool.WriteByte(tag)
	b.pool.Write(payload)
	b.next++
	return idx
}

func u2(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

func u4(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

// Raw adds an entry with an arbitrary tag and payload, e.g. an unknown tag.
func (b *Builder) Raw(tag byte, payload ...byte) uint16 {
	return b.add(tag, payload...)
}

func (b *Builder) Utf8(s string) uint16 {
	if idx, ok := b.utf8[s]; ok {
		return idx
	}
	idx := b.add(1, append(u2(uint16(len(s))), s...)...)
	b.utf8[s] = idx
	return idx
}

func (b *Builder) Integer(v int32) uint16 {
	return b.add(3, u4(uint32(v))...)
}

func (b *Builder) Float(v float32) uint16 {
	return b.add(4, u4(math.Float32bits(v))...)
}

// Long adds a Long entry, which consumes two indices.
func (b *Builder) Long(v int64) uint16 {
	idx := b.add(5, binary.BigEndian.AppendUint64(nil, uint64(v))...)
	b.next++
	return idx
}

// Double adds a Double entry, which consumes two indices.
func (b *Builder) Double(v float64) uint16 {
	idx := b.add(6, binary.BigEndian.AppendUint64(nil, math.Float64bits(v))...)
	b.next++
	return idx
}

func (b *Builder) Class(name string) uint16 {
	if idx, ok := b.classes[name]; ok {
		return idx
	}
	nameIdx := b.Utf8(name)
	idx := b.add(7, u2(nameIdx)...)
	b.classes[name] = idx
	return idx
}

func (b *Builder) String(s string) uint16 {
	return b.add(8, u2(b.Utf8(s))...)
}

func (b *Builder) NameAndType(name, descriptor string) uint16 {
	nameIdx := b.Utf8(name)
	descIdx := b.Utf8(descriptor)
	return b.add(12, append(u2(nameIdx), u2(descIdx)...)...)
}

func (b *Builder) memberRef(tag byte, class, name, descriptor string) uint16 {
	classIdx := b.Class(class)
	natIdx := b.NameAndType(name, descriptor)
	return b.add(tag, append(u2(classIdx), u2(natIdx)...)...)
}

func (b *Builder) Fieldref(class, name, descriptor string) uint16 {
	return b.memberRef(9, class, name, descriptor)
}

func (b *Builder) Methodref(class, name, descriptor string) uint16 {
	return b.memberRef(10, class, name, descriptor)
}

func (b *Builder) InterfaceMethodref(class, name, descriptor string) uint16 {
	return b.memberRef(11, class, name, descriptor)
}

func (b *Builder) MethodHandle(kind byte, ref uint16) uint16 {
	return b.add(15, append([]byte{kind}, u2(ref)...)...)
}

func (b *Builder) MethodType(descriptor string) uint16 {
	return b.add(16, u2(b.Utf8(descriptor))...)
}

func (b *Builder) InvokeDynamic(bootstrap uint16, name, descriptor string) uint16 {
	natIdx := b.NameAndType(name, descriptor)
	return b.add(18, append(u2(bootstrap), u2(natIdx)...)...)
}

// Count is the constant_pool_count the class file will declare.
func (b *Builder) Count() uint16 {
	return b.next
}

func (b *Builder) SetClass(this, super string) {
	b.this = b.Class(this)
	if super != "" {
		b.super = b.Class(super)
	}
}

// Method adds a public method whose Code attribute holds code.
func (b *Builder) Method(name, descriptor string, code []byte) {
	b.Utf8("Code")
	b.methods = append(b.methods, method{
		name:       b.Utf8(name),
		descriptor: b.Utf8(descriptor),
		code:       code,
	})
}

// PoolBytes returns the encoded constant pool entries, without the count.
func (b *Builder) PoolBytes() []byte {
	return bytes.Clone(b.pool.Bytes())
}

func (b *Builder) Bytes() []byte {
	var out bytes.Buffer
	out.Write(u4(0xCAFEBABE))
	out.Write(u2(0))
	out.Write(u2(b.MajorVersion))
	out.Write(u2(b.next))
	out.Write(b.pool.Bytes())

	out.Write(u2(0x0021)) // public super
	out.Write(u2(b.this))
	out.Write(u2(b.super))
	out.Write(u2(0)) // interfaces
	out.Write(u2(0)) // fields

	out.Write(u2(uint16(len(b.methods))))
	for _, m := range b.methods {
		out.Write(u2(0x0001))
		out.Write(u2(m.name))
		out.Write(u2(m.descriptor))
		out.Write(u2(1))
		out.Write(u2(b.utf8["Code"]))
		out.Write(u4(uint32(12 + len(m.code))))
		out.Write(u2(2)) // max_stack
		out.Write(u2(1)) // max_locals
		out.Write(u4(uint32(len(m.code))))
		out.Write(m.code)
		out.Write(u2(0)) // exception_table_length
		out.Write(u2(0)) // attributes_count
	}

	out.Write(u2(0)) // class attributes
	return out.Bytes()
}

// InvokeVirtual encodes invokevirtual #index.
func InvokeVirtual(index uint16) []byte {
	return append([]byte{0xb6}, u2(index)...)
}
