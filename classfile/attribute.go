package classfile

import (
	"encoding/binary"
	"fmt"
)

// AttributeInfo is a raw attribute. Offset is the absolute position of Info
// in the class file buffer. Parsed holds the decoded form for the attributes
// this package understands.
type AttributeInfo struct {
	NameIndex uint16
	Offset    int
	Info      []byte
	Parsed    interface{}
}

type CodeAttribute struct {
	MaxStack       uint16
	MaxLocals      uint16
	Code           []byte
	CodeOffset     int
	ExceptionTable []ExceptionTableEntry
	Attributes     []AttributeInfo
}

// CodeSpan locates the bytecode array in the class file buffer.
func (c *CodeAttribute) CodeSpan() Span {
	return Span{Offset: c.CodeOffset, Length: len(c.Code)}
}

type ExceptionTableEntry struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

type SourceFileAttribute struct {
	SourceFileIndex uint16
}

func (a *AttributeInfo) AsCode() *CodeAttribute {
	if code, ok := a.Parsed.(*CodeAttribute); ok {
		return code
	}
	return nil
}

func (a *AttributeInfo) AsSourceFile() *SourceFileAttribute {
	if sf, ok := a.Parsed.(*SourceFileAttribute); ok {
		return sf
	}
	return nil
}

func findAttribute(cp ConstantPool, attrs []AttributeInfo, name string) *AttributeInfo {
	for i := range attrs {
		if cp.GetUtf8String(attrs[i].NameIndex) == name {
			return &attrs[i]
		}
	}
	return nil
}

// parseCodeAttribute decodes a Code attribute whose info starts at base in
// the class file buffer. Nested attributes are kept raw.
func parseCodeAttribute(info []byte, base int) (*CodeAttribute, error) {
	if len(info) < 8 {
		return nil, fmt.Errorf("%w: Code attribute is %d bytes", ErrFormat, len(info))
	}

	code := &CodeAttribute{
		MaxStack:  binary.BigEndian.Uint16(info[0:2]),
		MaxLocals: binary.BigEndian.Uint16(info[2:4]),
	}

	n := binary.BigEndian.Uint32(info[4:8])
	if n > uint32(len(info)-8) {
		return nil, fmt.Errorf("%w: code length %d exceeds attribute", ErrFormat, n)
	}
	codeLength := int(n)
	code.Code = info[8 : 8+codeLength]
	code.CodeOffset = base + 8

	r := &reader{data: info, off: 8 + codeLength}

	exceptionTableLength := r.readU2()
	code.ExceptionTable = make([]ExceptionTableEntry, exceptionTableLength)
	for i := range code.ExceptionTable {
		code.ExceptionTable[i] = ExceptionTableEntry{
			StartPC:   r.readU2(),
			EndPC:     r.readU2(),
			HandlerPC: r.readU2(),
			CatchType: r.readU2(),
		}
	}
	if r.err != nil {
		return nil, r.err
	}

	attributesCount := r.readU2()
	code.Attributes = make([]AttributeInfo, attributesCount)
	for i := range code.Attributes {
		code.Attributes[i].NameIndex = r.readU2()
		length := r.readU4()
		code.Attributes[i].Offset = base + r.off
		code.Attributes[i].Info = r.readBytes(int(length))
	}
	if r.err != nil {
		return nil, r.err
	}

	return code, nil
}

func parseSourceFileAttribute(info []byte) *SourceFileAttribute {
	if len(info) < 2 {
		return nil
	}
	return &SourceFileAttribute{
		SourceFileIndex: binary.BigEndian.Uint16(info[0:2]),
	}
}
