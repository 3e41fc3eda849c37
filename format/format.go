// Package format renders a parsed class for the inspect command.
package format

import (
	"encoding"
	"fmt"

	"github.com/hispeedtriggercam/classpatch/classfile"
)

type Encoder interface {
	encoding.TextMarshaler
	Encode(report *ClassReport) error
}

// ClassReport is what inspect knows about one class: its constant pool, the
// Methodref entries named Method, and the places a patch could land.
type ClassReport struct {
	Entry  string
	Size   int
	Class  *classfile.ClassFile
	Method string

	Integers   []IntegerSite
	Methodrefs []MethodrefSite
}

// IntegerSite is a CONSTANT_Integer entry and the offset of its tag byte.
type IntegerSite struct {
	Index  uint16
	Value  int32
	Offset int
}

type MethodrefSite struct {
	Index      uint16
	Class      string
	Descriptor string
	Calls      []CallSite
}

// CallSite is an iconst_<Push> immediately followed by invokevirtual of the
// enclosing Methodref. Offset is that of the iconst opcode.
type CallSite struct {
	Method string
	Push   int
	Offset int
}

func NewClassReport(entry string, data []byte, method string) (*ClassReport, error) {
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", entry, err)
	}

	r := &ClassReport{
		Entry:  entry,
		Size:   len(data),
		Class:  cf,
		Method: method,
	}

	cp := cf.ConstantPool
	for i := 1; i < len(cp); i++ {
		if v, ok := cp.GetInteger(uint16(i)); ok {
			r.Integers = append(r.Integers, IntegerSite{Index: uint16(i), Value: v, Offset: cp[i].Span().Offset})
		}
	}

	if method == "" {
		return r, nil
	}
	for _, idx := range classfile.MethodrefCandidates(cp, []byte(method)) {
		className, _, descriptor := cp.GetMemberRef(idx)
		r.Methodrefs = append(r.Methodrefs, MethodrefSite{
			Index:      idx,
			Class:      className,
			Descriptor: descriptor,
			Calls:      findCalls(data, cf, idx),
		})
	}
	return r, nil
}

// findCalls scans each method's bytecode for iconst_<n> directly before
// invokevirtual #methodref. Like the patcher, it matches bytes rather than
// decoding instructions.
func findCalls(data []byte, cf *classfile.ClassFile, methodref uint16) []CallSite {
	var calls []CallSite
	hi, lo := byte(methodref>>8), byte(methodref)
	for i := range cf.Methods {
		m := &cf.Methods[i]
		code := m.GetCodeAttribute(cf.ConstantPool)
		if code == nil {
			continue
		}
		span := code.CodeSpan()
		for pc := 1; pc+2 < span.Length; pc++ {
			at := span.Offset + pc
			if data[at] != byte(classfile.OpInvokevirtual) || data[at+1] != hi || data[at+2] != lo {
				continue
			}
			push := int(data[at-1]) - int(classfile.OpIconst0)
			if _, ok := classfile.IconstOpcode(push); !ok {
				continue
			}
			calls = append(calls, CallSite{
				Method: m.Name(cf.ConstantPool) + m.Descriptor(cf.ConstantPool),
				Push:   push,
				Offset: at - 1,
			})
		}
	}
	return calls
}
