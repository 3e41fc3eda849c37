package classfile

import (
	"fmt"
	"math"
	"strings"
)

// Span is a byte range inside the class file buffer.
type Span struct {
	Offset int
	Length int
}

func (s Span) End() int { return s.Offset + s.Length }

func (s Span) String() string {
	return fmt.Sprintf("%d+%d", s.Offset, s.Length)
}

// ConstantPoolEntry is one slot of the constant pool. Span covers the tag byte
// and the payload.
type ConstantPoolEntry interface {
	Tag() ConstantTag
	Span() Span
	setSpan(Span)
}

type spanned struct {
	span Span
}

func (s *spanned) Span() Span       { return s.span }
func (s *spanned) setSpan(sp Span) { s.span = sp }

// ConstantUtf8Info holds the raw modified UTF-8 bytes. Use String for display.
type ConstantUtf8Info struct {
	spanned
	Value []byte
}

func (c *ConstantUtf8Info) Tag() ConstantTag { return ConstantUtf8 }
func (c *ConstantUtf8Info) String() string  { return decodeModifiedUtf8(c.Value) }

// ConstantScalarInfo is a 4-byte Integer or Float literal.
type ConstantScalarInfo struct {
	spanned
	Kind ConstantTag
	Bits uint32
}

func (c *ConstantScalarInfo) Tag() ConstantTag { return c.Kind }
func (c *ConstantScalarInfo) Int() int32       { return int32(c.Bits) }
func (c *ConstantScalarInfo) Float() float32   { return math.Float32frombits(c.Bits) }

// ConstantWideInfo is an 8-byte Long or Double literal. It occupies two
// indices; the second holds a ConstantUnusableInfo.
type ConstantWideInfo struct {
	spanned
	Kind ConstantTag
	Bits uint64
}

func (c *ConstantWideInfo) Tag() ConstantTag { return c.Kind }
func (c *ConstantWideInfo) Long() int64      { return int64(c.Bits) }
func (c *ConstantWideInfo) Double() float64  { return math.Float64frombits(c.Bits) }

// ConstantUnusableInfo fills the slot after a wide entry. Its span is empty
// and sits at the end of the wide entry.
type ConstantUnusableInfo struct {
	spanned
}

func (c *ConstantUnusableInfo) Tag() ConstantTag { return ConstantUnusable }

// ConstantRefInfo covers the entries that point at exactly one other entry:
// Class, String, MethodType, Module and Package.
type ConstantRefInfo struct {
	spanned
	Kind  ConstantTag
	Index uint16
}

func (c *ConstantRefInfo) Tag() ConstantTag { return c.Kind }

// ConstantMemberRefInfo is a Fieldref, Methodref or InterfaceMethodref.
type ConstantMemberRefInfo struct {
	spanned
	Kind             ConstantTag
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantMemberRefInfo) Tag() ConstantTag { return c.Kind }

type ConstantNameAndTypeInfo struct {
	spanned
	NameIndex       uint16
	DescriptorIndex uint16
}

func (c *ConstantNameAndTypeInfo) Tag() ConstantTag { return ConstantNameAndType }

type ConstantMethodHandleInfo struct {
	spanned
	ReferenceKind  MethodHandleKind
	ReferenceIndex uint16
}

func (c *ConstantMethodHandleInfo) Tag() ConstantTag { return ConstantMethodHandle }

// ConstantDynamicInfo is a Dynamic or InvokeDynamic entry.
type ConstantDynamicInfo struct {
	spanned
	Kind                     ConstantTag
	BootstrapMethodAttrIndex uint16
	NameAndTypeIndex         uint16
}

func (c *ConstantDynamicInfo) Tag() ConstantTag { return c.Kind }

// ConstantPool is indexed exactly like the class file: slot 0 is always nil
// and len(cp) equals the declared constant_pool_count.
type ConstantPool []ConstantPoolEntry

func (cp ConstantPool) Entry(index uint16) ConstantPoolEntry {
	if index == 0 || int(index) >= len(cp) {
		return nil
	}
	return cp[index]
}

func (cp ConstantPool) GetUtf8(index uint16) []byte {
	if entry, ok := cp.Entry(index).(*ConstantUtf8Info); ok {
		return entry.Value
	}
	return nil
}

func (cp ConstantPool) GetUtf8String(index uint16) string {
	if entry, ok := cp.Entry(index).(*ConstantUtf8Info); ok {
		return entry.String()
	}
	return ""
}

func (cp ConstantPool) GetClassName(index uint16) string {
	if entry, ok := cp.Entry(index).(*ConstantRefInfo); ok && entry.Kind == ConstantClass {
		return cp.GetUtf8String(entry.Index)
	}
	return ""
}

func (cp ConstantPool) GetNameAndType(index uint16) (name, descriptor string) {
	if entry, ok := cp.Entry(index).(*ConstantNameAndTypeInfo); ok {
		return cp.GetUtf8String(entry.NameIndex), cp.GetUtf8String(entry.DescriptorIndex)
	}
	return "", ""
}

func (cp ConstantPool) GetMemberRef(index uint16) (className, name, descriptor string) {
	if entry, ok := cp.Entry(index).(*ConstantMemberRefInfo); ok {
		className = cp.GetClassName(entry.ClassIndex)
		name, descriptor = cp.GetNameAndType(entry.NameAndTypeIndex)
		return
	}
	return "", "", ""
}

func (cp ConstantPool) GetInteger(index uint16) (int32, bool) {
	if entry, ok := cp.Entry(index).(*ConstantScalarInfo); ok && entry.Kind == ConstantInteger {
		return entry.Int(), true
	}
	return 0, false
}

// Region is the byte range covered by all entries, from the first tag byte to
// the end of the last payload.
func (cp ConstantPool) Region() Span {
	if len(cp) < 2 {
		return Span{Offset: constantPoolOffset}
	}
	first := cp[1].Span()
	last := cp[len(cp)-1].Span()
	return Span{Offset: first.Offset, Length: last.End() - first.Offset}
}

// SpansOf returns the spans of every entry with the given tag, in pool order.
func (cp ConstantPool) SpansOf(tag ConstantTag) []Span {
	var spans []Span
	for _, entry := range cp {
		if entry != nil && entry.Tag() == tag {
			spans = append(spans, entry.Span())
		}
	}
	return spans
}

// Describe renders the entry at index in a javap-like form.
func (cp ConstantPool) Describe(index uint16) string {
	switch e := cp.Entry(index).(type) {
	case nil:
		return ""
	case *ConstantUtf8Info:
		return fmt.Sprintf("%q", e.String())
	case *ConstantScalarInfo:
		if e.Kind == ConstantFloat {
			return fmt.Sprintf("%gf", e.Float())
		}
		return fmt.Sprintf("%d", e.Int())
	case *ConstantWideInfo:
		if e.Kind == ConstantDouble {
			return fmt.Sprintf("%gd", e.Double())
		}
		return fmt.Sprintf("%dl", e.Long())
	case *ConstantUnusableInfo:
		return "(unusable)"
	case *ConstantRefInfo:
		return fmt.Sprintf("#%d // %s", e.Index, cp.GetUtf8String(e.Index))
	case *ConstantMemberRefInfo:
		className, name, descriptor := cp.GetMemberRef(index)
		return fmt.Sprintf("#%d.#%d // %s.%s:%s", e.ClassIndex, e.NameAndTypeIndex, className, name, descriptor)
	case *ConstantNameAndTypeInfo:
		name, descriptor := cp.GetNameAndType(index)
		return fmt.Sprintf("#%d:#%d // %s:%s", e.NameIndex, e.DescriptorIndex, name, descriptor)
	case *ConstantMethodHandleInfo:
		return fmt.Sprintf("%d:#%d", e.ReferenceKind, e.ReferenceIndex)
	case *ConstantDynamicInfo:
		name, descriptor := cp.GetNameAndType(e.NameAndTypeIndex)
		return fmt.Sprintf("#%d:#%d // %s:%s", e.BootstrapMethodAttrIndex, e.NameAndTypeIndex, name, descriptor)
	default:
		return strings.ToLower(e.Tag().String())
	}
}
