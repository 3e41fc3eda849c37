package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFormat reports a structurally malformed class file.
var ErrFormat = errors.New("malformed class file")

// reader walks a class file buffer. The first failure sticks; later reads
// return zero values so callers can check err once per group of reads.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrFormat, n, r.off, len(r.data)-r.off)
		return false
	}
	return true
}

func (r *reader) readU1() uint8 {
	if !r.need(1) {
		return 0
	}
	b := r.data[r.off]
	r.off++
	return b
}

func (r *reader) readU2() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *reader) readU4() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *reader) readU8() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

// readBytes copies n bytes so parsed values never alias a buffer that is
// patched afterwards.
func (r *reader) readBytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	buf := make([]byte, n)
	copy(buf, r.data[r.off:])
	r.off += n
	return buf
}

// ParseConstantPool decodes only the header and the constant pool. The rest
// of the class file is not looked at.
func ParseConstantPool(data []byte) (ConstantPool, error) {
	r := &reader{data: data}
	if _, _, err := readHeader(r); err != nil {
		return nil, err
	}
	return readConstantPool(r)
}

func Parse(data []byte) (*ClassFile, error) {
	r := &reader{data: data}

	minor, major, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	cf := &ClassFile{
		MinorVersion: minor,
		MajorVersion: major,
	}

	cf.ConstantPool, err = readConstantPool(r)
	if err != nil {
		return nil, err
	}

	cf.AccessFlags = AccessFlags(r.readU2())
	cf.ThisClass = r.readU2()
	cf.SuperClass = r.readU2()

	interfacesCount := r.readU2()
	if r.err != nil {
		return nil, fmt.Errorf("failed to read class info: %w", r.err)
	}

	cf.Interfaces = make([]uint16, interfacesCount)
	for i := range cf.Interfaces {
		cf.Interfaces[i] = r.readU2()
	}
	if r.err != nil {
		return nil, fmt.Errorf("failed to read interfaces: %w", r.err)
	}

	fieldsCount := r.readU2()
	if r.err != nil {
		return nil, fmt.Errorf("failed to read fields count: %w", r.err)
	}

	cf.Fields = make([]FieldInfo, fieldsCount)
	for i := range cf.Fields {
		if err := readMember(r, cf.ConstantPool, &cf.Fields[i].member); err != nil {
			return nil, fmt.Errorf("failed to read field %d: %w", i, err)
		}
	}

	methodsCount := r.readU2()
	if r.err != nil {
		return nil, fmt.Errorf("failed to read methods count: %w", r.err)
	}

	cf.Methods = make([]MethodInfo, methodsCount)
	for i := range cf.Methods {
		if err := readMember(r, cf.ConstantPool, &cf.Methods[i].member); err != nil {
			return nil, fmt.Errorf("failed to read method %d: %w", i, err)
		}
	}

	cf.Attributes, err = readAttributes(r, cf.ConstantPool)
	if err != nil {
		return nil, fmt.Errorf("failed to read class attributes: %w", err)
	}

	return cf, nil
}

func readHeader(r *reader) (minor, major uint16, err error) {
	magic := r.readU4()
	if r.err != nil {
		return 0, 0, fmt.Errorf("failed to read magic: %w", r.err)
	}
	if magic != Magic {
		return 0, 0, fmt.Errorf("%w: invalid magic number 0x%X (expected 0xCAFEBABE)", ErrFormat, magic)
	}
	minor = r.readU2()
	major = r.readU2()
	if r.err != nil {
		return 0, 0, fmt.Errorf("failed to read version: %w", r.err)
	}
	return minor, major, nil
}

func readConstantPool(r *reader) (ConstantPool, error) {
	count := r.readU2()
	if r.err != nil {
		return nil, fmt.Errorf("failed to read constant pool count: %w", r.err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: constant pool count is 0", ErrFormat)
	}

	cp := make(ConstantPool, count)
	for i := uint16(1); i < count; i++ {
		entry, wide, err := readConstantPoolEntry(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read constant pool entry %d: %w", i, err)
		}
		cp[i] = entry
		if !wide {
			continue
		}
		if i+1 >= count {
			return nil, fmt.Errorf("%w: %s entry %d needs two slots but constant pool count is %d",
				ErrFormat, entry.Tag(), i, count)
		}
		i++
		cp[i] = &ConstantUnusableInfo{spanned{Span{Offset: r.off}}}
	}
	return cp, nil
}

// readConstantPoolEntry reads one tagged entry. The bool result is true for
// Long and Double, which take up two pool slots.
func readConstantPoolEntry(r *reader) (ConstantPoolEntry, bool, error) {
	start := r.off
	tag := ConstantTag(r.readU1())
	if r.err != nil {
		return nil, false, r.err
	}

	var (
		entry ConstantPoolEntry
		wide  bool
	)

	switch tag {
	case ConstantUtf8:
		length := r.readU2()
		entry = &ConstantUtf8Info{Value: r.readBytes(int(length))}

	case ConstantInteger, ConstantFloat:
		entry = &ConstantScalarInfo{Kind: tag, Bits: r.readU4()}

	case ConstantLong, ConstantDouble:
		entry = &ConstantWideInfo{Kind: tag, Bits: r.readU8()}
		wide = true

	case ConstantClass, ConstantString, ConstantMethodType, ConstantModule, ConstantPackage:
		entry = &ConstantRefInfo{Kind: tag, Index: r.readU2()}

	case ConstantFieldref, ConstantMethodref, ConstantInterfaceMethodref:
		classIndex := r.readU2()
		nameAndTypeIndex := r.readU2()
		entry = &ConstantMemberRefInfo{
			Kind:             tag,
			ClassIndex:       classIndex,
			NameAndTypeIndex: nameAndTypeIndex,
		}

	case ConstantNameAndType:
		nameIndex := r.readU2()
		descriptorIndex := r.readU2()
		entry = &ConstantNameAndTypeInfo{
			NameIndex:       nameIndex,
			DescriptorIndex: descriptorIndex,
		}

	case ConstantMethodHandle:
		referenceKind := MethodHandleKind(r.readU1())
		referenceIndex := r.readU2()
		entry = &ConstantMethodHandleInfo{
			ReferenceKind:  referenceKind,
			ReferenceIndex: referenceIndex,
		}

	case ConstantDynamic, ConstantInvokeDynamic:
		bootstrapMethodAttrIndex := r.readU2()
		nameAndTypeIndex := r.readU2()
		entry = &ConstantDynamicInfo{
			Kind:                     tag,
			BootstrapMethodAttrIndex: bootstrapMethodAttrIndex,
			NameAndTypeIndex:         nameAndTypeIndex,
		}

	default:
		return nil, false, fmt.Errorf("%w: unknown constant pool tag %d at offset %d", ErrFormat, uint8(tag), start)
	}

	if r.err != nil {
		return nil, false, r.err
	}
	entry.setSpan(Span{Offset: start, Length: r.off - start})
	return entry, wide, nil
}

func readMember(r *reader, cp ConstantPool, m *member) error {
	m.AccessFlags = AccessFlags(r.readU2())
	m.NameIndex = r.readU2()
	m.DescriptorIndex = r.readU2()
	if r.err != nil {
		return r.err
	}
	attrs, err := readAttributes(r, cp)
	if err != nil {
		return err
	}
	m.Attributes = attrs
	return nil
}

func readAttributes(r *reader, cp ConstantPool) ([]AttributeInfo, error) {
	count := r.readU2()
	if r.err != nil {
		return nil, r.err
	}
	attrs := make([]AttributeInfo, count)
	for i := range attrs {
		if err := readAttributeInfo(r, cp, &attrs[i]); err != nil {
			return nil, fmt.Errorf("attribute %d: %w", i, err)
		}
	}
	return attrs, nil
}

func readAttributeInfo(r *reader, cp ConstantPool, attr *AttributeInfo) error {
	attr.NameIndex = r.readU2()
	length := r.readU4()
	if r.err != nil {
		return r.err
	}
	attr.Offset = r.off
	attr.Info = r.readBytes(int(length))
	if r.err != nil {
		return r.err
	}

	switch cp.GetUtf8String(attr.NameIndex) {
	case "Code":
		code, err := parseCodeAttribute(attr.Info, attr.Offset)
		if err != nil {
			return fmt.Errorf("Code: %w", err)
		}
		attr.Parsed = code
	case "SourceFile":
		attr.Parsed = parseSourceFileAttribute(attr.Info)
	}
	return nil
}

func decodeModifiedUtf8(bytes []byte) string {
	runes := make([]rune, 0, len(bytes))
	i := 0
	for i < len(bytes) {
		b := bytes[i]
		if b&0x80 == 0 {
			runes = append(runes, rune(b))
			i++
		} else if b&0xE0 == 0xC0 {
			if i+1 >= len(bytes) {
				break
			}
			runes = append(runes, rune(b&0x1F)<<6|rune(bytes[i+1]&0x3F))
			i += 2
		} else if b&0xF0 == 0xE0 {
			if i+2 >= len(bytes) {
				break
			}
			r := rune(b&0x0F)<<12 | rune(bytes[i+1]&0x3F)<<6 | rune(bytes[i+2]&0x3F)
			// Supplementary characters are stored as a surrogate pair of
			// three-byte sequences.
			if r >= 0xD800 && r <= 0xDBFF && i+5 < len(bytes) && bytes[i+3] == 0xED {
				low := rune(bytes[i+3]&0x0F)<<12 | rune(bytes[i+4]&0x3F)<<6 | rune(bytes[i+5]&0x3F)
				if low >= 0xDC00 && low <= 0xDFFF {
					runes = append(runes, 0x10000+((r-0xD800)<<10)+(low-0xDC00))
					i += 6
					continue
				}
			}
			runes = append(runes, r)
			i += 3
		} else {
			runes = append(runes, rune(b))
			i++
		}
	}
	return string(runes)
}
