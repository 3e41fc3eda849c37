package classfile

// member is the shape shared by field_info and method_info.
type member struct {
	AccessFlags     AccessFlags
	NameIndex       uint16
	DescriptorIndex uint16
	Attributes      []AttributeInfo
}

func (m *member) Name(cp ConstantPool) string {
	return cp.GetUtf8String(m.NameIndex)
}

func (m *member) Descriptor(cp ConstantPool) string {
	return cp.GetUtf8String(m.DescriptorIndex)
}

func (m *member) GetAttribute(cp ConstantPool, name string) *AttributeInfo {
	return findAttribute(cp, m.Attributes, name)
}

type FieldInfo struct {
	member
}

func (f *FieldInfo) ParsedDescriptor(cp ConstantPool) *FieldType {
	return ParseFieldDescriptor(f.Descriptor(cp))
}
