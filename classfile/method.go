package classfile

type MethodInfo struct {
	member
}

func (m *MethodInfo) GetCodeAttribute(cp ConstantPool) *CodeAttribute {
	attr := m.GetAttribute(cp, "Code")
	if attr == nil {
		return nil
	}
	return attr.AsCode()
}

func (m *MethodInfo) IsConstructor(cp ConstantPool) bool {
	return m.Name(cp) == "<init>"
}

func (m *MethodInfo) ParsedDescriptor(cp ConstantPool) *MethodDescriptor {
	return ParseMethodDescriptor(m.Descriptor(cp))
}
