package classfile

import "fmt"

type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	ConstantPool ConstantPool
	AccessFlags  AccessFlags
	ThisClass    uint16
	SuperClass   uint16
	Interfaces   []uint16
	Fields       []FieldInfo
	Methods      []MethodInfo
	Attributes   []AttributeInfo
}

func (cf *ClassFile) ClassName() string {
	return cf.ConstantPool.GetClassName(cf.ThisClass)
}

func (cf *ClassFile) SuperClassName() string {
	if cf.SuperClass == 0 {
		return ""
	}
	return cf.ConstantPool.GetClassName(cf.SuperClass)
}

func (cf *ClassFile) InterfaceNames() []string {
	names := make([]string, len(cf.Interfaces))
	for i, idx := range cf.Interfaces {
		names[i] = cf.ConstantPool.GetClassName(idx)
	}
	return names
}

// Version returns the class file version as major.minor, e.g. "52.0".
func (cf *ClassFile) Version() string {
	return fmt.Sprintf("%d.%d", cf.MajorVersion, cf.MinorVersion)
}

func (cf *ClassFile) GetMethods(name string) []*MethodInfo {
	var methods []*MethodInfo
	for i := range cf.Methods {
		if cf.Methods[i].Name(cf.ConstantPool) == name {
			methods = append(methods, &cf.Methods[i])
		}
	}
	return methods
}

func (cf *ClassFile) GetAttribute(name string) *AttributeInfo {
	return findAttribute(cf.ConstantPool, cf.Attributes, name)
}

func (cf *ClassFile) SourceFile() string {
	attr := cf.GetAttribute("SourceFile")
	if attr == nil {
		return ""
	}
	if sf := attr.AsSourceFile(); sf != nil {
		return cf.ConstantPool.GetUtf8String(sf.SourceFileIndex)
	}
	return ""
}

// CodeSpans returns where each method's bytecode array sits in the class file
// buffer, in method order. Abstract and native methods contribute nothing.
func (cf *ClassFile) CodeSpans() []Span {
	var spans []Span
	for i := range cf.Methods {
		if code := cf.Methods[i].GetCodeAttribute(cf.ConstantPool); code != nil {
			spans = append(spans, code.CodeSpan())
		}
	}
	return spans
}
