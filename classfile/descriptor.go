package classfile

import "strings"

type FieldType struct {
	BaseType   string
	ClassName  string
	ArrayDepth int
}

func (ft *FieldType) String() string {
	var sb strings.Builder
	if ft.BaseType != "" {
		sb.WriteString(ft.BaseType)
	} else {
		sb.WriteString(InternalToSourceName(ft.ClassName))
	}
	for i := 0; i < ft.ArrayDepth; i++ {
		sb.WriteString("[]")
	}
	return sb.String()
}

type MethodDescriptor struct {
	Parameters []FieldType
	ReturnType *FieldType
}

// Signature renders the descriptor as a Java declaration for the given
// method name, e.g. "void setVideoEncoder(int)".
func (md *MethodDescriptor) Signature(name string) string {
	var sb strings.Builder
	if md.ReturnType != nil {
		sb.WriteString(md.ReturnType.String())
	} else {
		sb.WriteString("void")
	}
	sb.WriteString(" ")
	sb.WriteString(name)
	sb.WriteString("(")
	for i, p := range md.Parameters {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	sb.WriteString(")")
	return sb.String()
}

var baseTypes = map[byte]string{
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
	'Z': "boolean",
}

func ParseFieldDescriptor(desc string) *FieldType {
	ft, n := parseFieldType(desc, 0)
	if n != len(desc) {
		return nil
	}
	return ft
}

func ParseMethodDescriptor(desc string) *MethodDescriptor {
	if len(desc) == 0 || desc[0] != '(' {
		return nil
	}

	md := &MethodDescriptor{}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		ft, consumed := parseFieldType(desc, i)
		if ft == nil {
			return nil
		}
		md.Parameters = append(md.Parameters, *ft)
		i += consumed
	}
	if i >= len(desc) {
		return nil
	}
	i++

	switch {
	case i >= len(desc):
		return nil
	case desc[i] == 'V' && i == len(desc)-1:
		md.ReturnType = nil
	default:
		ft, consumed := parseFieldType(desc, i)
		if ft == nil || i+consumed != len(desc) {
			return nil
		}
		md.ReturnType = ft
	}
	return md
}

func parseFieldType(desc string, start int) (*FieldType, int) {
	ft := &FieldType{}
	i := start
	for i < len(desc) && desc[i] == '[' {
		ft.ArrayDepth++
		i++
	}
	if i >= len(desc) {
		return nil, 0
	}

	if base, ok := baseTypes[desc[i]]; ok {
		ft.BaseType = base
		return ft, i - start + 1
	}
	if desc[i] != 'L' {
		return nil, 0
	}
	semicolon := strings.IndexByte(desc[i:], ';')
	if semicolon <= 1 {
		return nil, 0
	}
	ft.ClassName = desc[i+1 : i+semicolon]
	return ft, i - start + semicolon + 1
}

func InternalToSourceName(name string) string {
	return strings.ReplaceAll(name, "/", ".")
}
