package classfile

import (
	"fmt"
	"strings"
)

const (
	Magic = 0xCAFEBABE

	// constantPoolOffset is where the first constant pool entry starts:
	// magic (4), minor (2), major (2), constant_pool_count (2).
	constantPoolOffset = 10
)

type AccessFlags uint16

const (
	AccPublic     AccessFlags = 0x0001
	AccPrivate    AccessFlags = 0x0002
	AccProtected  AccessFlags = 0x0004
	AccStatic     AccessFlags = 0x0008
	AccFinal      AccessFlags = 0x0010
	AccSuper      AccessFlags = 0x0020
	AccInterface  AccessFlags = 0x0200
	AccAbstract   AccessFlags = 0x0400
	AccSynthetic  AccessFlags = 0x1000
	AccAnnotation AccessFlags = 0x2000
	AccEnum       AccessFlags = 0x4000
	AccModule     AccessFlags = 0x8000
)

var classFlagNames = []struct {
	flag AccessFlags
	name string
}{
	{AccPublic, "public"},
	{AccFinal, "final"},
	{AccSuper, "super"},
	{AccInterface, "interface"},
	{AccAbstract, "abstract"},
	{AccSynthetic, "synthetic"},
	{AccAnnotation, "annotation"},
	{AccEnum, "enum"},
	{AccModule, "module"},
}

// ClassString renders the flags as they apply to a class declaration.
func (f AccessFlags) ClassString() string {
	var names []string
	for _, fn := range classFlagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, " ")
}

type ConstantTag uint8

const (
	// ConstantUnusable never appears in a class file. It tags the slot that
	// follows a Long or Double entry.
	ConstantUnusable ConstantTag = 0

	ConstantUtf8               ConstantTag = 1
	ConstantInteger            ConstantTag = 3
	ConstantFloat              ConstantTag = 4
	ConstantLong               ConstantTag = 5
	ConstantDouble             ConstantTag = 6
	ConstantClass              ConstantTag = 7
	ConstantString             ConstantTag = 8
	ConstantFieldref           ConstantTag = 9
	ConstantMethodref          ConstantTag = 10
	ConstantInterfaceMethodref ConstantTag = 11
	ConstantNameAndType        ConstantTag = 12
	ConstantMethodHandle       ConstantTag = 15
	ConstantMethodType         ConstantTag = 16
	ConstantDynamic            ConstantTag = 17
	ConstantInvokeDynamic      ConstantTag = 18
	ConstantModule             ConstantTag = 19
	ConstantPackage            ConstantTag = 20
)

var constantTagNames = map[ConstantTag]string{
	ConstantUnusable:           "Unusable",
	ConstantUtf8:               "Utf8",
	ConstantInteger:            "Integer",
	ConstantFloat:              "Float",
	ConstantLong:               "Long",
	ConstantDouble:             "Double",
	ConstantClass:              "Class",
	ConstantString:             "String",
	ConstantFieldref:           "Fieldref",
	ConstantMethodref:          "Methodref",
	ConstantInterfaceMethodref: "InterfaceMethodref",
	ConstantNameAndType:        "NameAndType",
	ConstantMethodHandle:       "MethodHandle",
	ConstantMethodType:         "MethodType",
	ConstantDynamic:            "Dynamic",
	ConstantInvokeDynamic:      "InvokeDynamic",
	ConstantModule:             "Module",
	ConstantPackage:            "Package",
}

func (t ConstantTag) String() string {
	if name, ok := constantTagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

type MethodHandleKind uint8

const (
	RefGetField         MethodHandleKind = 1
	RefGetStatic        MethodHandleKind = 2
	RefPutField         MethodHandleKind = 3
	RefPutStatic        MethodHandleKind = 4
	RefInvokeVirtual    MethodHandleKind = 5
	RefInvokeStatic     MethodHandleKind = 6
	RefInvokeSpecial    MethodHandleKind = 7
	RefNewInvokeSpecial MethodHandleKind = 8
	RefInvokeInterface  MethodHandleKind = 9
)

// Opcode is a single JVM instruction opcode.
type Opcode uint8

const (
	OpIconst0       Opcode = 0x03
	OpIconst1       Opcode = 0x04
	OpIconst2       Opcode = 0x05
	OpIconst3       Opcode = 0x06
	OpIconst4       Opcode = 0x07
	OpIconst5       Opcode = 0x08
	OpInvokevirtual Opcode = 0xb6
)

// MaxIconst is the largest value with a dedicated iconst_<n> opcode.
const MaxIconst = 5

// IconstOpcode returns the iconst_<n> opcode that pushes n. Only 0..5 have
// a single-byte form (iconst_m1 is not part of this family here).
func IconstOpcode(n int) (Opcode, bool) {
	if n < 0 || n > MaxIconst {
		return 0, false
	}
	return OpIconst0 + Opcode(n), true
}
