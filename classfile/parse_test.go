package classfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/hispeedtriggercam/classpatch/classfile/classfiletest"
)

func TestParseConstantPool(t *testing.T) {
	b := classfiletest.New()
	utf8Idx := b.Utf8("hello")
	intIdx := b.Integer(12000000)
	floatIdx := b.Float(1.5)
	longIdx := b.Long(1 << 40)
	doubleIdx := b.Double(2.25)
	stringIdx := b.String("mediaRecorder prepare done!")
	methodrefIdx := b.Methodref("android/media/MediaRecorder", "setVideoEncoder", "(I)V")
	fieldrefIdx := b.Fieldref("com/example/Foo", "bar", "I")
	ifaceIdx := b.InterfaceMethodref("java/lang/Runnable", "run", "()V")
	handleIdx := b.MethodHandle(byte(RefInvokeStatic), methodrefIdx)
	typeIdx := b.MethodType("(I)V")
	indyIdx := b.InvokeDynamic(0, "run", "()Ljava/lang/Runnable;")
	tailIdx := b.Utf8("tail")
	data := b.Bytes()

	cp, err := ParseConstantPool(data)
	if err != nil {
		t.Fatalf("Failed to parse constant pool: %v", err)
	}

	t.Run("count", func(t *testing.T) {
		if len(cp) != int(b.Count()) {
			t.Fatalf("len(cp) = %d, want %d", len(cp), b.Count())
		}
		if cp[0] != nil {
			t.Error("slot 0 must stay empty")
		}
	})

	t.Run("entry types", func(t *testing.T) {
		tests := []struct {
			index uint16
			tag   ConstantTag
		}{
			{utf8Idx, ConstantUtf8},
			{intIdx, ConstantInteger},
			{floatIdx, ConstantFloat},
			{longIdx, ConstantLong},
			{longIdx + 1, ConstantUnusable},
			{doubleIdx, ConstantDouble},
			{doubleIdx + 1, ConstantUnusable},
			{stringIdx, ConstantString},
			{methodrefIdx, ConstantMethodref},
			{fieldrefIdx, ConstantFieldref},
			{ifaceIdx, ConstantInterfaceMethodref},
			{handleIdx, ConstantMethodHandle},
			{typeIdx, ConstantMethodType},
			{indyIdx, ConstantInvokeDynamic},
			{tailIdx, ConstantUtf8},
		}
		for _, tt := range tests {
			entry := cp.Entry(tt.index)
			if entry == nil {
				t.Errorf("entry %d is nil", tt.index)
				continue
			}
			if entry.Tag() != tt.tag {
				t.Errorf("entry %d tag = %s, want %s", tt.index, entry.Tag(), tt.tag)
			}
		}
	})

	t.Run("values", func(t *testing.T) {
		if got, ok := cp.GetInteger(intIdx); !ok || got != 12000000 {
			t.Errorf("GetInteger() = %d, %v, want 12000000, true", got, ok)
		}
		if got := cp.Entry(floatIdx).(*ConstantScalarInfo).Float(); got != 1.5 {
			t.Errorf("Float() = %v, want 1.5", got)
		}
		if got := cp.Entry(longIdx).(*ConstantWideInfo).Long(); got != 1<<40 {
			t.Errorf("Long() = %d, want %d", got, int64(1<<40))
		}
		if got := cp.Entry(doubleIdx).(*ConstantWideInfo).Double(); got != 2.25 {
			t.Errorf("Double() = %v, want 2.25", got)
		}
		className, name, descriptor := cp.GetMemberRef(methodrefIdx)
		if className != "android/media/MediaRecorder" || name != "setVideoEncoder" || descriptor != "(I)V" {
			t.Errorf("GetMemberRef() = %q, %q, %q", className, name, descriptor)
		}
		if got := cp.GetUtf8String(tailIdx); got != "tail" {
			t.Errorf("GetUtf8String(tail) = %q, want %q", got, "tail")
		}
	})

	t.Run("spans cover the region exactly", func(t *testing.T) {
		region := cp.Region()
		if region.Offset != constantPoolOffset {
			t.Errorf("region offset = %d, want %d", region.Offset, constantPoolOffset)
		}
		if region.Length != len(b.PoolBytes()) {
			t.Errorf("region length = %d, want %d", region.Length, len(b.PoolBytes()))
		}

		sum := 0
		next := region.Offset
		for i := 1; i < len(cp); i++ {
			span := cp[i].Span()
			if span.Offset != next {
				t.Fatalf("entry %d starts at %d, want %d", i, span.Offset, next)
			}
			sum += span.Length
			next = span.End()
		}
		if sum != region.Length {
			t.Errorf("sum of spans = %d, want %d", sum, region.Length)
		}
		if got := binary.BigEndian.Uint16(data[region.End():]); got != 0x0021 {
			t.Errorf("access flags after pool = 0x%04x, want 0x0021", got)
		}
	})

	t.Run("integer span holds tag and value", func(t *testing.T) {
		span := cp.Entry(intIdx).Span()
		want := []byte{0x03, 0x00, 0xB7, 0x1B, 0x00}
		if got := data[span.Offset:span.End()]; !bytes.Equal(got, want) {
			t.Errorf("bytes = % x, want % x", got, want)
		}
		spans := cp.SpansOf(ConstantInteger)
		if len(spans) != 1 || spans[0] != span {
			t.Errorf("SpansOf(Integer) = %v, want [%v]", spans, span)
		}
	})
}

func TestWideEntryKeepsIndicesAligned(t *testing.T) {
	b := classfiletest.New()
	b.Long(-1)
	b.Double(0.5)
	afterIdx := b.Utf8("after")
	if afterIdx != 5 {
		t.Fatalf("builder placed Utf8 at %d, want 5", afterIdx)
	}

	cp, err := ParseConstantPool(b.Bytes())
	if err != nil {
		t.Fatalf("Failed to parse constant pool: %v", err)
	}
	if got := cp.GetUtf8String(afterIdx); got != "after" {
		t.Errorf("GetUtf8String(%d) = %q, want %q", afterIdx, got, "after")
	}
	placeholder := cp.Entry(2)
	if _, ok := placeholder.(*ConstantUnusableInfo); !ok {
		t.Fatalf("entry 2 = %T, want *ConstantUnusableInfo", placeholder)
	}
	if placeholder.Span().Length != 0 || placeholder.Span().Offset != cp.Entry(1).Span().End() {
		t.Errorf("placeholder span = %v, want empty span at %d", placeholder.Span(), cp.Entry(1).Span().End())
	}
}

func TestParseConstantPoolErrors(t *testing.T) {
	t.Run("unknown tag", func(t *testing.T) {
		b := classfiletest.New()
		b.Utf8("ok")
		b.Raw(2, 0x00, 0x00)
		b.Utf8("never reached")

		_, err := ParseConstantPool(b.Bytes())
		if !errors.Is(err, ErrFormat) {
			t.Fatalf("err = %v, want ErrFormat", err)
		}
		if !strings.Contains(err.Error(), "unknown constant pool tag 2") {
			t.Errorf("error %q does not name the tag", err)
		}
		if !strings.Contains(err.Error(), "entry 2") {
			t.Errorf("error %q does not name the slot", err)
		}
	})

	t.Run("bad magic", func(t *testing.T) {
		data := classfiletest.New().Bytes()
		data[0] = 0xCB
		if _, err := ParseConstantPool(data); !errors.Is(err, ErrFormat) {
			t.Errorf("err = %v, want ErrFormat", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		b := classfiletest.New()
		b.Utf8("a rather long string")
		data := b.Bytes()
		if _, err := ParseConstantPool(data[:constantPoolOffset+5]); !errors.Is(err, ErrFormat) {
			t.Errorf("err = %v, want ErrFormat", err)
		}
	})

	t.Run("zero count", func(t *testing.T) {
		data := classfiletest.New().Bytes()
		binary.BigEndian.PutUint16(data[8:], 0)
		if _, err := ParseConstantPool(data); !errors.Is(err, ErrFormat) {
			t.Errorf("err = %v, want ErrFormat", err)
		}
	})

	t.Run("wide entry in last slot", func(t *testing.T) {
		b := classfiletest.New()
		b.Long(7)
		data := b.Bytes()
		binary.BigEndian.PutUint16(data[8:], b.Count()-1)
		if _, err := ParseConstantPool(data); !errors.Is(err, ErrFormat) {
			t.Errorf("err = %v, want ErrFormat", err)
		}
	})

	t.Run("empty pool", func(t *testing.T) {
		cp, err := ParseConstantPool(classfiletest.New().Bytes())
		if err != nil {
			t.Fatalf("Failed to parse empty pool: %v", err)
		}
		if len(cp) != 1 {
			t.Errorf("len(cp) = %d, want 1", len(cp))
		}
		if region := cp.Region(); region.Length != 0 {
			t.Errorf("Region() = %v, want empty", region)
		}
	})
}

func TestParseCodeAttributeLength(t *testing.T) {
	codeInfo := func(length uint32, code ...byte) []byte {
		info := []byte{0x00, 0x01, 0x00, 0x01}
		info = binary.BigEndian.AppendUint32(info, length)
		info = append(info, code...)
		return append(info, 0x00, 0x00, 0x00, 0x00)
	}

	t.Run("fits", func(t *testing.T) {
		code, err := parseCodeAttribute(codeInfo(2, 0x05, 0xb1), 100)
		if err != nil {
			t.Fatalf("Failed to parse Code attribute: %v", err)
		}
		if !bytes.Equal(code.Code, []byte{0x05, 0xb1}) {
			t.Errorf("Code = % x, want 05 b1", code.Code)
		}
		if code.CodeOffset != 108 {
			t.Errorf("CodeOffset = %d, want 108", code.CodeOffset)
		}
	})

	tests := []struct {
		name   string
		length uint32
	}{
		{"past end", 64},
		{"high bit set", 0x80000000},
		{"max u4", 0xFFFFFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseCodeAttribute(codeInfo(tt.length, 0xb1), 0)
			if !errors.Is(err, ErrFormat) {
				t.Errorf("err = %v, want ErrFormat", err)
			}
		})
	}
}

func TestParseClassFile(t *testing.T) {
	b := classfiletest.New()
	b.SetClass("com/huawei/camerakit/impl/c", "java/lang/Object")
	ref := b.Methodref("android/media/MediaRecorder", "setVideoEncoder", "(I)V")
	code := append([]byte{0x2a, 0x05}, classfiletest.InvokeVirtual(ref)...)
	code = append(code, 0xb1)
	b.Method("prepare", "()V", code)
	b.Method("<init>", "()V", []byte{0xb1})
	data := b.Bytes()

	cf, err := Parse(data)
	if err != nil {
		t.Fatalf("Failed to parse class file: %v", err)
	}

	t.Run("class name", func(t *testing.T) {
		if got := cf.ClassName(); got != "com/huawei/camerakit/impl/c" {
			t.Errorf("ClassName() = %q", got)
		}
		if got := cf.SuperClassName(); got != "java/lang/Object" {
			t.Errorf("SuperClassName() = %q", got)
		}
		if got := cf.Version(); got != "52.0" {
			t.Errorf("Version() = %q, want %q", got, "52.0")
		}
		if got := cf.AccessFlags.ClassString(); got != "public super" {
			t.Errorf("ClassString() = %q, want %q", got, "public super")
		}
	})

	t.Run("methods", func(t *testing.T) {
		if len(cf.Methods) != 2 {
			t.Fatalf("Expected 2 methods, got %d", len(cf.Methods))
		}
		prepare := cf.GetMethods("prepare")
		if len(prepare) != 1 {
			t.Fatalf("Expected 1 prepare method, got %d", len(prepare))
		}
		codeAttr := prepare[0].GetCodeAttribute(cf.ConstantPool)
		if codeAttr == nil {
			t.Fatal("Expected prepare to have Code attribute")
		}
		if !bytes.Equal(codeAttr.Code, code) {
			t.Errorf("Code = % x, want % x", codeAttr.Code, code)
		}
		if !cf.Methods[1].IsConstructor(cf.ConstantPool) {
			t.Error("Expected second method to be a constructor")
		}
	})

	t.Run("code spans point into the buffer", func(t *testing.T) {
		spans := cf.CodeSpans()
		if len(spans) != 2 {
			t.Fatalf("Expected 2 code spans, got %d", len(spans))
		}
		if got := data[spans[0].Offset:spans[0].End()]; !bytes.Equal(got, code) {
			t.Errorf("bytes at code span = % x, want % x", got, code)
		}
		if got := data[spans[1].Offset:spans[1].End()]; !bytes.Equal(got, []byte{0xb1}) {
			t.Errorf("bytes at second code span = % x", got)
		}
	})

	t.Run("truncated after pool", func(t *testing.T) {
		region := cf.ConstantPool.Region()
		if _, err := Parse(data[:region.End()+3]); !errors.Is(err, ErrFormat) {
			t.Errorf("err = %v, want ErrFormat", err)
		}
	})
}

func TestFindMethodref(t *testing.T) {
	t.Run("single match", func(t *testing.T) {
		b := classfiletest.New()
		b.Methodref("java/lang/Object", "<init>", "()V")
		want := b.Methodref("android/media/MediaRecorder", "setVideoEncoder", "(I)V")
		cp, err := ParseConstantPool(b.Bytes())
		if err != nil {
			t.Fatalf("Failed to parse constant pool: %v", err)
		}
		got, ok := FindMethodref(cp, []byte("setVideoEncoder"))
		if !ok || got != want {
			t.Errorf("FindMethodref() = %d, %v, want %d, true", got, ok, want)
		}
	})

	t.Run("first match wins", func(t *testing.T) {
		b := classfiletest.New()
		first := b.Methodref("android/media/MediaRecorder", "setVideoEncoder", "(I)V")
		second := b.Methodref("com/huawei/Recorder", "setVideoEncoder", "(J)V")
		cp, err := ParseConstantPool(b.Bytes())
		if err != nil {
			t.Fatalf("Failed to parse constant pool: %v", err)
		}
		got, ok := FindMethodref(cp, []byte("setVideoEncoder"))
		if !ok || got != first {
			t.Errorf("FindMethodref() = %d, %v, want %d, true", got, ok, first)
		}
		candidates := MethodrefCandidates(cp, []byte("setVideoEncoder"))
		if len(candidates) != 2 || candidates[0] != first || candidates[1] != second {
			t.Errorf("MethodrefCandidates() = %v, want [%d %d]", candidates, first, second)
		}
	})

	t.Run("not a method reference", func(t *testing.T) {
		b := classfiletest.New()
		b.Fieldref("com/example/Foo", "setVideoEncoder", "I")
		b.InterfaceMethodref("com/example/Encoder", "setVideoEncoder", "(I)V")
		cp, err := ParseConstantPool(b.Bytes())
		if err != nil {
			t.Fatalf("Failed to parse constant pool: %v", err)
		}
		if got, ok := FindMethodref(cp, []byte("setVideoEncoder")); ok {
			t.Errorf("FindMethodref() = %d, want no match", got)
		}
	})

	t.Run("name absent", func(t *testing.T) {
		b := classfiletest.New()
		b.Methodref("java/lang/Object", "<init>", "()V")
		cp, err := ParseConstantPool(b.Bytes())
		if err != nil {
			t.Fatalf("Failed to parse constant pool: %v", err)
		}
		if _, ok := FindMethodref(cp, []byte("setVideoEncoder")); ok {
			t.Error("FindMethodref() found a method that is not in the pool")
		}
	})

	t.Run("exact bytes only", func(t *testing.T) {
		b := classfiletest.New()
		b.Methodref("android/media/MediaRecorder", "setVideoEncoderBitRate", "(I)V")
		cp, err := ParseConstantPool(b.Bytes())
		if err != nil {
			t.Fatalf("Failed to parse constant pool: %v", err)
		}
		if _, ok := FindMethodref(cp, []byte("setVideoEncoder")); ok {
			t.Error("FindMethodref() matched a name prefix")
		}
	})
}

func TestDescribe(t *testing.T) {
	b := classfiletest.New()
	intIdx := b.Integer(-7)
	ref := b.Methodref("android/media/MediaRecorder", "setVideoEncoder", "(I)V")
	longIdx := b.Long(3)
	cp, err := ParseConstantPool(b.Bytes())
	if err != nil {
		t.Fatalf("Failed to parse constant pool: %v", err)
	}

	tests := []struct {
		index uint16
		want  string
	}{
		{intIdx, "-7"},
		{ref, "android/media/MediaRecorder.setVideoEncoder:(I)V"},
		{longIdx, "3l"},
		{longIdx + 1, "(unusable)"},
		{0, ""},
	}
	for _, tt := range tests {
		if got := cp.Describe(tt.index); !strings.Contains(got, tt.want) {
			t.Errorf("Describe(%d) = %q, want it to contain %q", tt.index, got, tt.want)
		}
	}
}

func TestIconstOpcode(t *testing.T) {
	for n := 0; n <= MaxIconst; n++ {
		op, ok := IconstOpcode(n)
		if !ok || op != Opcode(0x03+n) {
			t.Errorf("IconstOpcode(%d) = 0x%02x, %v", n, op, ok)
		}
	}
	for _, n := range []int{-1, 6, 100} {
		if _, ok := IconstOpcode(n); ok {
			t.Errorf("IconstOpcode(%d) should be rejected", n)
		}
	}
}

func TestParseFieldDescriptor(t *testing.T) {
	tests := []struct {
		desc       string
		baseType   string
		className  string
		arrayDepth int
		str        string
	}{
		{"I", "int", "", 0, "int"},
		{"Z", "boolean", "", 0, "boolean"},
		{"Ljava/lang/String;", "", "java/lang/String", 0, "java.lang.String"},
		{"[I", "int", "", 1, "int[]"},
		{"[[D", "double", "", 2, "double[][]"},
		{"[Ljava/lang/Object;", "", "java/lang/Object", 1, "java.lang.Object[]"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			ft := ParseFieldDescriptor(tt.desc)
			if ft == nil {
				t.Fatalf("ParseFieldDescriptor(%q) returned nil", tt.desc)
			}
			if ft.BaseType != tt.baseType {
				t.Errorf("BaseType = %q, want %q", ft.BaseType, tt.baseType)
			}
			if ft.ClassName != tt.className {
				t.Errorf("ClassName = %q, want %q", ft.ClassName, tt.className)
			}
			if ft.ArrayDepth != tt.arrayDepth {
				t.Errorf("ArrayDepth = %d, want %d", ft.ArrayDepth, tt.arrayDepth)
			}
			if got := ft.String(); got != tt.str {
				t.Errorf("String() = %q, want %q", got, tt.str)
			}
		})
	}

	for _, bad := range []string{"", "X", "L;", "Ljava/lang/String", "II"} {
		if ft := ParseFieldDescriptor(bad); ft != nil {
			t.Errorf("ParseFieldDescriptor(%q) = %+v, want nil", bad, ft)
		}
	}
}

func TestParseMethodDescriptor(t *testing.T) {
	tests := []struct {
		desc      string
		numParams int
		signature string
	}{
		{"()V", 0, "void run()"},
		{"()I", 0, "int run()"},
		{"(I)V", 1, "void run(int)"},
		{"(II)I", 2, "int run(int, int)"},
		{"(Ljava/lang/String;)V", 1, "void run(java.lang.String)"},
		{"(IDLjava/lang/Thread;)Ljava/lang/Object;", 3, "java.lang.Object run(int, double, java.lang.Thread)"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			md := ParseMethodDescriptor(tt.desc)
			if md == nil {
				t.Fatalf("ParseMethodDescriptor(%q) returned nil", tt.desc)
			}
			if len(md.Parameters) != tt.numParams {
				t.Errorf("len(Parameters) = %d, want %d", len(md.Parameters), tt.numParams)
			}
			if got := md.Signature("run"); got != tt.signature {
				t.Errorf("Signature() = %q, want %q", got, tt.signature)
			}
		})
	}

	for _, bad := range []string{"", "I", "(I", "()", "()VV", "(X)V"} {
		if md := ParseMethodDescriptor(bad); md != nil {
			t.Errorf("ParseMethodDescriptor(%q) = %+v, want nil", bad, md)
		}
	}
}

func TestDecodeModifiedUtf8(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"ascii", []byte("setVideoEncoder"), "setVideoEncoder"},
		{"two byte nul", []byte{0xC0, 0x80}, "\x00"},
		{"two byte", []byte{0xC3, 0xA9}, "é"},
		{"three byte", []byte{0xE2, 0x82, 0xAC}, "€"},
		{"surrogate pair", []byte{0xED, 0xA0, 0xBD, 0xED, 0xB8, 0x80}, "😀"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeModifiedUtf8(tt.in); got != tt.want {
				t.Errorf("decodeModifiedUtf8(% x) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
