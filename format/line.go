package format

import (
	"fmt"
	"io"
	"strings"

	"github.com/hispeedtriggercam/classpatch/classfile"
)

type LineEncoder struct {
	w      io.Writer
	report *ClassReport
}

func NewLineEncoder(w io.Writer) *LineEncoder {
	return &LineEncoder{w: w}
}

func (e *LineEncoder) Encode(report *ClassReport) error {
	e.report = report
	text, err := e.MarshalText()
	if err != nil {
		return err
	}
	_, err = e.w.Write(text)
	return err
}

// MarshalText writes one tab-separated record per line, the record kind
// first, so the output can be filtered with grep and cut.
func (e *LineEncoder) MarshalText() ([]byte, error) {
	var sb strings.Builder
	r := e.report
	c := r.Class
	cp := c.ConstantPool

	fmt.Fprintf(&sb, "class\t%s\t%s\t%s\n", c.ClassName(), c.Version(), orDash(c.AccessFlags.ClassString()))
	fmt.Fprintf(&sb, "entry\t%s\t%d\n", r.Entry, r.Size)
	if super := c.SuperClassName(); super != "" {
		fmt.Fprintf(&sb, "super\t%s\n", super)
	}
	for _, iface := range c.InterfaceNames() {
		fmt.Fprintf(&sb, "interface\t%s\n", iface)
	}

	region := cp.Region()
	fmt.Fprintf(&sb, "pool\t%d\t%d\t%d\n", len(cp), region.Offset, region.Length)
	for i := 1; i < len(cp); i++ {
		entry := cp[i]
		if entry.Tag() == classfile.ConstantUnusable {
			continue
		}
		fmt.Fprintf(&sb, "const\t#%d\t%s\t%s\t%s\n", i, entry.Tag(), entry.Span(), cp.Describe(uint16(i)))
	}

	for _, m := range c.Methods {
		codeSpan := "-"
		if code := m.GetCodeAttribute(cp); code != nil {
			codeSpan = code.CodeSpan().String()
		}
		fmt.Fprintf(&sb, "method\t%s\t%s\t%s\n", m.Name(cp), m.Descriptor(cp), codeSpan)
	}

	for _, site := range r.Integers {
		fmt.Fprintf(&sb, "integer\t#%d\t%d\t0x%x\n", site.Index, site.Value, site.Offset)
	}
	for _, ref := range r.Methodrefs {
		fmt.Fprintf(&sb, "methodref\t#%d\t%s.%s%s\n", ref.Index, ref.Class, r.Method, ref.Descriptor)
		for _, call := range ref.Calls {
			fmt.Fprintf(&sb, "call\t#%d\ticonst_%d\t0x%x\t%s\n", ref.Index, call.Push, call.Offset, call.Method)
		}
	}

	return []byte(sb.String()), nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
