package format

import (
	"encoding/json"
	"io"
)

type JSONEncoder struct {
	w      io.Writer
	report *ClassReport
}

func NewJSONEncoder(w io.Writer) *JSONEncoder {
	return &JSONEncoder{w: w}
}

func (e *JSONEncoder) Encode(report *ClassReport) error {
	e.report = report
	text, err := e.MarshalText()
	if err != nil {
		return err
	}
	_, err = e.w.Write(text)
	return err
}

func (e *JSONEncoder) MarshalText() ([]byte, error) {
	data := e.buildReportData()
	return json.MarshalIndent(data, "", "  ")
}

type jsonReport struct {
	Entry      string          `json:"entry"`
	Size       int             `json:"size"`
	Class      string          `json:"class"`
	SuperClass string          `json:"superClass,omitempty"`
	Interfaces []string        `json:"interfaces,omitempty"`
	Version    jsonVersion     `json:"version"`
	Flags      string          `json:"flags,omitempty"`
	Pool       jsonPool        `json:"constantPool"`
	Methods    []jsonMethod    `json:"methods,omitempty"`
	Integers   []jsonInteger   `json:"integers,omitempty"`
	Methodrefs []jsonMethodref `json:"methodrefs,omitempty"`
}

type jsonVersion struct {
	Major uint16 `json:"major"`
	Minor uint16 `json:"minor"`
}

type jsonPool struct {
	Count   int         `json:"count"`
	Offset  int         `json:"offset"`
	Length  int         `json:"length"`
	Entries []jsonEntry `json:"entries"`
}

type jsonEntry struct {
	Index  uint16 `json:"index"`
	Tag    string `json:"tag"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	Value  string `json:"value"`
}

type jsonMethod struct {
	Name       string `json:"name"`
	Descriptor string `json:"descriptor"`
	Signature  string `json:"signature,omitempty"`
	CodeOffset int    `json:"codeOffset,omitempty"`
	CodeLength int    `json:"codeLength,omitempty"`
}

type jsonInteger struct {
	Index  uint16 `json:"index"`
	Value  int32  `json:"value"`
	Offset int    `json:"offset"`
}

type jsonMethodref struct {
	Index      uint16     `json:"index"`
	Class      string     `json:"class"`
	Name       string     `json:"name"`
	Descriptor string     `json:"descriptor"`
	Calls      []jsonCall `json:"calls,omitempty"`
}

type jsonCall struct {
	Method string `json:"method"`
	Push   int    `json:"push"`
	Offset int    `json:"offset"`
}

func (e *JSONEncoder) buildReportData() jsonReport {
	r := e.report
	c := r.Class
	cp := c.ConstantPool
	region := cp.Region()

	data := jsonReport{
		Entry:      r.Entry,
		Size:       r.Size,
		Class:      c.ClassName(),
		SuperClass: c.SuperClassName(),
		Interfaces: c.InterfaceNames(),
		Version:    jsonVersion{Major: c.MajorVersion, Minor: c.MinorVersion},
		Flags:      c.AccessFlags.ClassString(),
		Pool: jsonPool{
			Count:   len(cp),
			Offset:  region.Offset,
			Length:  region.Length,
			Entries: []jsonEntry{},
		},
	}
	if len(data.Interfaces) == 0 {
		data.Interfaces = nil
	}

	for i := 1; i < len(cp); i++ {
		span := cp[i].Span()
		data.Pool.Entries = append(data.Pool.Entries, jsonEntry{
			Index:  uint16(i),
			Tag:    cp[i].Tag().String(),
			Offset: span.Offset,
			Length: span.Length,
			Value:  cp.Describe(uint16(i)),
		})
	}

	for _, m := range c.Methods {
		jm := jsonMethod{
			Name:       m.Name(cp),
			Descriptor: m.Descriptor(cp),
		}
		if md := m.ParsedDescriptor(cp); md != nil {
			jm.Signature = md.Signature(jm.Name)
		}
		if code := m.GetCodeAttribute(cp); code != nil {
			jm.CodeOffset = code.CodeOffset
			jm.CodeLength = len(code.Code)
		}
		data.Methods = append(data.Methods, jm)
	}

	for _, site := range r.Integers {
		data.Integers = append(data.Integers, jsonInteger(site))
	}

	for _, ref := range r.Methodrefs {
		jr := jsonMethodref{
			Index:      ref.Index,
			Class:      ref.Class,
			Name:       r.Method,
			Descriptor: ref.Descriptor,
		}
		for _, call := range ref.Calls {
			jr.Calls = append(jr.Calls, jsonCall(call))
		}
		data.Methodrefs = append(data.Methodrefs, jr)
	}

	return data
}
