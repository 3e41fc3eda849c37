// Package patch rewrites bytes of a class file in place. Every edit keeps the
// buffer length unchanged, so nothing else in the file has to move.
package patch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/hispeedtriggercam/classpatch/classfile"
)

// Scope limits where a pattern may match. The zero value searches the whole
// buffer, which is the historical behaviour and may hit a byte run that only
// happens to look like the pattern.
type Scope struct {
	spans   []classfile.Span
	limited bool
}

// Unscoped searches the whole buffer.
var Unscoped = Scope{}

// Within restricts matches to lie entirely inside one of spans.
func Within(spans ...classfile.Span) Scope {
	sorted := slices.Clone(spans)
	slices.SortFunc(sorted, func(a, b classfile.Span) int { return a.Offset - b.Offset })
	return Scope{spans: sorted, limited: true}
}

func (s Scope) Limited() bool { return s.limited }

// find returns the offset of the first match in buffer order, or -1.
func (s Scope) find(buf, pattern []byte) int {
	if !s.limited {
		return bytes.Index(buf, pattern)
	}
	for _, span := range s.spans {
		start, end := span.Offset, span.End()
		if start < 0 || end > len(buf) || start >= end {
			continue
		}
		if i := bytes.Index(buf[start:end], pattern); i >= 0 {
			return start + i
		}
	}
	return -1
}

// IntegerPattern is the byte run of a CONSTANT_Integer entry holding v.
func IntegerPattern(v int32) []byte {
	return binary.BigEndian.AppendUint32([]byte{byte(classfile.ConstantInteger)}, uint32(v))
}

// ReplaceInt finds the first CONSTANT_Integer entry holding oldValue and
// overwrites its four value bytes with newValue. It returns the offset of the
// entry's tag byte.
func ReplaceInt(buf []byte, oldValue, newValue int32, scope Scope) (int, error) {
	pattern := IntegerPattern(oldValue)
	pos := scope.find(buf, pattern)
	if pos < 0 {
		return -1, fmt.Errorf("%w: integer constant %d (% X)", ErrPatternNotFound, oldValue, pattern)
	}
	binary.BigEndian.PutUint32(buf[pos+1:], uint32(newValue))
	return pos, nil
}

// PushBeforeInvokePattern is iconst_<n> followed by invokevirtual #methodref.
func PushBeforeInvokePattern(methodref uint16, n int) ([]byte, error) {
	op, ok := classfile.IconstOpcode(n)
	if !ok {
		return nil, WrapConfig("iconst operand %d outside 0..%d", n, classfile.MaxIconst)
	}
	return binary.BigEndian.AppendUint16([]byte{byte(op), byte(classfile.OpInvokevirtual)}, methodref), nil
}

// ReplacePushBeforeInvoke swaps the iconst_<from> that directly precedes
// invokevirtual #methodref for iconst_<to>. Only the first occurrence is
// changed and only its opcode byte is written. The returned offset is that
// of the iconst instruction.
func ReplacePushBeforeInvoke(buf []byte, methodref uint16, from, to int, scope Scope) (int, error) {
	pattern, err := PushBeforeInvokePattern(methodref, from)
	if err != nil {
		return -1, err
	}
	newOp, ok := classfile.IconstOpcode(to)
	if !ok {
		return -1, WrapConfig("iconst operand %d outside 0..%d", to, classfile.MaxIconst)
	}

	pos := scope.find(buf, pattern)
	if pos < 0 {
		return -1, fmt.Errorf("%w: iconst_%d before invokevirtual #%d", ErrOptionalPatternNotFound, from, methodref)
	}
	buf[pos] = byte(newOp)
	return pos, nil
}

// TextPair is a same-length byte substitution.
type TextPair struct {
	Old []byte
	New []byte
}

func (p TextPair) Validate() error {
	if len(p.Old) == 0 {
		return WrapConfig("text replacement has an empty search string")
	}
	if len(p.Old) != len(p.New) {
		return WrapConfig("text replacement %q -> %q changes length (%d != %d)", p.Old, p.New, len(p.Old), len(p.New))
	}
	return nil
}

func (p TextPair) String() string {
	return fmt.Sprintf("%q -> %q", p.Old, p.New)
}

// ReplaceText overwrites the first occurrence of pair.Old with pair.New.
func ReplaceText(buf []byte, pair TextPair) (int, error) {
	if err := pair.Validate(); err != nil {
		return -1, err
	}
	pos := bytes.Index(buf, pair.Old)
	if pos < 0 {
		return -1, fmt.Errorf("%w: string %q", ErrOptionalPatternNotFound, pair.Old)
	}
	copy(buf[pos:], pair.New)
	return pos, nil
}
