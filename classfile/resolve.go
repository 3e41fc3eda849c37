package classfile

import "bytes"

// FindMethodref returns the index of the Methodref entry that names the given
// method, matching the name bytes exactly and ignoring the descriptor.
//
// When several Methodref entries share the name (overloads, or the same method
// called on different classes) the first one in pool order wins. Callers that
// care about the ambiguity can inspect MethodrefCandidates.
func FindMethodref(cp ConstantPool, name []byte) (uint16, bool) {
	candidates := MethodrefCandidates(cp, name)
	if len(candidates) == 0 {
		return 0, false
	}
	return candidates[0], true
}

// MethodrefCandidates lists, in pool order, every Methodref whose NameAndType
// points at a Utf8 entry equal to name. InterfaceMethodref entries are not
// included: they are invoked with invokeinterface, not invokevirtual.
func MethodrefCandidates(cp ConstantPool, name []byte) []uint16 {
	names := make(map[uint16]struct{})
	for i, entry := range cp {
		if utf8, ok := entry.(*ConstantUtf8Info); ok && bytes.Equal(utf8.Value, name) {
			names[uint16(i)] = struct{}{}
		}
	}
	if len(names) == 0 {
		return nil
	}

	nameAndTypes := make(map[uint16]struct{})
	for i, entry := range cp {
		if nat, ok := entry.(*ConstantNameAndTypeInfo); ok {
			if _, ok := names[nat.NameIndex]; ok {
				nameAndTypes[uint16(i)] = struct{}{}
			}
		}
	}

	var refs []uint16
	for i, entry := range cp {
		ref, ok := entry.(*ConstantMemberRefInfo)
		if !ok || ref.Kind != ConstantMethodref {
			continue
		}
		if _, ok := nameAndTypes[ref.NameAndTypeIndex]; ok {
			refs = append(refs, uint16(i))
		}
	}
	return refs
}
