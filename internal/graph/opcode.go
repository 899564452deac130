package graph

// FindOpcodeIndex returns the index of the operator code matching kind and,
// for custom kinds, customCode. It returns -1 if there is none.
func (m *Model) FindOpcodeIndex(kind BuiltinOperator, customCode string) OpcodeIndex {
	for i, oc := range m.OperatorCodes {
		if oc.Builtin != kind {
			continue
		}
		if kind == OpCustom && oc.CustomCode != customCode {
			continue
		}
		return OpcodeIndex(i)
	}
	return -1
}

// FindOrCreateOpcode returns the index of the matching operator code,
// registering a new entry if none exists. Repeated calls never grow the table.
func (m *Model) FindOrCreateOpcode(kind BuiltinOperator, customCode string) OpcodeIndex {
	if idx := m.FindOpcodeIndex(kind, customCode); idx >= 0 {
		return idx
	}
	oc := OperatorCode{Builtin: kind}
	if kind == OpCustom {
		oc.CustomCode = customCode
	}
	m.OperatorCodes = append(m.OperatorCodes, oc)
	return OpcodeIndex(len(m.OperatorCodes) - 1)
}
