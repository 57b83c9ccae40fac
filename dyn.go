package freight

// normalizeDyn coerces a decoded value tree into the dynamic cell model.
// MessagePack decoders hand back map[any]any for some map encodings; the
// cell model requires string-keyed maps all the way down.
func normalizeDyn(v any) any {
	switch m := v.(type) {
	case map[string]any:
		for k, inner := range m {
			m[k] = normalizeDyn(inner)
		}
		return m
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, inner := range m {
			key, ok := k.(string)
			if !ok {
				continue
			}
			out[key] = normalizeDyn(inner)
		}
		return out
	case []any:
		for i, inner := range m {
			m[i] = normalizeDyn(inner)
		}
		return m
	}
	return v
}

// normalizeSnapshotCells normalizes every cell of a decoded snapshot
func normalizeSnapshotCells(s *ArchetypeSnapshot) {
	for _, col := range s.Columns {
		for i, cell := range col {
			col[i] = normalizeDyn(cell)
		}
	}
}
