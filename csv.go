package freight

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ColumnarCsv is the flattened, spreadsheet-shaped form of an archetype
// snapshot. Structured cells are split into one column per subfield, named
// `<Type>.<field>`; unstructured cells keep a single `<Type>` column. The
// entity index travels in a leading `id` column.
type ColumnarCsv struct {
	Headers     []string
	Columns     [][]any
	RowIndex    []EntityID
	headerIndex map[string]int
}

// NewColumnarCsv creates an empty columnar table
func NewColumnarCsv() *ColumnarCsv {
	return &ColumnarCsv{headerIndex: make(map[string]int)}
}

// AppendColumns adds named null-filled columns
func (c *ColumnarCsv) AppendColumns(names ...string) error {
	for _, name := range names {
		if _, exists := c.headerIndex[name]; exists {
			return GenericError{Msg: "column '" + name + "' already exists"}
		}
		c.headerIndex[name] = len(c.Headers)
		c.Headers = append(c.Headers, name)
		c.Columns = append(c.Columns, make([]any, len(c.RowIndex)))
	}
	return nil
}

// Column returns the cells of a named column
func (c *ColumnarCsv) Column(name string) ([]any, bool) {
	idx, ok := c.headerIndex[name]
	if !ok {
		return nil, false
	}
	return c.Columns[idx], true
}

// SetRowCount resizes every column to the given row count, extending the
// row index sequentially when it grows
func (c *ColumnarCsv) SetRowCount(rows int) {
	for i := range c.Columns {
		for len(c.Columns[i]) < rows {
			c.Columns[i] = append(c.Columns[i], nil)
		}
		if len(c.Columns[i]) > rows {
			c.Columns[i] = c.Columns[i][:rows]
		}
	}
	var next EntityID
	if len(c.RowIndex) > 0 {
		next = c.RowIndex[len(c.RowIndex)-1] + 1
	}
	for len(c.RowIndex) < rows {
		c.RowIndex = append(c.RowIndex, next)
		next++
	}
}

// cellFields lists the flattened column names one cell contributes
func cellFields(component string, value any) []string {
	obj, ok := value.(map[string]any)
	if !ok {
		return []string{component}
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, component+"."+k)
	}
	sort.Strings(keys)
	return keys
}

// ColumnarFromSnapshot flattens a snapshot, unioning subfields across every
// row so heterogeneous cells lose no data
func ColumnarFromSnapshot(snap *ArchetypeSnapshot) *ColumnarCsv {
	return columnarFromSnapshot(snap, false)
}

// ColumnarFromSnapshotUnchecked infers each column's shape from row 0 only.
// Faster, but rows whose shape differs from row 0 silently lose fields —
// opt-in behavior.
func ColumnarFromSnapshotUnchecked(snap *ArchetypeSnapshot) *ColumnarCsv {
	return columnarFromSnapshot(snap, true)
}

func columnarFromSnapshot(snap *ArchetypeSnapshot, fast bool) *ColumnarCsv {
	out := NewColumnarCsv()
	out.SetRowCount(len(snap.Entities))
	out.RowIndex = append([]EntityID(nil), snap.Entities...)

	type colSchema struct {
		component string
		fields    []string
	}
	schemas := make([]colSchema, len(snap.ComponentTypes))
	for i, typeName := range snap.ComponentTypes {
		if fast {
			var first any
			if len(snap.Columns[i]) > 0 {
				first = snap.Columns[i][0]
			}
			schemas[i] = colSchema{component: typeName, fields: cellFields(typeName, first)}
			continue
		}
		seen := make(map[string]bool)
		var fields []string
		for _, cell := range snap.Columns[i] {
			for _, f := range cellFields(typeName, cell) {
				if !seen[f] {
					seen[f] = true
					fields = append(fields, f)
				}
			}
		}
		sort.Strings(fields)
		schemas[i] = colSchema{component: typeName, fields: fields}
	}

	for i, schema := range schemas {
		for _, field := range schema.fields {
			if err := out.AppendColumns(field); err != nil {
				logger.WithField("column", field).Warn("duplicate flattened column dropped")
				continue
			}
			col, _ := out.Column(field)
			suffix := strings.TrimPrefix(field, schema.component+".")
			for row, cell := range snap.Columns[i] {
				if obj, ok := cell.(map[string]any); ok {
					if v, present := obj[suffix]; present {
						col[row] = v
					}
				} else {
					col[row] = cell
				}
			}
		}
	}
	return out
}

// ToSnapshot regroups flattened columns back into an archetype snapshot.
// Headers sharing a `<Type>.` prefix reassemble into object cells.
func (c *ColumnarCsv) ToSnapshot() *ArchetypeSnapshot {
	type fieldRef struct {
		subfield string // empty for whole-value columns
		col      int
	}
	componentFields := make(map[string][]fieldRef)
	var order []string

	for i, header := range c.Headers {
		comp, field, structured := strings.Cut(header, ".")
		if !structured {
			comp, field = header, ""
		}
		if _, seen := componentFields[comp]; !seen {
			order = append(order, comp)
		}
		componentFields[comp] = append(componentFields[comp], fieldRef{subfield: field, col: i})
	}

	snap := &ArchetypeSnapshot{}
	snap.Entities = append([]EntityID(nil), c.RowIndex...)
	for _, comp := range order {
		fields := componentFields[comp]
		snap.AddType(comp, HintTable)
		col, _ := snap.Column(comp)
		for row := range c.RowIndex {
			if len(fields) == 1 && fields[0].subfield == "" {
				col[row] = c.Columns[fields[0].col][row]
				continue
			}
			obj := make(map[string]any, len(fields))
			for _, f := range fields {
				obj[f.subfield] = c.Columns[f.col][row]
			}
			col[row] = obj
		}
	}
	return snap
}

// WriteCSV emits the table with the `id` column first. Null cells are
// empty; everything else is a JSON literal.
func (c *ColumnarCsv) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	header := append([]string{"id"}, c.Headers...)
	if err := writer.Write(header); err != nil {
		return err
	}

	record := make([]string, len(c.Headers)+1)
	for row := range c.RowIndex {
		record[0] = strconv.FormatUint(uint64(c.RowIndex[row]), 10)
		for i, col := range c.Columns {
			cell := col[row]
			if cell == nil {
				record[i+1] = ""
				continue
			}
			encoded, err := json.Marshal(cell)
			if err != nil {
				return err
			}
			record[i+1] = string(encoded)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadColumnarCsv parses a columnar CSV stream. The first header must be
// `id`; non-empty cells parse as JSON literals, falling back to plain
// strings.
func ReadColumnarCsv(r io.Reader) (*ColumnarCsv, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, DecodeError{TypeName: "csv", Err: err}
	}
	if len(header) == 0 || header[0] != "id" {
		return nil, DecodeError{TypeName: "csv", Err: GenericError{Msg: "first column must be 'id'"}}
	}

	out := NewColumnarCsv()
	if err := out.AppendColumns(header[1:]...); err != nil {
		return nil, err
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, DecodeError{TypeName: "csv", Err: err}
		}
		id, err := strconv.ParseUint(record[0], 10, 32)
		if err != nil {
			return nil, DecodeError{TypeName: "csv", Err: err}
		}
		out.RowIndex = append(out.RowIndex, EntityID(id))

		for i := range out.Columns {
			var cell any
			if i+1 < len(record) {
				field := record[i+1]
				if strings.TrimSpace(field) != "" {
					if err := json.Unmarshal([]byte(field), &cell); err != nil {
						cell = field
					}
				}
			}
			out.Columns[i] = append(out.Columns[i], cell)
		}
	}
	return out, nil
}
