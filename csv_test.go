package freight

import (
	"bytes"
	"reflect"
	"testing"
)

func flatSnapshot() *ArchetypeSnapshot {
	return &ArchetypeSnapshot{
		ComponentTypes: []string{"Position", "Label"},
		StorageHints:   []StorageHint{HintTable, HintTable},
		Columns: [][]any{
			{
				map[string]any{"x": 1.0, "y": 2.0},
				map[string]any{"x": 9.0, "y": 3.5},
			},
			{
				map[string]any{"value": "a"},
				map[string]any{"value": "b"},
			},
		},
		Entities: []EntityID{0, 1},
	}
}

// TestColumnarFlattenHeaders tests `<Type>.<field>` mangling
func TestColumnarFlattenHeaders(t *testing.T) {
	csv := ColumnarFromSnapshot(flatSnapshot())
	want := []string{"Position.x", "Position.y", "Label.value"}
	if !reflect.DeepEqual(csv.Headers, want) {
		t.Errorf("headers = %v, want %v", csv.Headers, want)
	}
	if !reflect.DeepEqual(csv.RowIndex, []EntityID{0, 1}) {
		t.Errorf("row index = %v", csv.RowIndex)
	}
}

// TestCsvSnapshotRoundTrip tests snapshot → CSV → snapshot cell
// preservation for flat structures
func TestCsvSnapshotRoundTrip(t *testing.T) {
	snap := flatSnapshot()

	var buf bytes.Buffer
	if err := ColumnarFromSnapshot(snap).WriteCSV(&buf); err != nil {
		t.Fatal(err)
	}

	parsed, err := ReadColumnarCsv(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	back := parsed.ToSnapshot()

	if !reflect.DeepEqual(back.Entities, snap.Entities) {
		t.Errorf("entities = %v", back.Entities)
	}
	for _, typeName := range snap.ComponentTypes {
		wantCol, _ := snap.Column(typeName)
		gotCol, ok := back.Column(typeName)
		if !ok {
			t.Fatalf("column %s lost", typeName)
		}
		if !reflect.DeepEqual(gotCol, wantCol) {
			t.Errorf("column %s = %v, want %v", typeName, gotCol, wantCol)
		}
	}
}

// TestCsvStableOutput tests CSV → parse → CSV byte stability
func TestCsvStableOutput(t *testing.T) {
	var first bytes.Buffer
	if err := ColumnarFromSnapshot(flatSnapshot()).WriteCSV(&first); err != nil {
		t.Fatal(err)
	}
	parsed, err := ReadColumnarCsv(bytes.NewReader(first.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	var second bytes.Buffer
	if err := parsed.WriteCSV(&second); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Errorf("unstable CSV:\n%s\n---\n%s", first.String(), second.String())
	}
}

// TestCsvCellParsing tests null, literal, and plain-string fallbacks
func TestCsvCellParsing(t *testing.T) {
	input := "id,Label\n0,\n1,\"\"\"quoted\"\"\"\n2,plain\n3,4.5\n4,true\n"
	parsed, err := ReadColumnarCsv(bytes.NewReader([]byte(input)))
	if err != nil {
		t.Fatal(err)
	}
	col, _ := parsed.Column("Label")
	tests := []struct {
		row  int
		want any
	}{
		{0, nil},
		{1, "quoted"},
		{2, "plain"},
		{3, 4.5},
		{4, true},
	}
	for _, tt := range tests {
		if !reflect.DeepEqual(col[tt.row], tt.want) {
			t.Errorf("row %d = %#v, want %#v", tt.row, col[tt.row], tt.want)
		}
	}
}

// TestCsvUncheckedInference tests row-0-only schema inference
func TestCsvUncheckedInference(t *testing.T) {
	snap := &ArchetypeSnapshot{
		ComponentTypes: []string{"Health"},
		StorageHints:   []StorageHint{HintTable},
		Columns: [][]any{{
			map[string]any{"current": 1.0},
			map[string]any{"current": 2.0, "max": 10.0},
		}},
		Entities: []EntityID{0, 1},
	}

	fast := ColumnarFromSnapshotUnchecked(snap)
	if len(fast.Headers) != 1 {
		t.Errorf("fast headers = %v, want row-0 shape only", fast.Headers)
	}
	strict := ColumnarFromSnapshot(snap)
	if len(strict.Headers) != 2 {
		t.Errorf("strict headers = %v, want union of rows", strict.Headers)
	}
}

// TestCsvMissingIDHeader tests header validation
func TestCsvMissingIDHeader(t *testing.T) {
	if _, err := ReadColumnarCsv(bytes.NewReader([]byte("x,y\n1,2\n"))); err == nil {
		t.Error("expected error for missing id header")
	}
}
