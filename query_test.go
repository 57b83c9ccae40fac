package freight

import (
	"testing"
)

// TestQueryEvaluation tests And/Or/Not query trees against archetypes
func TestQueryEvaluation(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	velComp := FactoryNewComponent[Velocity]()
	healthComp := FactoryNewComponent[Health]()

	storage := Factory.NewStorage()
	storage.NewEntities(2, posComp)
	storage.NewEntities(3, posComp, velComp)
	storage.NewEntities(4, posComp, velComp, healthComp)

	tests := []struct {
		name      string
		node      func(q Query) QueryNode
		wantCount int
	}{
		{
			name:      "And single",
			node:      func(q Query) QueryNode { return q.And(posComp) },
			wantCount: 9,
		},
		{
			name:      "And pair",
			node:      func(q Query) QueryNode { return q.And(posComp, velComp) },
			wantCount: 7,
		},
		{
			name:      "Or",
			node:      func(q Query) QueryNode { return q.Or(velComp, healthComp) },
			wantCount: 7,
		},
		{
			name:      "Not",
			node:      func(q Query) QueryNode { return q.Not(velComp) },
			wantCount: 2,
		},
		{
			name: "Nested and-not",
			node: func(q Query) QueryNode {
				inner := Factory.NewQuery()
				return q.And(velComp, inner.Not(healthComp))
			},
			wantCount: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query := Factory.NewQuery()
			cursor := Factory.NewCursor(tt.node(query), storage)
			if got := cursor.TotalMatched(); got != tt.wantCount {
				t.Errorf("TotalMatched = %d, want %d", got, tt.wantCount)
			}
			if storage.Locked() {
				t.Error("cursor left the storage locked")
			}
		})
	}
}

// TestCursorIteration tests cursor traversal and entity resolution
func TestCursorIteration(t *testing.T) {
	posComp := FactoryNewComponent[Position]()
	storage := Factory.NewStorage()
	entities, _ := storage.NewEntities(3, posComp)
	for i, e := range entities {
		posComp.GetFromEntity(e).X = float32(i * 10)
	}

	query := Factory.NewQuery()
	cursor := Factory.NewCursor(query.And(posComp), storage)

	var xs []float32
	for cursor.Next() {
		xs = append(xs, posComp.GetFromCursor(cursor).X)
	}
	if len(xs) != 3 {
		t.Fatalf("iterated %d entities, want 3", len(xs))
	}
	for i, x := range xs {
		if x != float32(i*10) {
			t.Errorf("row %d = %v", i, x)
		}
	}

	if got := cursor.TotalMatched(); got != 3 {
		t.Errorf("TotalMatched after reset = %d", got)
	}
}

// TestInvalidQueryItemPanics tests query input validation
func TestInvalidQueryItemPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for invalid query item")
		}
	}()
	query := Factory.NewQuery()
	query.And("not a component")
}
