package neighbor

import (
	"testing"

	"avaneesh/trel-go/pkg/mac"
)

func TestTable_AddFind(t *testing.T) {
	table := NewTable()
	table.initialPacketNumber = func() uint32 { return 42 }

	ext := mac.ExtAddress{1, 2, 3, 4, 5, 6, 7, 8}

	if table.FindNeighbor(ext) != nil {
		t.Fatalf("FindNeighbor on empty table should be nil")
	}

	n := table.Add(ext)
	if n.NextTxPacketNumber() != 42 {
		t.Errorf("NextTxPacketNumber = %d, want 42", n.NextTxPacketNumber())
	}
	if again := table.Add(ext); again != n {
		t.Errorf("Add of an existing neighbor returned a new record")
	}

	w := table.FindNeighbor(ext)
	if w == nil {
		t.Fatalf("FindNeighbor returned nil")
	}

	// The window is embedded, so changes through it show on the record
	w.Allocate()
	if n.PendingCount() != 1 || n.NextTxPacketNumber() != 43 {
		t.Errorf("record = %s, want Next=43 Pending=1", n)
	}

	table.Remove(ext)
	if table.Len() != 0 || table.FindNeighbor(ext) != nil {
		t.Errorf("neighbor still present after Remove")
	}
}

func TestTable_Neighbors(t *testing.T) {
	table := NewTable()
	table.Add(mac.ExtAddress{1})
	table.Add(mac.ExtAddress{2})

	if got := len(table.Neighbors()); got != 2 {
		t.Errorf("len(Neighbors) = %d, want 2", got)
	}
}
