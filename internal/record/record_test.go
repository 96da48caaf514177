package record

import (
	"testing"
	"time"
)

func TestDocValidate(t *testing.T) {
	now := time.Now()

	valid := &Doc{Collection: Products, ID: "p1", TenantID: "t1", UpdatedAt: now}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid doc, got error: %v", err)
	}

	tests := []struct {
		name string
		doc  Doc
	}{
		{"unknown collection", Doc{Collection: "widgets", ID: "w1", TenantID: "t1", UpdatedAt: now}},
		{"missing id", Doc{Collection: Products, TenantID: "t1", UpdatedAt: now}},
		{"missing tenant", Doc{Collection: Products, ID: "p1", UpdatedAt: now}},
		{"zero updated_at", Doc{Collection: Products, ID: "p1", TenantID: "t1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.doc.Validate(); err == nil {
				t.Errorf("Expected validation error for %s", tt.name)
			}
		})
	}
}

func TestNewDocRoundTrip(t *testing.T) {
	p := Product{ID: "p1", TenantID: "t1", Name: "Notebook", PriceCents: 450, UpdatedAt: time.Now()}
	doc, err := p.Doc()
	if err != nil {
		t.Fatalf("Doc failed: %v", err)
	}

	var got Product
	if err := doc.DecodeData(&got); err != nil {
		t.Fatalf("DecodeData failed: %v", err)
	}
	if got.Name != p.Name || got.PriceCents != p.PriceCents {
		t.Errorf("Round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestDecodeDataEmpty(t *testing.T) {
	doc := &Doc{Collection: Products, ID: "p1", TenantID: "t1", UpdatedAt: time.Now()}
	var p Product
	if err := doc.DecodeData(&p); err == nil {
		t.Error("Expected error decoding empty data")
	}
}

func TestTracksSyncedFlag(t *testing.T) {
	for _, c := range []Collection{Sales, SaleItems} {
		if !TracksSyncedFlag(c) {
			t.Errorf("Expected %s to track the synced flag", c)
		}
	}
	for _, c := range []Collection{Products, Customers, Students, Classes} {
		if TracksSyncedFlag(c) {
			t.Errorf("Expected %s to track synced_at instead of the flag", c)
		}
	}
}

func TestCollectionsOrder(t *testing.T) {
	cols := Collections()
	if len(cols) != 6 {
		t.Fatalf("Expected 6 collections, got %d", len(cols))
	}

	// Reference collections must precede transactional ones so migrated
	// sales never point at products that have not landed yet.
	pos := make(map[Collection]int, len(cols))
	for i, c := range cols {
		pos[c] = i
	}
	if pos[Sales] < pos[Products] || pos[SaleItems] < pos[Sales] {
		t.Errorf("Unexpected migration order: %v", cols)
	}
}

func TestKnown(t *testing.T) {
	if !Known(Customers) {
		t.Error("Expected customers to be known")
	}
	if Known("invoices") {
		t.Error("Expected invoices to be unknown")
	}
}
