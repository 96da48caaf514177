// Package record defines the domain collections and the record envelope
// moved through the local store and the sync queue.
//
// Every record is tenant-scoped. Sale-like collections carry a boolean
// synced flag; reference collections carry a synced_at timestamp instead.
// The store persists records as Doc envelopes so both storage engines can
// stay schema-agnostic about domain fields.
package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// Collection identifies a domain collection known to the store.
type Collection string

const (
	// Products is the product catalog collection.
	Products Collection = "products"
	// Customers is the customer directory collection.
	Customers Collection = "customers"
	// Sales is the sales transaction collection.
	Sales Collection = "sales"
	// SaleItems is the per-sale line item collection.
	SaleItems Collection = "sale_items"
	// Students is the student roster collection.
	Students Collection = "students"
	// Classes is the class/section collection.
	Classes Collection = "classes"
)

// Collections returns all known collections in migration order.
// Reference collections come before transactional ones so that
// migrated sales never point at products that have not landed yet.
func Collections() []Collection {
	return []Collection{Products, Customers, Students, Classes, Sales, SaleItems}
}

// Known reports whether c is a collection this store manages.
func Known(c Collection) bool {
	switch c {
	case Products, Customers, Sales, SaleItems, Students, Classes:
		return true
	default:
		return false
	}
}

// TracksSyncedFlag reports whether records in c carry the boolean synced
// flag. Transactional collections (sales, sale items) do; reference
// collections track a synced_at timestamp instead.
func TracksSyncedFlag(c Collection) bool {
	return c == Sales || c == SaleItems
}

// Doc is the storage envelope for one domain record.
//
// The store owns the envelope fields (sync metadata included); domain
// fields travel opaquely in Data. Both storage engines persist Docs
// verbatim, which keeps the engines interchangeable.
type Doc struct {
	Collection Collection `json:"collection"`
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// Synced is meaningful only for collections where TracksSyncedFlag
	// is true. It flips to true once the record has been delivered.
	Synced bool `json:"synced"`

	// SyncedAt records the last delivery time for reference collections.
	SyncedAt *time.Time `json:"synced_at,omitempty"`

	// Data holds the domain fields as raw JSON.
	Data json.RawMessage `json:"data,omitempty"`
}

// Validate checks the envelope invariants.
func (d *Doc) Validate() error {
	if !Known(d.Collection) {
		return fmt.Errorf("unknown collection %q", d.Collection)
	}
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if d.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// NewDoc builds an envelope for payload, marshaling the domain fields
// into Data. The payload must marshal cleanly or an error is returned.
func NewDoc(c Collection, id, tenantID string, updatedAt time.Time, payload any) (*Doc, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", c, err)
	}
	doc := &Doc{
		Collection: c,
		ID:         id,
		TenantID:   tenantID,
		UpdatedAt:  updatedAt,
		Data:       data,
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// DecodeData unmarshals the domain fields into v.
func (d *Doc) DecodeData(v any) error {
	if len(d.Data) == 0 {
		return fmt.Errorf("record %s/%s has no data", d.Collection, d.ID)
	}
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s record %s: %w", d.Collection, d.ID, err)
	}
	return nil
}
