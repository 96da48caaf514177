package record

import (
	"fmt"
	"time"
)

// Product is a catalog entry.
type Product struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Name       string    `json:"name"`
	SKU        string    `json:"sku,omitempty"`
	PriceCents int64     `json:"price_cents"`
	StockQty   int64     `json:"stock_qty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks required product fields.
func (p *Product) Validate() error {
	if p.ID == "" || p.TenantID == "" {
		return fmt.Errorf("product requires id and tenant_id")
	}
	if p.Name == "" {
		return fmt.Errorf("product %s: name is required", p.ID)
	}
	if p.PriceCents < 0 {
		return fmt.Errorf("product %s: price_cents must not be negative", p.ID)
	}
	return nil
}

// Doc wraps the product in a storage envelope.
func (p *Product) Doc() (*Doc, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return NewDoc(Products, p.ID, p.TenantID, p.UpdatedAt, p)
}

// Customer is a customer directory entry.
type Customer struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks required customer fields.
func (c *Customer) Validate() error {
	if c.ID == "" || c.TenantID == "" {
		return fmt.Errorf("customer requires id and tenant_id")
	}
	if c.Name == "" {
		return fmt.Errorf("customer %s: name is required", c.ID)
	}
	return nil
}

// Doc wraps the customer in a storage envelope.
func (c *Customer) Doc() (*Doc, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return NewDoc(Customers, c.ID, c.TenantID, c.UpdatedAt, c)
}

// Sale is one sales transaction. Sales carry the boolean synced flag.
type Sale struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	CustomerID string    `json:"customer_id,omitempty"`
	TotalCents int64     `json:"total_cents"`
	PaidCents  int64     `json:"paid_cents"`
	Status     string    `json:"status"` // draft, completed, voided
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks required sale fields.
func (s *Sale) Validate() error {
	if s.ID == "" || s.TenantID == "" {
		return fmt.Errorf("sale requires id and tenant_id")
	}
	if s.TotalCents < 0 {
		return fmt.Errorf("sale %s: total_cents must not be negative", s.ID)
	}
	return nil
}

// Doc wraps the sale in a storage envelope.
func (s *Sale) Doc() (*Doc, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return NewDoc(Sales, s.ID, s.TenantID, s.UpdatedAt, s)
}

// SaleItem is one line on a sale.
type SaleItem struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	SaleID         string    `json:"sale_id"`
	ProductID      string    `json:"product_id"`
	Qty            int64     `json:"qty"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Validate checks required sale item fields.
func (si *SaleItem) Validate() error {
	if si.ID == "" || si.TenantID == "" {
		return fmt.Errorf("sale item requires id and tenant_id")
	}
	if si.SaleID == "" {
		return fmt.Errorf("sale item %s: sale_id is required", si.ID)
	}
	if si.Qty <= 0 {
		return fmt.Errorf("sale item %s: qty must be positive", si.ID)
	}
	return nil
}

// Doc wraps the sale item in a storage envelope.
func (si *SaleItem) Doc() (*Doc, error) {
	if err := si.Validate(); err != nil {
		return nil, err
	}
	return NewDoc(SaleItems, si.ID, si.TenantID, si.UpdatedAt, si)
}

// Student is a student roster entry.
type Student struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name,omitempty"`
	AdmissionNo string    `json:"admission_no,omitempty"`
	ClassID     string    `json:"class_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks required student fields.
func (s *Student) Validate() error {
	if s.ID == "" || s.TenantID == "" {
		return fmt.Errorf("student requires id and tenant_id")
	}
	if s.FirstName == "" {
		return fmt.Errorf("student %s: first_name is required", s.ID)
	}
	return nil
}

// Doc wraps the student in a storage envelope.
func (s *Student) Doc() (*Doc, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return NewDoc(Students, s.ID, s.TenantID, s.UpdatedAt, s)
}

// Class is a class or section entry.
type Class struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Name       string    `json:"name"`
	Instructor string    `json:"instructor,omitempty"`
	Year       int       `json:"year,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks required class fields.
func (c *Class) Validate() error {
	if c.ID == "" || c.TenantID == "" {
		return fmt.Errorf("class requires id and tenant_id")
	}
	if c.Name == "" {
		return fmt.Errorf("class %s: name is required", c.ID)
	}
	return nil
}

// Doc wraps the class in a storage envelope.
func (c *Class) Doc() (*Doc, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return NewDoc(Classes, c.ID, c.TenantID, c.UpdatedAt, c)
}
