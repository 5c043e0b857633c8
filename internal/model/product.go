package model

// Product is immutable reference data from the `products` table.
//
// Fields:
//
//	ID    – primary key identifier.
//	SKU   – stock keeping unit printed on the RFID tag.
//	Name  – display name.
//	Size  – garment size label.
//	Color – colour label.
type Product struct {
	ID    uint64 // products.id
	SKU   string // products.sku
	Name  string // products.name
	Size  string // products.size
	Color string // products.color
}
