// Package stock implements the reservation engine over serialized inventory
// units and the deliveries that bring them in.
package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Unit states. Only New units count as available stock.
const (
	StateNew      = "New"
	StateReserved = "Reserved"
	StateShipped  = "Shipped"
)

// Sentinel errors for stock operations.
var (
	ErrDeliveryNotFound = errors.New("delivery not found")
	ErrInvalidQuantity  = errors.New("quantity must be greater than 0")
	ErrEmptyDelivery    = errors.New("delivery must contain at least one unit")
	ErrEmptySender      = errors.New("delivery sender required")
)

// InvalidUnitError indicates a delivery unit with missing product or serial.
type InvalidUnitError struct {
	Index int
}

func (e *InvalidUnitError) Error() string {
	return fmt.Sprintf("unit %d: product id and serial number required", e.Index)
}

// Unit is one physical, serialized item of a product.
type Unit struct {
	ID           int64
	DeliveryID   int64
	ProductID    int64
	SerialNumber string
	State        string
}

// Delivery is a received shipment of units.
type Delivery struct {
	ID         int64
	Sender     string
	ReceivedAt time.Time
	Units      []Unit
}

// Level is an available-stock figure published to catalogs.
type Level struct {
	ProductID int64
	Available int
	At        time.Time
}

// Repository owns inventory units.
//
// ReserveUnits must transition exactly quantity New units of the product to
// Reserved in one atomic step, or transition none, and return how many it
// transitioned.
type Repository interface {
	CountAvailable(ctx context.Context, productID int64) (int, error)
	ReserveUnits(ctx context.Context, productID int64, quantity int) (int, error)
	CreateDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, id int64) (*Delivery, error)
	ListDeliveries(ctx context.Context) ([]Delivery, error)
	DeleteDelivery(ctx context.Context, id int64) ([]int64, error)
}

// LevelPublisher pushes stock levels to external catalogs.
type LevelPublisher interface {
	PublishLevel(ctx context.Context, level Level) error
}
