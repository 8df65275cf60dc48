// Package demo declares the sample resources mounted by the serve command and used by the
// backend conformance suite.
package demo

import (
	"github.com/edgeflare/crudrouter/pkg/crud"
)

// PaginationSize caps potato listings.
const PaginationSize = 10

// CustomTags documents the carrot routes.
var CustomTags = []string{"Tag1", "Tag2"}

type Potato struct {
	ID        int     `json:"id" db:"id" bson:"_id" crud:"pk,auto"`
	Thickness float64 `json:"thickness" validate:"gte=0"`
	Mass      float64 `json:"mass" validate:"gte=0"`
	Color     string  `json:"color"`
	Type      string  `json:"type"`
}

type Carrot struct {
	ID     int     `json:"id" db:"id" bson:"_id" crud:"pk,auto"`
	Length float64 `json:"length"`
	Color  string  `json:"color"`
}

type CarrotCreate struct {
	Length float64 `json:"length" validate:"gt=0"`
	Color  string  `json:"color" validate:"required"`
}

type CarrotUpdate struct {
	Length *float64 `json:"length,omitempty" validate:"omitempty,gt=0"`
	Color  *string  `json:"color,omitempty"`
}

// Label has a caller-chosen string key, so creating it twice is a conflict.
type Label struct {
	Name  string `json:"name" db:"name" bson:"_id" crud:"pk"`
	Color string `json:"color"`
}

var (
	PotatoSchema = crud.MustSchema[Potato]()
	CarrotSchema = crud.MustSchema[Carrot]()
	LabelSchema  = crud.MustSchema[Label]()
)

// Resources pairs each sample resource with the backend serving it.
type Resources struct {
	Potato crud.Backend[Potato]
	Carrot crud.Backend[Carrot]
}

// Routers builds the potato and carrot routers with their demo settings.
func (res Resources) Routers(opts ...crud.Option) (*crud.Router[Potato], *crud.Router[Carrot], error) {
	potato, err := crud.NewRouter(res.Potato, append([]crud.Option{
		crud.WithPrefix("potato"),
		crud.WithPagination(PaginationSize),
	}, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	carrot, err := crud.NewRouter(res.Carrot, append([]crud.Option{
		crud.WithPrefix("carrot"),
		crud.WithCreateSchema(CarrotCreate{}),
		crud.WithUpdateSchema(CarrotUpdate{}),
		crud.WithTags(CustomTags...),
	}, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	return potato, carrot, nil
}

// Register mounts both resources on host and returns the registered routes.
func (res Resources) Register(host crud.Host, opts ...crud.Option) ([]crud.RouteInfo, error) {
	potato, carrot, err := res.Routers(opts...)
	if err != nil {
		return nil, err
	}
	if err := potato.Register(host); err != nil {
		return nil, err
	}
	if err := carrot.Register(host); err != nil {
		return nil, err
	}
	return append(potato.Routes(), carrot.Routes()...), nil
}
