package smartcatalog

import "errors"

var (
	// ErrProductNotFound is returned when a product ID does not exist.
	ErrProductNotFound = errors.New("smartcatalog: product not found")

	// ErrCatalogNotFound is returned when a catalog ID does not exist.
	ErrCatalogNotFound = errors.New("smartcatalog: catalog not found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("smartcatalog: invalid configuration")

	// ErrNoMatch is returned when no BoQ line matched a catalog product.
	ErrNoMatch = errors.New("smartcatalog: no boq line matched a product")
)
