package registry

import _ "embed"

// ShippedCatalogJSON is the gateway's built-in model catalog, compiled
// directly into the binary.
//
//go:embed catalog.json
var ShippedCatalogJSON []byte
