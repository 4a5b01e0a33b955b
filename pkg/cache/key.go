package cache

import (
	"fmt"
	"strings"
)

// KeyPrefix namespaces every cache key written by this package.
const KeyPrefix = "pokeapi"

// Key identifies one cached entity.
type Key struct {
	// Resource is the API collection name (e.g., "pokemon")
	Resource string

	// ID is the entity id within the resource
	ID int
}

// String generates a deterministic cache key string.
// Format: pokeapi:<resource>:<id>
//
// Example:
//
//	pokeapi:pokemon:25
func (k Key) String() string {
	resource := strings.Trim(strings.ToLower(k.Resource), "/")
	if resource == "" {
		resource = "unknown"
	}
	return fmt.Sprintf("%s:%s:%d", KeyPrefix, resource, k.ID)
}
