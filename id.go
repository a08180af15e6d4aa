package tenantrun

import "github.com/xraph/tenantrun/id"

// ID is the primary identifier type for all tenantrun entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
