package idgen

import "github.com/google/uuid"

// NewFunc produces approval instance identifiers. Tests may replace it to get
// predictable IDs.
var NewFunc = func() string { return uuid.New().String() }

// New returns a new opaque instance identifier.
func New() string { return NewFunc() }
