package feeders

import "errors"

// Static error definitions for feeders
var (
	ErrInvalidTarget       = errors.New("expected pointer target")
	ErrEnvInvalidStructure = errors.New("env: invalid structure")
	ErrEnvFieldCannotBeSet = errors.New("env: field cannot be set")
)
