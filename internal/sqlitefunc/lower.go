// Package sqlitefunc registers the scalar SQL functions ProspectFlow relies on with the
// pure-Go sqlite driver. Registration happens at init, before any connection is opened.
package sqlitefunc

import (
	"database/sql/driver"
	"strings"

	sqlite "github.com/glebarez/go-sqlite"
)

// Lower is the name of the Unicode-aware replacement for sqlite's ASCII-only LOWER.
const Lower = "unicode_lower"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(Lower, 1, lower)
}

func lower(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch value := args[0].(type) {
	case string:
		return strings.ToLower(value), nil
	case []byte:
		return strings.ToLower(string(value)), nil
	default:
		return value, nil
	}
}
