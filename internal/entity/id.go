package entity

import (
	"fmt"
	"strconv"

	"github.com/samber/lo"
)

// ID is the string form of a database row identifier.
type ID string

func NewID(id any) ID {
	switch v := id.(type) {
	case string:
		return ID(v)
	case uint:
		return ID(strconv.FormatUint(uint64(v), 10))
	case int64:
		return ID(strconv.FormatInt(v, 10))
	}
	panic("unsupported ID type")
}

// ParseID validates untrusted input (a URL path param, typically) as a row
// identifier before it can reach Uint.
func ParseID(raw string) (ID, error) {
	if _, err := strconv.ParseUint(raw, 10, 64); err != nil {
		return "", fmt.Errorf("%w: malformed id %q", ErrValidation, raw)
	}
	return ID(raw), nil
}

func (id ID) String() string { return string(id) }
func (id ID) IsZero() bool   { return id == "" }
func (id ID) Uint() uint     { return uint(lo.Must(strconv.ParseUint(id.String(), 10, 64))) }
