package processor

import (
	"fmt"

	"ev-pipeline/internal/domain"
)

// IntChecker verifies that a column holds an integer that fits Type
// (BIGINT when unset). It accepts exactly what the loader can write to
// such a column. The value is not changed.
type IntChecker struct {
	Column string
	Type   domain.ColumnType
}

func (c IntChecker) Name() string { return "int(" + c.Column + ")" }

func (c IntChecker) OutputColumns() []string { return nil }

func (c IntChecker) kind() domain.ErrorKind { return domain.ErrorKindIntegerParse }

func (c IntChecker) columnType() domain.ColumnType {
	if c.Type == "" {
		return domain.TypeBigInt
	}
	return c.Type
}

func (c IntChecker) step(row domain.Row) (domain.Row, error) {
	if _, err := c.columnType().Coerce(row.Value(c.Column)); err != nil {
		return row, fmt.Errorf("%s: %w", c.Column, err)
	}
	return row, nil
}

// FloatChecker verifies that a column holds a floating-point number that fits
// Type (DOUBLE when unset). The value is not changed.
type FloatChecker struct {
	Column string
	Type   domain.ColumnType
}

func (c FloatChecker) Name() string { return "float(" + c.Column + ")" }

func (c FloatChecker) OutputColumns() []string { return nil }

func (c FloatChecker) kind() domain.ErrorKind { return domain.ErrorKindFloatParse }

func (c FloatChecker) columnType() domain.ColumnType {
	if c.Type == "" {
		return domain.TypeDouble
	}
	return c.Type
}

func (c FloatChecker) step(row domain.Row) (domain.Row, error) {
	if _, err := c.columnType().Coerce(row.Value(c.Column)); err != nil {
		return row, fmt.Errorf("%s: %w", c.Column, err)
	}
	return row, nil
}
