package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpExtractsPostgresDetail(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "ux_orders_order_number",
		TableName:      "orders",
		Message:        "duplicate key value violates unique constraint",
	}
	err := Wrap(CodeConflict, fmt.Errorf("insert order: %w", pgErr), "order number taken")

	dump := Dump(err)
	assert.Equal(t, CodeConflict, dump.Code)
	assert.Equal(t, "23505", dump.PGCode)
	assert.Equal(t, "ux_orders_order_number", dump.PGConstraint)
	require.Len(t, dump.Chain, 3)

	fields := dump.Fields()
	assert.Equal(t, "orders", fields["pg_table"])
	_, hasDetail := fields["pg_detail"]
	assert.False(t, hasDetail)
}

func TestDumpNil(t *testing.T) {
	assert.Equal(t, ErrorDump{}, Dump(nil))
}
