package tx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrom(t *testing.T) {
	t.Run("missing transaction", func(t *testing.T) {
		_, ok := From(context.Background())
		assert.False(t, ok)
	})

	t.Run("nil transaction is not stored", func(t *testing.T) {
		ctx := WithTx(context.Background(), nil)
		_, ok := From(ctx)
		assert.False(t, ok)
	})

	t.Run("stored transaction is returned", func(t *testing.T) {
		sqlTx := &sql.Tx{}
		ctx := WithTx(context.Background(), sqlTx)
		got, ok := From(ctx)
		assert.True(t, ok)
		assert.Same(t, sqlTx, got)
		assert.Same(t, sqlTx, ExecutorFrom(ctx, nil))
	})
}

func TestRunInTx_ReusesOuterTransaction(t *testing.T) {
	sqlTx := &sql.Tx{}
	ctx := WithTx(context.Background(), sqlTx)
	r := NewRunner(nil, 0)

	called := false
	err := r.RunInTx(ctx, func(inner context.Context) error {
		called = true
		got, ok := From(inner)
		assert.True(t, ok)
		assert.Same(t, sqlTx, got)
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)
}
