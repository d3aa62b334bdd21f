package ops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/classgrade/gradepipe/internal/logger"
	"github.com/classgrade/gradepipe/internal/models"
)

func TestAuthorization(t *testing.T) {
	l := logger.Logger
	t.Run("NeedsReadHasNone", func(t *testing.T) {
		hasPerm := hasPermission(
			context.TODO(),
			&models.OperatorPermissions{Read: true},
			&models.OperatorPermissions{},
			l,
		)
		assert.False(t, hasPerm, "needs read but does not have")
	})

	t.Run("NeedsReadHasExtra", func(t *testing.T) {
		hasPerm := hasPermission(
			context.TODO(),
			&models.OperatorPermissions{Read: true},
			&models.OperatorPermissions{Read: true, Operate: true},
			l,
		)
		assert.True(t, hasPerm, "needs read and has it")
	})

	t.Run("NeedsBothHasBoth", func(t *testing.T) {
		hasPerm := hasPermission(
			context.TODO(),
			&models.OperatorPermissions{Read: true, Operate: true},
			&models.OperatorPermissions{Read: true, Operate: true},
			l,
		)
		assert.True(t, hasPerm, "needs both and has both")
	})

	t.Run("NeedsOperateHasRead", func(t *testing.T) {
		hasPerm := hasPermission(
			context.TODO(),
			&models.OperatorPermissions{Operate: true},
			&models.OperatorPermissions{Read: true},
			l,
		)
		assert.False(t, hasPerm, "needs operate but only has read")
	})

	t.Run("HasBothNeedsOneWrongOrder", func(t *testing.T) {
		hasPerm := hasPermission(
			context.TODO(),
			&models.OperatorPermissions{Operate: true},
			&models.OperatorPermissions{Read: false, Operate: true},
			l,
		)
		assert.True(t, hasPerm, "needs operate and has it")
	})
}
