package transaction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTx struct {
	mock.Mock
}

func (m *MockTx) Commit() error {
	return m.Called().Error(0)
}

func (m *MockTx) Rollback() error {
	return m.Called().Error(0)
}

type MockManager struct {
	mock.Mock
}

func (m *MockManager) Begin(ctx context.Context) (Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Tx), args.Error(1)
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("成功時はコミットする", func(t *testing.T) {
		tx := new(MockTx)
		m := new(MockManager)
		m.On("Begin", ctx).Return(tx, nil)
		tx.On("Commit").Return(nil)

		err := Run(ctx, m, func(Tx) error { return nil })

		require.NoError(t, err)
		tx.AssertExpectations(t)
		tx.AssertNotCalled(t, "Rollback")
	})

	t.Run("fnが失敗した場合はロールバックする", func(t *testing.T) {
		tx := new(MockTx)
		m := new(MockManager)
		m.On("Begin", ctx).Return(tx, nil)
		tx.On("Rollback").Return(nil)
		fnErr := errors.New("boom")

		err := Run(ctx, m, func(Tx) error { return fnErr })

		assert.ErrorIs(t, err, fnErr)
		tx.AssertNotCalled(t, "Commit")
	})

	t.Run("ロールバック失敗も合わせて返す", func(t *testing.T) {
		tx := new(MockTx)
		m := new(MockManager)
		m.On("Begin", ctx).Return(tx, nil)
		rbErr := errors.New("rollback failed")
		tx.On("Rollback").Return(rbErr)
		fnErr := errors.New("boom")

		err := Run(ctx, m, func(Tx) error { return fnErr })

		assert.ErrorIs(t, err, fnErr)
		assert.ErrorIs(t, err, rbErr)
	})

	t.Run("開始に失敗した場合はfnを呼ばない", func(t *testing.T) {
		m := new(MockManager)
		m.On("Begin", ctx).Return(nil, errors.New("no conn"))
		called := false

		err := Run(ctx, m, func(Tx) error { called = true; return nil })

		require.Error(t, err)
		assert.False(t, called)
	})
}
