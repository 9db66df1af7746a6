package ledger

import (
	"context"
	"testing"

	"ledgerpay/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestAccessor_GetForUpdateLocksUserRow(t *testing.T) {
	db, mock := setupMock(t)
	a := NewAccessor(db)

	mock.ExpectQuery("SELECT merchant_balance AS balance FROM `users` WHERE id = \\? FOR UPDATE").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("100.0000"))

	balance, err := a.GetForUpdate(context.Background(), db, UserAccount(7, FieldMerchantBalance))
	require.NoError(t, err)
	assert.Equal(t, "100", balance.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccessor_GetForUpdateLocksPoolRow(t *testing.T) {
	db, mock := setupMock(t)
	a := NewAccessor(db)

	mock.ExpectQuery("SELECT \\* FROM `finance_accounts` WHERE account_type = \\?.* FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_type", "balance"}).AddRow(1, "subsidy_pool", "12.5000"))

	balance, err := a.GetForUpdate(context.Background(), db, Pool(model.PoolSubsidy))
	require.NoError(t, err)
	assert.Equal(t, "12.5", balance.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccessor_CheckInTransactionLocks(t *testing.T) {
	db, mock := setupMock(t)
	a := NewAccessor(db)

	mock.ExpectQuery("SELECT promotion_balance AS balance FROM `users` WHERE id = \\? FOR UPDATE").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("10"))

	err := a.Check(context.Background(), db, UserAccount(3, FieldPromotionBalance), d("50"))
	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccessor_GetForUpdateRequiresTransaction(t *testing.T) {
	db, _ := setupMock(t)
	_, err := NewAccessor(db).GetForUpdate(context.Background(), nil, UserAccount(1, FieldMemberPoints))
	assert.Error(t, err)
}
