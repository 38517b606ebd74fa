package migrations

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoMigratePricingRules(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"pricing_rules", "rule_conditions", "rule_targets", "quantity_tiers", "rule_customer_usages"} {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS ` + table + ` `).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	assert.NoError(t, AutoMigratePricingRules(0, db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAutoMigrateDocumentsEveryTenant(t *testing.T) {
	var dbs []sqlmock.Sqlmock
	db1, mock1, err := sqlmock.New()
	require.NoError(t, err)
	defer db1.Close()
	db2, mock2, err := sqlmock.New()
	require.NoError(t, err)
	defer db2.Close()
	dbs = append(dbs, mock1, mock2)

	for _, mock := range dbs {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS documents`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS document_lines`).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	assert.NoError(t, AutoMigrateDocuments(0, db1, db2))
	for _, mock := range dbs {
		assert.NoError(t, mock.ExpectationsWereMet())
	}
}

func TestAutoMigrateRetries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS documents`).WillReturnError(errors.New("connection refused"))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS documents`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS document_lines`).WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, AutoMigrateDocuments(1, db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAutoMigrateGivesUp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS pricing_rules`).WillReturnError(errors.New("access denied"))

	err = AutoMigratePricingRules(0, db)
	assert.ErrorContains(t, err, "access denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}
