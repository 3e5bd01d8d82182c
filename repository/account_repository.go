package repository

import (
	"context"
	"database/sql"
	"errors"
	"secure-ledger/logger"
	"secure-ledger/model"

	"github.com/sirupsen/logrus"
)

// ErrRowNotFound is returned when an update or delete matched no row.
var ErrRowNotFound = errors.New("account row not found")

// IAccountRepository defines the contract for the persisted account table.
// Rows carry ciphertext in the holder columns; this layer never sees PII.
type IAccountRepository interface {
	CreateAccount(ctx context.Context, row *model.AccountRow) error
	GetAllAccounts(ctx context.Context) ([]*model.AccountRow, error)
	UpdateAccountBalance(ctx context.Context, accountNo string, newBalance float64) error
	DeleteAccount(ctx context.Context, accountNo string) error
}

type AccountRepository struct {
	DB *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{DB: db}
}

// CreateAccount inserts a new row.
func (r *AccountRepository) CreateAccount(ctx context.Context, row *model.AccountRow) error {
	log := logger.Log.WithFields(logrus.Fields{
		"account_no":   row.AccountNo,
		"account_type": int(row.AccountType),
	})
	log.Info("Executing query to create a new account")

	query := `INSERT INTO bank_accounts
		(account_no, name, address_line_1, address_line_2, address_line_3, town, balance, account_type, overdraft_amount, interest_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.DB.ExecContext(ctx, query,
		row.AccountNo, row.Name, row.AddressLine1, row.AddressLine2, row.AddressLine3, row.Town,
		row.Balance, int(row.AccountType), row.OverdraftAmount, row.InterestRate)
	if err != nil {
		log.WithError(err).Error("Failed to execute create account query")
		return err
	}
	return nil
}

// GetAllAccounts returns every persisted row.
func (r *AccountRepository) GetAllAccounts(ctx context.Context) ([]*model.AccountRow, error) {
	log := logger.Log
	log.Info("Executing query to get all accounts")

	query := `SELECT account_no, name, address_line_1, address_line_2, address_line_3, town, balance, account_type, overdraft_amount, interest_rate
		FROM bank_accounts ORDER BY account_no`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		log.WithError(err).Error("Failed to execute query for all accounts")
		return nil, err
	}
	defer rows.Close()

	var accounts []*model.AccountRow
	for rows.Next() {
		var acc model.AccountRow
		var accountType int
		var addr1, addr2, addr3 sql.NullString
		if err := rows.Scan(&acc.AccountNo, &acc.Name, &addr1, &addr2, &addr3, &acc.Town,
			&acc.Balance, &accountType, &acc.OverdraftAmount, &acc.InterestRate); err != nil {
			log.WithError(err).Error("Failed to scan account row")
			return nil, err
		}
		acc.AddressLine1, acc.AddressLine2, acc.AddressLine3 = addr1.String, addr2.String, addr3.String
		acc.AccountType = model.AccountType(accountType)
		accounts = append(accounts, &acc)
	}
	if err := rows.Err(); err != nil {
		log.WithError(err).Error("Failed while iterating account rows")
		return nil, err
	}
	return accounts, nil
}

func (r *AccountRepository) UpdateAccountBalance(ctx context.Context, accountNo string, newBalance float64) error {
	log := logger.Log.WithFields(logrus.Fields{
		"account_no":  accountNo,
		"new_balance": newBalance,
	})
	log.Info("Executing query to update account balance")

	query := `UPDATE bank_accounts SET balance = $1 WHERE account_no = $2`
	res, err := r.DB.ExecContext(ctx, query, newBalance, accountNo)
	if err != nil {
		log.WithError(err).Error("Failed to execute update account balance query")
		return err
	}
	return expectOneRow(res)
}

func (r *AccountRepository) DeleteAccount(ctx context.Context, accountNo string) error {
	log := logger.Log.WithField("account_no", accountNo)
	log.Info("Executing query to delete account")

	res, err := r.DB.ExecContext(ctx, `DELETE FROM bank_accounts WHERE account_no = $1`, accountNo)
	if err != nil {
		log.WithError(err).Error("Failed to execute delete account query")
		return err
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRowNotFound
	}
	return nil
}
