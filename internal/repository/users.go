package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/referral-system/internal/dbx"
	"github.com/mmeshcher/referral-system/internal/model"
)

const (
	usersEmailConstraint        = "users_email_key"
	usersReferralCodeConstraint = "users_referral_code_key"

	userColumns = `id, name, email, password_hash, referral_code, referred_by, credits, has_converted, created_at, updated_at`
)

// UserRepository реализует UserLedger поверх пула или транзакции PostgreSQL.
type UserRepository struct {
	db dbx.Querier
}

// NewUserRepository создаёт репозиторий пользователей, привязанный к db.
func NewUserRepository(db dbx.Querier) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID возвращает пользователя по идентификатору.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByIDForUpdate возвращает пользователя и блокирует его строку.
func (r *UserRepository) FindByIDForUpdate(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

// FindByEmail возвращает пользователя по нормализованному email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// FindByReferralCode возвращает владельца реферального кода.
func (r *UserRepository) FindByReferralCode(ctx context.Context, code string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code)
}

// FindByReferralCodeForUpdate возвращает владельца кода и блокирует его строку.
func (r *UserRepository) FindByReferralCodeForUpdate(ctx context.Context, code string) (*model.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = $1 FOR UPDATE`, code)
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg any) (*model.User, error) {
	var (
		u          model.User
		name       sql.NullString
		referredBy sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &name, &u.Email, &u.PasswordHash, &u.ReferralCode, &referredBy,
		&u.Credits, &u.HasConverted, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}

	u.Name = name.String
	u.ReferredBy = referredBy.String

	return &u, nil
}

// ReferralCodeExists сообщает, занят ли реферальный код.
func (r *UserRepository) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE referral_code = $1)`,
		code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check referral code: %w", err)
	}
	return exists, nil
}

// Create сохраняет нового пользователя. ID должен быть заполнен вызывающей стороной.
func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, referral_code, referred_by, credits, has_converted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		u.ID, nullString(u.Name), u.Email, u.PasswordHash, u.ReferralCode, nullString(u.ReferredBy),
		u.Credits, u.HasConverted,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			if pgErr.ConstraintName == usersReferralCodeConstraint {
				return fmt.Errorf("%w: %s", ErrReferralCodeTaken, u.ReferralCode)
			}
			return fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Save сохраняет баланс и признак конверсии. Признак конверсии не может быть сброшен.
func (r *UserRepository) Save(ctx context.Context, u *model.User) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET credits = $2, has_converted = has_converted OR $3, updated_at = now()
		 WHERE id = $1`,
		u.ID, u.Credits, u.HasConverted,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}

	return nil
}

// CountReferred возвращает число пользователей, зарегистрированных по коду.
func (r *UserRepository) CountReferred(ctx context.Context, code string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE referred_by = $1`,
		code,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count referred: %w", err)
	}
	return n, nil
}

// CountConvertedReferred возвращает число приглашённых по коду пользователей, совершивших покупку.
func (r *UserRepository) CountConvertedReferred(ctx context.Context, code string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE referred_by = $1 AND has_converted`,
		code,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count converted referred: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
