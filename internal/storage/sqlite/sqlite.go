package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"accounts/internal/domain/models"
	"accounts/internal/storage"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const accountColumns = "id, username, email, fullname, pass_hash, avatar, cover_image, refresh_token_hash, created_at, updated_at"

type Storage struct {
	db *sql.DB
}

// New returns a new instance of the Storage. The schema is expected to be
// migrated already, see Migrate.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"

	db, err := sql.Open("sqlite3", storagePath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// A single connection serializes writers; sqlite allows one at a time anyway.
	db.SetMaxOpenConns(1)

	return &Storage{db: db}, nil
}

// Migrate applies the embedded schema migrations to the database at storagePath.
func Migrate(storagePath string) error {
	const op = "storage.sqlite.Migrate"

	if err := os.MkdirAll(filepath.Dir(storagePath), 0o750); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite3://"+storagePath)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) SaveAccount(ctx context.Context, acc models.Account) (*models.Account, error) {
	const op = "storage.sqlite.SaveAccount"

	now := time.Now().UTC()
	acc.ID = uuid.NewString()
	acc.CreatedAt = now
	acc.UpdatedAt = now

	stmt, err := s.db.PrepareContext(ctx, "INSERT INTO users ("+accountColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx,
		acc.ID, acc.Username, acc.Email, acc.FullName, acc.PassHash,
		acc.Avatar, acc.CoverImage, nullable(acc.RefreshTokenHash), acc.CreatedAt, acc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &acc, nil
}

func (s *Storage) Account(ctx context.Context, lookup models.Lookup) (*models.Account, error) {
	const op = "storage.sqlite.Account"

	if lookup.Username == "" && lookup.Email == "" {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM users WHERE (username = ? AND ? <> '') OR (email = ? AND ? <> '') LIMIT 1",
		lookup.Username, lookup.Username, lookup.Email, lookup.Email,
	)

	acc, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

func (s *Storage) AccountByID(ctx context.Context, id string) (*models.Account, error) {
	const op = "storage.sqlite.AccountByID"

	acc, err := scanAccount(s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM users WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

// UpdateAccount applies upd in a single transaction. When
// upd.IfRefreshTokenHash is set the row only changes while the stored digest
// still matches it.
func (s *Storage) UpdateAccount(ctx context.Context, id string, upd models.AccountUpdate) (*models.Account, error) {
	const op = "storage.sqlite.UpdateAccount"

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if upd.FullName != nil {
		sets = append(sets, "fullname = ?")
		args = append(args, *upd.FullName)
	}
	if upd.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *upd.Email)
	}
	if upd.Avatar != nil {
		sets = append(sets, "avatar = ?")
		args = append(args, *upd.Avatar)
	}
	if upd.CoverImage != nil {
		sets = append(sets, "cover_image = ?")
		args = append(args, *upd.CoverImage)
	}
	if upd.PassHash != nil {
		sets = append(sets, "pass_hash = ?")
		args = append(args, upd.PassHash)
	}
	if upd.RefreshTokenHash != nil {
		sets = append(sets, "refresh_token_hash = ?")
		args = append(args, nullable(*upd.RefreshTokenHash))
	}

	query := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)

	if upd.IfRefreshTokenHash != nil {
		if *upd.IfRefreshTokenHash == "" {
			query += " AND refresh_token_hash IS NULL"
		} else {
			query += " AND refresh_token_hash = ?"
			args = append(args, *upd.IfRefreshTokenHash)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	acc, err := scanAccount(tx.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM users WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrRefreshTokenMismatch)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return acc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		acc          models.Account
		refreshToken sql.NullString
	)

	err := row.Scan(
		&acc.ID, &acc.Username, &acc.Email, &acc.FullName, &acc.PassHash,
		&acc.Avatar, &acc.CoverImage, &refreshToken, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}

	acc.RefreshTokenHash = refreshToken.String

	return &acc, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
