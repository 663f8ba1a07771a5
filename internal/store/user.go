package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/alliancemanager/apiserver/types"
)

const userColumns = `id, email, username, password_hash, discord_id, discord_username,
		nation_id, nation_name, leader_name, api_key, verified, last_active, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.PasswordHash,
		&user.DiscordID,
		&user.DiscordUsername,
		&user.NationID,
		&user.NationName,
		&user.LeaderName,
		&user.APIKeyCiphertext,
		&user.Verified,
		&user.LastActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByIdentifier looks up a user whose email or username equals identifier.
// Emails are stored lowercased, so the email side matches case-insensitively;
// usernames stay case-sensitive.
func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = lower($1) OR username = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, identifier))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, username))
}

func (r *UserRepository) GetByDiscordID(ctx context.Context, discordID string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE discord_id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, discordID))
}

func (r *UserRepository) GetByNationID(ctx context.Context, nationID int) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE nation_id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, nationID))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (id, email, username, password_hash, discord_id, discord_username,
			verified, last_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Email,
		user.Username,
		user.PasswordHash,
		user.DiscordID,
		user.DiscordUsername,
		user.Verified,
		user.LastActive,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrDuplicate
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	user.UpdatedAt = time.Now()

	const query = `
		UPDATE users
		SET email = $1,
			username = $2,
			password_hash = $3,
			discord_id = $4,
			discord_username = $5,
			nation_id = $6,
			nation_name = $7,
			leader_name = $8,
			api_key = $9,
			verified = $10,
			last_active = $11,
			updated_at = $12
		WHERE id = $13`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.Email,
		user.Username,
		user.PasswordHash,
		user.DiscordID,
		user.DiscordUsername,
		user.NationID,
		user.NationName,
		user.LeaderName,
		user.APIKeyCiphertext,
		user.Verified,
		user.LastActive,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrDuplicate
		}
		return types.User{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.User{}, err
	}
	if affected == 0 {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

// TouchLastActive marks the user as active without rewriting other fields.
func (r *UserRepository) TouchLastActive(ctx context.Context, id string) error {
	const query = `UPDATE users SET last_active = now(), updated_at = now() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
