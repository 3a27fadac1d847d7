package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"meal-analysis-service/models"

	"github.com/go-sql-driver/mysql"
)

// ErrUserNotFound is returned when no user record matches the uid.
var ErrUserNotFound = errors.New("user not found")

// ErrEmailTaken is returned when the email belongs to a different user.
var ErrEmailTaken = errors.New("email already taken")

// mysqlDuplicateEntry is the MySQL error number for unique-key violations.
const mysqlDuplicateEntry = 1062

// GetUser returns the user record for the given uid.
func (d *Database) GetUser(ctx context.Context, uid string) (*models.User, error) {
	var user models.User
	var email, profileURL sql.NullString

	err := d.db.QueryRowContext(ctx,
		"SELECT uid, email, nickname, profile_image_url FROM users WHERE uid = ?", uid).
		Scan(&user.UID, &email, &user.Nickname, &profileURL)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Email = email.String
	user.ProfileImageURL = profileURL.String
	return &user, nil
}

// CreateUser inserts a new user record.
func (d *Database) CreateUser(ctx context.Context, user models.User) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO users (uid, email, nickname, profile_image_url) VALUES (?, ?, ?, ?)",
		user.UID, nullable(user.Email), user.Nickname, nullable(user.ProfileImageURL))
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdateUser refreshes the mutable profile fields of an existing user.
func (d *Database) UpdateUser(ctx context.Context, user models.User) error {
	result, err := d.db.ExecContext(ctx,
		"UPDATE users SET nickname = ?, profile_image_url = ? WHERE uid = ?",
		user.Nickname, nullable(user.ProfileImageURL), user.UID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		// Zero rows is fine when the profile hasn't changed; MySQL reports 0
		// affected rows for no-op updates as well as missing rows, so verify.
		if _, err := d.GetUser(ctx, user.UID); err != nil {
			return err
		}
	}
	return nil
}

// GetOrCreateUser returns the existing user for the uid, creating the record
// on first login. The profile fields are refreshed on every call so the
// stored nickname and image track the identity provider.
func (d *Database) GetOrCreateUser(ctx context.Context, user models.User) (*models.User, error) {
	existing, err := d.GetUser(ctx, user.UID)
	if err == nil {
		if uerr := d.UpdateUser(ctx, user); uerr != nil {
			return nil, uerr
		}
		existing.Nickname = user.Nickname
		existing.ProfileImageURL = user.ProfileImageURL
		return existing, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	if err := d.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return &user, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
