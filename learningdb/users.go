// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package learningdb

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"storj.io/regionshard/driver"
	"storj.io/regionshard/topology"
)

// UserType is the role of a user.
type UserType string

// User types.
const (
	Student    UserType = "student"
	Instructor UserType = "instructor"
	Admin      UserType = "admin"
)

// UserStatus is the account status of a user.
type UserStatus string

// User statuses. Inactive users are kept for their history but cannot
// enroll.
const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
)

// Profile is the descriptive part of a user record.
type Profile struct {
	FirstName   string
	LastName    string
	Country     string
	City        string
	PhoneNumber string
	Bio         string
}

// User is a user living in the region of its shard.
type User struct {
	UserID    string
	Email     string
	Type      UserType
	Region    topology.PartitionKey
	Status    UserStatus
	Profile   Profile
	CreatedAt time.Time
	UpdatedAt time.Time
	LastLogin *time.Time
}

// NewUser contains the fields of a user to create.
type NewUser struct {
	Email   string
	Type    UserType
	Profile Profile
}

// UserFilter selects users of a region.
type UserFilter struct {
	// Type is ignored when empty.
	Type UserType
	// Status defaults to UserActive.
	Status UserStatus
	Limit  int
	Offset int
}

const userColumns = `user_id, email, user_type, region, status,
	first_name, last_name, country, city, phone_number, bio,
	created_at, updated_at, last_login`

func scanUser(row scanner) (user User, err error) {
	var userType, region, status string
	var lastLogin sql.NullTime
	err = row.Scan(&user.UserID, &user.Email, &userType, &region, &status,
		&user.Profile.FirstName, &user.Profile.LastName, &user.Profile.Country, &user.Profile.City,
		&user.Profile.PhoneNumber, &user.Profile.Bio,
		&user.CreatedAt, &user.UpdatedAt, &lastLogin)
	user.Type = UserType(userType)
	user.Region = topology.PartitionKey(region)
	user.Status = UserStatus(status)
	user.LastLogin = timePtr(lastLogin)
	return user, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser creates a user on the shard of region. Emails are unique per
// shard and compared case insensitively.
func (db *DB) CreateUser(ctx context.Context, region topology.PartitionKey, create NewUser) (user User, err error) {
	defer mon.Task()(&ctx)(&err)

	email := normalizeEmail(create.Email)
	if !strings.Contains(email, "@") {
		return User{}, Error.New("invalid email %q", create.Email)
	}
	switch create.Type {
	case "":
		create.Type = Student
	case Student, Instructor, Admin:
	default:
		return User{}, Error.New("unknown user type %q", create.Type)
	}

	now := db.now()
	user = User{
		UserID:    uuid.NewString(),
		Email:     email,
		Type:      create.Type,
		Region:    region.Normalize(),
		Status:    UserActive,
		Profile:   create.Profile,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = db.router.Transact(ctx, region, func(ctx context.Context, tx driver.Tx) error {
		var existing int
		err := tx.QueryRowContext(ctx, db.rebind(`SELECT COUNT(*) FROM users WHERE email = ?`), email).Scan(&existing)
		if err != nil {
			return Error.Wrap(err)
		}
		if existing > 0 {
			return ErrConflict.New("email %q is already registered", email)
		}

		_, err = tx.ExecContext(ctx, db.rebind(`
			INSERT INTO users (user_id, email, user_type, region, status,
				first_name, last_name, country, city, phone_number, bio, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			user.UserID, user.Email, string(user.Type), string(user.Region), string(user.Status),
			user.Profile.FirstName, user.Profile.LastName, user.Profile.Country, user.Profile.City,
			user.Profile.PhoneNumber, user.Profile.Bio, now, now)
		return Error.Wrap(err)
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// GetUser returns a user by id.
func (db *DB) GetUser(ctx context.Context, region topology.PartitionKey, userID string) (user User, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.read(ctx, region, func(ctx context.Context, conn driver.Conn) error {
		var err error
		user, err = scanUser(conn.QueryRowContext(ctx, db.rebind(
			`SELECT `+userColumns+` FROM users WHERE user_id = ?`), userID))
		return notFound(err, "user %q", userID)
	})
	return user, err
}

// GetUserByEmail returns a user by email.
func (db *DB) GetUserByEmail(ctx context.Context, region topology.PartitionKey, email string) (user User, err error) {
	defer mon.Task()(&ctx)(&err)

	email = normalizeEmail(email)
	err = db.read(ctx, region, func(ctx context.Context, conn driver.Conn) error {
		var err error
		user, err = scanUser(conn.QueryRowContext(ctx, db.rebind(
			`SELECT `+userColumns+` FROM users WHERE email = ?`), email))
		return notFound(err, "user with email %q", email)
	})
	return user, err
}

// UpdateUserProfile replaces the profile of a user.
func (db *DB) UpdateUserProfile(ctx context.Context, region topology.PartitionKey, userID string, profile Profile) (err error) {
	defer mon.Task()(&ctx)(&err)

	return db.write(ctx, region, func(ctx context.Context, conn driver.Conn) error {
		result, err := conn.ExecContext(ctx, db.rebind(`
			UPDATE users SET first_name = ?, last_name = ?, country = ?, city = ?,
				phone_number = ?, bio = ?, updated_at = ?
			WHERE user_id = ?`),
			profile.FirstName, profile.LastName, profile.Country, profile.City,
			profile.PhoneNumber, profile.Bio, db.now(), userID)
		if err != nil {
			return Error.Wrap(err)
		}
		return expectAffected(result, "user %q", userID)
	})
}

// RecordLogin sets the last login time of a user to now.
func (db *DB) RecordLogin(ctx context.Context, region topology.PartitionKey, userID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return db.write(ctx, region, func(ctx context.Context, conn driver.Conn) error {
		result, err := conn.ExecContext(ctx, db.rebind(
			`UPDATE users SET last_login = ? WHERE user_id = ?`), db.now(), userID)
		if err != nil {
			return Error.Wrap(err)
		}
		return expectAffected(result, "user %q", userID)
	})
}

// DeactivateUser marks a user inactive. The record and its enrollments stay.
func (db *DB) DeactivateUser(ctx context.Context, region topology.PartitionKey, userID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return db.write(ctx, region, func(ctx context.Context, conn driver.Conn) error {
		result, err := conn.ExecContext(ctx, db.rebind(
			`UPDATE users SET status = ?, updated_at = ? WHERE user_id = ?`),
			string(UserInactive), db.now(), userID)
		if err != nil {
			return Error.Wrap(err)
		}
		return expectAffected(result, "user %q", userID)
	})
}

// ListUsers returns the users of a region, newest first.
func (db *DB) ListUsers(ctx context.Context, region topology.PartitionKey, filter UserFilter) (users []User, err error) {
	defer mon.Task()(&ctx)(&err)

	if filter.Status == "" {
		filter.Status = UserActive
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE region = ? AND status = ?`
	args := []interface{}{string(region.Normalize()), string(filter.Status)}
	if filter.Type != "" {
		query += ` AND user_type = ?`
		args = append(args, string(filter.Type))
	}
	query += ` ORDER BY created_at DESC, user_id LIMIT ? OFFSET ?`
	args = append(args, limitOr(filter.Limit, 50), filter.Offset)

	err = db.read(ctx, region, func(ctx context.Context, conn driver.Conn) (err error) {
		users = nil
		rows, err := conn.QueryContext(ctx, db.rebind(query), args...)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

		for rows.Next() {
			user, err := scanUser(rows)
			if err != nil {
				return err
			}
			users = append(users, user)
		}
		return rows.Err()
	})
	return users, err
}
