// Package store keeps the records behind the peripheral HTTP endpoints:
// accounts, archived chat lines and named rooms. The relay never reads it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/vipulgupta28/DrawIt/internal/types"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// DefaultChatLimit caps ChatsByRoom when no limit is given.
const DefaultChatLimit = 50

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and applies
// the schema. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite serializes writers; one connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)

	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}
	log.Info().Str("module", "store").Str("path", path).Msg("record store ready")
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func ensureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	stmts := []string{`
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        username TEXT NOT NULL UNIQUE,
        password_hash BLOB NOT NULL,
        created_at TIMESTAMP NOT NULL
    );`, `
    CREATE TABLE IF NOT EXISTS chats (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        room_id TEXT NOT NULL,
        user_id TEXT NOT NULL,
        message TEXT NOT NULL,
        created_at TIMESTAMP NOT NULL
    );`,
		`CREATE INDEX IF NOT EXISTS chats_room_id ON chats (room_id, id);`, `
    CREATE TABLE IF NOT EXISTS rooms (
        slug TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        admin_id TEXT NOT NULL,
        created_at TIMESTAMP NOT NULL
    );`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateUser inserts u. A taken username or id yields ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u types.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, username, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Username, u.PasswordHash, u.CreatedAt)
	return mapErr(err)
}

func (s *Store) UserByUsername(ctx context.Context, username string) (types.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, username, password_hash, created_at FROM users WHERE username = ?`, username)

	var u types.User
	if err := row.Scan(&u.ID, &u.Name, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		return types.User{}, mapErr(err)
	}
	return u, nil
}

// AddChat archives one chat line and returns it with its id.
func (s *Store) AddChat(ctx context.Context, roomID, userID, message string) (types.ChatMessage, error) {
	msg := types.ChatMessage{
		RoomID:    roomID,
		UserID:    userID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (room_id, user_id, message, created_at) VALUES (?, ?, ?, ?)`,
		msg.RoomID, msg.UserID, msg.Message, msg.CreatedAt)
	if err != nil {
		return types.ChatMessage{}, mapErr(err)
	}
	if msg.ID, err = res.LastInsertId(); err != nil {
		return types.ChatMessage{}, err
	}
	return msg, nil
}

// ChatsByRoom returns the newest limit chat lines of roomID in chronological
// order. The result is never nil.
func (s *Store) ChatsByRoom(ctx context.Context, roomID string, limit int) ([]types.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultChatLimit
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, room_id, user_id, message, created_at
        FROM chats
        WHERE room_id = ?
        ORDER BY id DESC
        LIMIT ?
    `, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []types.ChatMessage{}
	for rows.Next() {
		var msg types.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.UserID, &msg.Message, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// CreateRoom inserts r. A taken slug yields ErrConflict.
func (s *Store) CreateRoom(ctx context.Context, r types.Room) (types.Room, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (slug, name, admin_id, created_at) VALUES (?, ?, ?, ?)`,
		r.Slug, r.Name, r.AdminID, r.CreatedAt)
	if err != nil {
		return types.Room{}, mapErr(err)
	}
	return r, nil
}

func (s *Store) RoomBySlug(ctx context.Context, slug string) (types.Room, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT slug, name, admin_id, created_at FROM rooms WHERE slug = ?`, slug)

	var r types.Room
	if err := row.Scan(&r.Slug, &r.Name, &r.AdminID, &r.CreatedAt); err != nil {
		return types.Room{}, mapErr(err)
	}
	return r, nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}
