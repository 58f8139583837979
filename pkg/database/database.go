package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var (
	// ErrDuplicateUser indicates the username is already registered.
	ErrDuplicateUser = errors.New("username already exists")
	// ErrUserNotFound indicates no account exists for the username.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials indicates the password did not match.
	ErrInvalidCredentials = errors.New("invalid password")
)

// Delivery states for stored messages. Transitions are one-way:
// undelivered -> delivered -> read.
const (
	StateUndelivered = 0
	StateDelivered   = 1
	StateRead        = 2
)

// Message is a persisted chat message. Recipient is empty for broadcasts.
type Message struct {
	ID        int64
	Sender    string
	Recipient string
	Content   string
	Timestamp int64 // Unix timestamp in milliseconds
	Kind      string
	State     int
}

// DB wraps the SQLite database connection
type DB struct {
	conn      *sql.DB // Read connection pool (25 connections)
	writeConn *sql.DB // Dedicated write connection (1 connection)
}

// Open opens a connection to the SQLite database at the given path
// and initializes the schema if needed
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Multiple readers are fine in WAL mode; writes go through writeConn.
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := applyPragmas(conn); err != nil {
		conn.Close()
		return nil, err
	}

	// Dedicated write connection: exactly 1 connection, no pooling (SQLite
	// allows one writer at a time).
	writeConn, err := sql.Open("sqlite", path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0) // Never expire

	if err := applyPragmas(writeConn); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, err
	}

	db := &DB{conn: conn, writeConn: writeConn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func applyPragmas(conn *sql.DB) error {
	pragmas := []string{
		// WAL allows multiple readers and one writer at the same time
		"PRAGMA journal_mode = WAL",
		// Wait and retry instead of immediately failing with SQLITE_BUSY
		"PRAGMA busy_timeout = 5000",
		// SQLite has foreign keys disabled by default
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	db.writeConn.Close()
	return db.conn.Close()
}

// initSchema creates all tables and indexes if they don't exist
func (db *DB) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS User (
	username TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

-- recipient is '' for broadcast messages
CREATE TABLE IF NOT EXISTS Message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender TEXT NOT NULL,
	recipient TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	kind TEXT NOT NULL,
	delivery_state INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_recipient ON Message(recipient, id DESC);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON Message(sender, recipient);
CREATE INDEX IF NOT EXISTS idx_messages_unread ON Message(recipient, delivery_state);
`

	_, err := db.writeConn.Exec(schema)
	return err
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// CreateUser registers a new account, hashing the password with bcrypt.
func (db *DB) CreateUser(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	_, err = db.writeConn.Exec(`
		INSERT INTO User (username, password_hash, created_at)
		VALUES (?, ?, ?)
	`, username, string(hash), nowMillis())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateUser
		}
		return err
	}
	return nil
}

// VerifyUser checks the password for an existing account.
func (db *DB) VerifyUser(username, password string) error {
	var hash string
	err := db.conn.QueryRow(`
		SELECT password_hash FROM User WHERE username = ?
	`, username).Scan(&hash)
	if err == sql.ErrNoRows {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// UserExists reports whether an account exists for the username.
func (db *DB) UserExists(username string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM User WHERE username = ?
	`, username).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AllUsers returns every registered username, sorted.
func (db *DB) AllUsers() ([]string, error) {
	rows, err := db.conn.Query(`SELECT username FROM User ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		users = append(users, name)
	}
	return users, rows.Err()
}

// DeleteUser removes the account and every message it sent or received.
func (db *DB) DeleteUser(username string) error {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`DELETE FROM User WHERE username = ?`, username)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}

	if _, err := tx.Exec(`
		DELETE FROM Message WHERE sender = ? OR recipient = ?
	`, username, username); err != nil {
		return err
	}

	return tx.Commit()
}

// StoreMessage persists a message and returns its assigned id.
func (db *DB) StoreMessage(msg *Message) (int64, error) {
	result, err := db.writeConn.Exec(`
		INSERT INTO Message (sender, recipient, content, timestamp, kind, delivery_state)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.Sender, msg.Recipient, msg.Content, msg.Timestamp, msg.Kind, msg.State)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// FetchMessages returns the newest messages the user sent or received,
// including broadcasts, newest first.
func (db *DB) FetchMessages(username string, limit int) ([]*Message, error) {
	rows, err := db.conn.Query(`
		SELECT id, sender, recipient, content, timestamp, kind, delivery_state
		FROM Message
		WHERE sender = ? OR recipient = ? OR recipient = ''
		ORDER BY id DESC
		LIMIT ?
	`, username, username, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// MessagesBetween returns the newest messages exchanged between two users,
// in either direction, newest first.
func (db *DB) MessagesBetween(a, b string, limit int) ([]*Message, error) {
	rows, err := db.conn.Query(`
		SELECT id, sender, recipient, content, timestamp, kind, delivery_state
		FROM Message
		WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		ORDER BY id DESC
		LIMIT ?
	`, a, b, b, a, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Content, &m.Timestamp, &m.Kind, &m.State); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// SetDelivered advances the given messages to delivered. Messages already
// delivered or read are left alone.
func (db *DB) SetDelivered(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		UPDATE Message SET delivery_state = ?
		WHERE id IN (%s) AND delivery_state < ?
	`, placeholders(len(ids)))

	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, StateDelivered)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, StateDelivered)

	_, err := db.writeConn.Exec(query, args...)
	return err
}

// SetRead marks the given messages as read, but only those addressed to the
// recipient. Returns how many rows actually changed state.
func (db *DB) SetRead(ids []int64, recipient string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`
		UPDATE Message SET delivery_state = ?
		WHERE id IN (%s) AND recipient = ? AND delivery_state < ?
	`, placeholders(len(ids)))

	args := make([]interface{}, 0, len(ids)+3)
	args = append(args, StateRead)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, recipient, StateRead)

	result, err := db.writeConn.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SetReadFrom marks every message from sender to recipient as read.
func (db *DB) SetReadFrom(sender, recipient string) (int64, error) {
	result, err := db.writeConn.Exec(`
		UPDATE Message SET delivery_state = ?
		WHERE sender = ? AND recipient = ? AND delivery_state < ?
	`, StateRead, sender, recipient, StateRead)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteMessages removes the given messages, but only those belonging to the
// conversation between requester and counterpart (either direction). Returns
// the rows that were actually deleted so callers can adjust unread counts.
func (db *DB) DeleteMessages(ids []int64, requester, counterpart string) ([]*Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ph := placeholders(len(ids))
	args := make([]interface{}, 0, len(ids)+4)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, requester, counterpart, counterpart, requester)

	// Select and delete in one transaction so the returned rows are exactly
	// the ones removed, even under concurrent deletes of the same conversation.
	tx, err := db.writeConn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(fmt.Sprintf(`
		SELECT id, sender, recipient, content, timestamp, kind, delivery_state
		FROM Message
		WHERE id IN (%s)
		  AND ((sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?))
	`, ph), args...)
	if err != nil {
		return nil, err
	}
	deleted, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(deleted) == 0 {
		return nil, nil
	}

	delArgs := make([]interface{}, 0, len(deleted))
	for _, m := range deleted {
		delArgs = append(delArgs, m.ID)
	}
	if _, err := tx.Exec(fmt.Sprintf(`
		DELETE FROM Message WHERE id IN (%s)
	`, placeholders(len(deleted))), delArgs...); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return deleted, nil
}

// UnreadCount counts messages for the user still awaiting delivery.
func (db *DB) UnreadCount(username string) (int, error) {
	var n int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM Message
		WHERE recipient = ? AND delivery_state = ?
	`, username, StateUndelivered).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
