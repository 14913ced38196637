package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/treykane/ssh-tunnel-manager/internal/model"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	position INTEGER NOT NULL,
	name TEXT UNIQUE NOT NULL,
	hostname TEXT,
	port INTEGER NOT NULL,
	username TEXT,
	password TEXT,
	identity_path TEXT,
	pass_phrase TEXT,
	compressed INTEGER NOT NULL DEFAULT 0,
	ciphers TEXT,
	debug_log_path TEXT
);

CREATE TABLE IF NOT EXISTS tunnels (
	session_id INTEGER NOT NULL,
	position INTEGER NOT NULL,
	direction TEXT NOT NULL,
	source_host TEXT NOT NULL DEFAULT '',
	source_port INTEGER NOT NULL,
	destination_host TEXT NOT NULL,
	destination_port INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,
	PRIMARY KEY (session_id, position)
);

CREATE INDEX IF NOT EXISTS idx_tunnels_session ON tunnels(session_id);
`

// SQLiteStore keeps sessions in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path and bootstraps the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, ferr := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
		if ferr == nil {
			_ = f.Close()
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The driver opens a connection per goroutine; one is enough here and
	// keeps the foreign_keys pragma in effect.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file.
func (q *SQLiteStore) Path() string { return q.path }

// Load reads all sessions in stored order with their tunnels.
func (q *SQLiteStore) Load() ([]*model.Session, error) {
	rows, err := q.db.Query(`SELECT id, name, hostname, port, username, password, identity_path,
		pass_phrase, compressed, ciphers, debug_log_path FROM sessions ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	type row struct {
		id  int64
		rec record
	}
	var recs []row
	for rows.Next() {
		var (
			r                                                  row
			host, user, pass, ident, phrase, ciphers, debugLog sql.NullString
		)
		if err := rows.Scan(&r.id, &r.rec.Name, &host, &r.rec.Port, &user, &pass, &ident,
			&phrase, &r.rec.Compressed, &ciphers, &debugLog); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		r.rec.Hostname = fromNull(host)
		r.rec.Username = fromNull(user)
		r.rec.Password = fromNull(pass)
		r.rec.IdentityPath = fromNull(ident)
		r.rec.PassPhrase = fromNull(phrase)
		r.rec.Ciphers = fromNull(ciphers)
		r.rec.DebugLogPath = fromNull(debugLog)
		recs = append(recs, r)
	}
	if err := multierr.Combine(rows.Err(), rows.Close()); err != nil {
		return nil, err
	}

	out := make([]*model.Session, 0, len(recs))
	for _, r := range recs {
		tunnels, err := q.tunnels(r.id)
		if err != nil {
			return nil, err
		}
		r.rec.Tunnels = tunnels
		s, err := r.rec.session()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (q *SQLiteStore) tunnels(sessionID int64) ([]model.Tunnel, error) {
	rows, err := q.db.Query(`SELECT direction, source_host, source_port, destination_host,
		destination_port, description FROM tunnels WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query tunnels: %w", err)
	}
	defer rows.Close()
	var out []model.Tunnel
	for rows.Next() {
		var t model.Tunnel
		if err := rows.Scan(&t.Direction, &t.SourceHost, &t.SourcePort, &t.DestinationHost,
			&t.DestinationPort, &t.Description); err != nil {
			return nil, fmt.Errorf("scan tunnel: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Save replaces the stored sessions in one transaction.
func (q *SQLiteStore) Save(sessions []*model.Session) (err error) {
	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()
	if _, err = tx.Exec(`DELETE FROM tunnels`); err != nil {
		return fmt.Errorf("clear tunnels: %w", err)
	}
	if _, err = tx.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	for pos, s := range sessions {
		r := toRecord(s)
		res, err := tx.Exec(`INSERT INTO sessions (position, name, hostname, port, username, password,
			identity_path, pass_phrase, compressed, ciphers, debug_log_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			pos, r.Name, toNull(r.Hostname), r.Port, toNull(r.Username), toNull(r.Password),
			toNull(r.IdentityPath), toNull(r.PassPhrase), r.Compressed, toNull(r.Ciphers), toNull(r.DebugLogPath))
		if err != nil {
			return fmt.Errorf("insert session %q: %w", r.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for tpos, t := range r.Tunnels {
			if _, err := tx.Exec(`INSERT INTO tunnels (session_id, position, direction, source_host,
				source_port, destination_host, destination_port, description)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				id, tpos, string(t.Direction), t.SourceHost, t.SourcePort, t.DestinationHost,
				t.DestinationPort, t.Description); err != nil {
				return fmt.Errorf("insert tunnel %d of %q: %w", tpos, r.Name, err)
			}
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (q *SQLiteStore) Close() error {
	if q.db != nil {
		return q.db.Close()
	}
	return nil
}

func toNull(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func fromNull(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}
