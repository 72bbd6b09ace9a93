package db

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
)

/**
DB tables:
- users:
	- user_id: bigint - Telegram user ID
	- chat_id: bigint - private chat to send notifications to
	- username: text - Telegram username, may be empty
	- created_on: timestamptz

- birthdays:
	- id: bigserial
	- owner: bigint - user who registered the birthday
	- name: varchar(100)
	- month, day: smallint
	- year: smallint - NULL if unknown
	- lead_days: smallint - 0 means no advance reminder
	- created_on: timestamptz

Indexes:
- birthdays (owner, month, day)
*/

//go:embed schema.sql
var schema string

const DefaultMaxBirthdays = 500

// pgxIface is the part of pgxpool.Pool the store relies on.
type pgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store keeps users and their birthdays.
type Store interface {
	CreateUser(ctx context.Context, usr, cht int64, username string) error
	CreateBirthday(ctx context.Context, nb NewBirthday) (int64, error)
	ListBirthdays(ctx context.Context, owner int64) ([]Birthday, error)
	DeleteBirthday(ctx context.Context, id, owner int64) (bool, error)
	CountBirthdays(ctx context.Context, owner int64) (int, error)
	ScanBirthdays(ctx context.Context) ([]Scheduled, error)
	Ping(ctx context.Context) error
	Close()
}

var (
	_ Store = (*Database)(nil)
	_ Store = (*Memory)(nil)
)

type Database struct {
	conn         pgxIface
	clk          clock.Clock
	Timeout      time.Duration
	MaxBirthdays int
	Location     *time.Location // calendar of the users, bounds birth years
}

func NewDatabase(ctx context.Context, connStr string) (*Database, error) {
	// connection string should look like postgresql://localhost:5432/birthdays?user=admn&password=passwd
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed creating connection pool")
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed connecting to database")
	}

	return newDatabase(pool, clock.New()), nil
}

func newDatabase(conn pgxIface, clk clock.Clock) *Database {
	return &Database{
		conn:         conn,
		clk:          clk,
		Timeout:      5 * time.Second,
		MaxBirthdays: DefaultMaxBirthdays,
		Location:     time.UTC,
	}
}

func (d *Database) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.Timeout)
}

// Migrate creates the tables if they don't exist yet
func (d *Database) Migrate(ctx context.Context) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	if _, err := d.conn.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "failed applying schema")
	}
	return nil
}

// CreateUser creates a new user or updates chat ID for the case when the bot was deleted earlier
func (d *Database) CreateUser(ctx context.Context, usr, cht int64, username string) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	_, err := d.conn.Exec(ctx, `INSERT INTO users(user_id, chat_id, username, created_on)
VALUES($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE SET chat_id=EXCLUDED.chat_id, username=EXCLUDED.username`,
		usr, cht, username, d.clk.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "failed upserting user")
	}
	return nil
}

// CreateBirthday inserts the birthday unless the owner already has MaxBirthdays
// of them. Count and insert happen under a per-owner lock, so concurrent
// inserts can't overshoot the cap.
func (d *Database) CreateBirthday(ctx context.Context, nb NewBirthday) (int64, error) {
	nb.Name = NormalizeName(nb.Name)
	if err := nb.Validate(d.clk.Now().In(d.Location)); err != nil {
		return 0, err
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	tx, err := d.conn.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, nb.Owner); err != nil {
		return 0, errors.Wrap(err, "failed locking owner")
	}

	var n int64
	if err = tx.QueryRow(ctx, `SELECT count(*) FROM birthdays WHERE owner=$1`, nb.Owner).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed counting birthdays")
	}
	if d.MaxBirthdays > 0 && n >= int64(d.MaxBirthdays) {
		return 0, ErrCapacity
	}

	var year any
	if nb.Date.HasYear() {
		year = int64(nb.Date.Year)
	}

	var id int64
	err = tx.QueryRow(ctx, `INSERT INTO birthdays(owner, name, month, day, year, lead_days, created_on)
VALUES($1, $2, $3, $4, $5, $6, $7)
RETURNING id`,
		nb.Owner, nb.Name, int64(nb.Date.Month), int64(nb.Date.Day), year, int64(nb.LeadDays), d.clk.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "failed inserting birthday")
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "failed to commit")
	}
	return id, nil
}

// ListBirthdays returns the owner's birthdays in calendar order
func (d *Database) ListBirthdays(ctx context.Context, owner int64) ([]Birthday, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	rows, err := d.conn.Query(ctx, `SELECT id, owner, name, month, day, year, lead_days
FROM birthdays
WHERE owner=$1
ORDER BY month, day, id`, owner)
	if err != nil {
		return nil, errors.Wrap(err, "failed querying birthdays")
	}
	defer rows.Close()

	var bs []Birthday
	for rows.Next() {
		b, err := scanBirthday(rows)
		if err != nil {
			return nil, err
		}
		bs = append(bs, b)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed reading birthdays")
	}

	return bs, nil
}

// DeleteBirthday removes the birthday if it belongs to the owner. It reports
// whether anything was deleted.
func (d *Database) DeleteBirthday(ctx context.Context, id, owner int64) (bool, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	tag, err := d.conn.Exec(ctx, `DELETE FROM birthdays WHERE id=$1 AND owner=$2`, id, owner)
	if err != nil {
		return false, errors.Wrap(err, "failed deleting birthday")
	}
	return tag.RowsAffected() > 0, nil
}

func (d *Database) CountBirthdays(ctx context.Context, owner int64) (int, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := d.conn.QueryRow(ctx, `SELECT count(*) FROM birthdays WHERE owner=$1`, owner).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed counting birthdays")
	}
	return int(n), nil
}

// ScanBirthdays returns every birthday whose owner has a chat to notify
func (d *Database) ScanBirthdays(ctx context.Context) ([]Scheduled, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	rows, err := d.conn.Query(ctx, `SELECT b.id, b.owner, b.name, b.month, b.day, b.year, b.lead_days, u.chat_id
FROM birthdays b
	JOIN users u ON u.user_id=b.owner
ORDER BY b.owner, b.month, b.day, b.id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed scanning birthdays")
	}
	defer rows.Close()

	var ss []Scheduled
	for rows.Next() {
		var s Scheduled
		s.Birthday, err = scanBirthday(rows, &s.ChatID)
		if err != nil {
			return nil, err
		}
		ss = append(ss, s)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed reading birthdays")
	}

	return ss, nil
}

func (d *Database) Ping(ctx context.Context) error {
	return d.conn.Ping(ctx)
}

func (d *Database) Close() {
	d.conn.Close()
}

// scanBirthday reads a birthdays row, extra destinations follow the birthday columns
func scanBirthday(rows pgx.Rows, extra ...any) (Birthday, error) {
	var b Birthday
	var month, day, lead int16
	var year sql.NullInt16

	dest := append([]any{&b.ID, &b.Owner, &b.Name, &month, &day, &year, &lead}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return Birthday{}, errors.Wrap(err, "failed scanning birthday")
	}

	b.Month = time.Month(month)
	b.Day = int(day)
	b.LeadDays = int(lead)
	if year.Valid {
		b.Year = int(year.Int16)
	}
	return b, nil
}
