// Package exitjournal records reaped children in a sqlite database, including orphans
// that nobody was waiting on.
package exitjournal

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/square/childwait/pkg/logging"
	"github.com/square/childwait/pkg/reaper"
	"github.com/square/childwait/pkg/util"
)

type Journal interface {
	// Closes any resources such as database connection
	Close() error
	// Inserts a row for one reaped child
	Insert(exit ExitRecord) error
	// Runs any outstanding migrations
	Migrate() error
	// Reads all exits recorded after the given ID
	GetLatestExits(lastID int64) ([]ExitRecord, error)
	// Gets the most recent exit recorded for pid
	LastExitForPid(pid int) (ExitRecord, error)
	// Deletes exits recorded before the given time
	PruneRowsBefore(time.Time) error
}

type sqliteJournal struct {
	db     *sql.DB
	logger logging.Logger
}

func NewSQLiteJournal(sqliteDBPath string, logger logging.Logger) (Journal, error) {
	db, err := sql.Open("sqlite3", sqliteDBPath)
	if err != nil {
		return nil, util.Errorf("Could not open database: %s", err)
	}

	return sqliteJournal{
		db:     db,
		logger: logger,
	}, nil
}

// Represents a row in the sqlite database for one reaped child.
type ExitRecord struct {
	Pid     int    `json:"pid"`
	Command string `json:"command"`
	// True if the child was reaped from the orphan queue
	Orphaned bool `json:"orphaned"`

	// ExitCode is -1 when the child was killed by a signal, in which case Signal is set.
	ExitCode int `json:"exit_code"`
	Signal   int `json:"signal"`

	// This is never written explicitly and is determined automatically by
	// sqlite (via AUTOINCREMENT)
	ID int64

	// This is never written explicitly, it's determined automatically by
	// sqlite (via DEFAULT CURRENT_TIMESTAMP)
	ExitTime time.Time `json:"exit_time"`
}

// RecordFromStatus builds the row for a child that exited with status.
func RecordFromStatus(pid int, command string, orphaned bool, status reaper.ExitStatus) ExitRecord {
	record := ExitRecord{
		Pid:      pid,
		Command:  command,
		Orphaned: orphaned,
		ExitCode: -1,
	}
	if code, ok := status.Code(); ok {
		record.ExitCode = code
	}
	if sig, ok := status.Signal(); ok {
		record.Signal = int(sig)
	}
	return record
}

func (s sqliteJournal) Insert(exit ExitRecord) error {
	stmt := `insert into exits(
		    pid,
		    command,
		    orphaned,
		    exit_code,
		    signal
		  ) VALUES(?, ?, ?, ?, ?)`
	_, err := s.db.Exec(stmt,
		exit.Pid,
		exit.Command,
		exit.Orphaned,
		exit.ExitCode,
		exit.Signal,
	)
	if err != nil {
		return util.Errorf("Couldn't insert exit into sqlite database: %s", err)
	}

	return nil
}

// Not considered a migration
const (
	getSchemaVersionQuery        = `select version from schema_version;`
	updateSchemaVersionStatement = `update schema_version set version = ?;`

	// This will always be run, and is idempotent
	sqliteCreateSchemaVersionTable = `create table if not exists schema_version ( version integer );`

	// Only run when the schema_version table was just created and has no rows
	sqliteInitializeSchemaVersionTable = `insert into schema_version(version) values ( 0 );`
)

var (
	sqliteMigrations = []string{
		`create table exits (
	    id integer not null primary key autoincrement,
	    date datetime default current_timestamp,
	    pid integer,
	    command text,
	    exit_code integer,
	    signal integer
	);`,
		`alter table exits add column orphaned boolean not null default 0;`,
		`create index exits_pid on exits (pid);`,
	}
)

func (s sqliteJournal) Migrate() (err error) {
	// idempotent
	_, err = s.db.Exec(sqliteCreateSchemaVersionTable)
	if err != nil {
		return util.Errorf("Could not set up schema_version table: %s", err)
	}

	var lastSchemaVersion int64
	err = s.db.QueryRow(getSchemaVersionQuery).Scan(&lastSchemaVersion)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.Exec(sqliteInitializeSchemaVersionTable)
		if err != nil {
			return util.Errorf("Could not initialize schema_version table: %s", err)
		}
	case err != nil:
		return util.Errorf("Error checking schema version: %s", err)
	}

	if lastSchemaVersion == int64(len(sqliteMigrations)) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return util.Errorf("Could not start transaction for migrations: %s", err)
	}

	defer func() {
		if err == nil {
			// return the commit error by assigning to return variable
			err = tx.Commit()
		} else {
			// return the original error not the rollback error
			_ = tx.Rollback()
		}
	}()

	for i := lastSchemaVersion; i < int64(len(sqliteMigrations)); i++ {
		_, err = tx.Exec(sqliteMigrations[i])
		if err != nil {
			return util.Errorf("Could not apply migration %d: %s", i+1, err)
		}
	}

	_, err = tx.Exec(updateSchemaVersionStatement, int64(len(sqliteMigrations)))
	if err != nil {
		s.logger.WithError(err).Errorln("Could not update schema_version table")
	}

	return err
}

func (s sqliteJournal) Close() error {
	return s.db.Close()
}

const sqliteTimeFormat = "2006-01-02 15:04:05"

const selectColumns = `SELECT id, date, pid, command, orphaned, exit_code, signal FROM exits`

func (s sqliteJournal) GetLatestExits(lastID int64) ([]ExitRecord, error) {
	rows, err := s.db.Query(selectColumns+` WHERE id > ? ORDER BY id`, lastID)
	if err != nil {
		s.logger.WithError(err).Errorln("Could not query for latest exits")
		return nil, err
	}
	defer rows.Close()

	var exits []ExitRecord
	for rows.Next() {
		exit, err := scanRow(rows)
		if err != nil {
			s.logger.WithError(err).Errorln("Could not scan row")
			return nil, err
		}

		exits = append(exits, exit)
	}
	return exits, rows.Err()
}

// Pids are reused, so the newest row wins.
func (s sqliteJournal) LastExitForPid(pid int) (ExitRecord, error) {
	row := s.db.QueryRow(selectColumns+` WHERE pid = ? ORDER BY id DESC LIMIT 1`, pid)
	return scanRow(row)
}

func (s sqliteJournal) PruneRowsBefore(before time.Time) error {
	// current_timestamp is UTC with second precision
	_, err := s.db.Exec(`delete from exits where date < ?`, before.UTC().Format(sqliteTimeFormat))
	if err != nil {
		return util.Errorf("Could not prune exits before %s: %s", before, err)
	}
	return nil
}

// Implemented by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(...interface{}) error
}

// Runs Scan() once on the passed scanner and converts the result to an ExitRecord
func scanRow(row scanner) (ExitRecord, error) {
	var id int64
	var date time.Time
	var pid, exitCode, signal int
	var command string
	var orphaned bool

	err := row.Scan(&id, &date, &pid, &command, &orphaned, &exitCode, &signal)
	if err != nil {
		return ExitRecord{}, err
	}

	return ExitRecord{
		ID:       id,
		Pid:      pid,
		Command:  command,
		Orphaned: orphaned,
		ExitCode: exitCode,
		Signal:   signal,
		ExitTime: date,
	}, nil
}
