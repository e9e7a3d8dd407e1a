package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/YuminosukeSato/churnpredict/pkg/errors"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteIdent(name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", errors.NewValidationError("table", "must be a plain SQL identifier", name)
	}
	return `"` + name + `"`, nil
}

// OpenSQLite opens a SQLite database file. readOnly opens it with mode=ro.
func OpenSQLite(path string, readOnly bool) (*sql.DB, error) {
	dsn := path
	if readOnly {
		dsn += "?mode=ro"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	return db, nil
}

// LoadSQLite reads every row of table. All values are rendered as text; NULL
// becomes an empty cell so it is treated like a blank CSV cell.
func LoadSQLite(ctx context.Context, path, table string) (Frame, error) {
	ident, err := quoteIdent(table)
	if err != nil {
		return Frame{}, err
	}
	db, err := OpenSQLite(path, true)
	if err != nil {
		return Frame{}, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+ident)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "query table %s", table)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Frame{}, errors.Wrap(err, "read columns")
	}

	var out [][]string
	for rows.Next() {
		cells := make([]sql.NullString, len(columns))
		ptrs := make([]any, len(columns))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Frame{}, errors.Wrap(err, "scan row")
		}
		row := make([]string, len(columns))
		for i, c := range cells {
			if c.Valid {
				row[i] = strings.TrimSpace(c.String)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return Frame{}, errors.Wrap(err, "iterate rows")
	}
	if len(out) == 0 {
		return Frame{}, errors.NewModelError("dataset.LoadSQLite", "empty data", errors.ErrEmptyData)
	}
	return NewFrame(columns, out)
}

// WriteSQLite replaces table with the frame contents. Every column is TEXT;
// typing is decided later by the feature schema.
func WriteSQLite(ctx context.Context, path, table string, f Frame) (err error) {
	ident, err := quoteIdent(table)
	if err != nil {
		return err
	}
	cols := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		q, err := quoteIdent(c)
		if err != nil {
			return err
		}
		cols[i] = q
	}

	db, err := OpenSQLite(path, false)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
		return errors.Wrap(err, "drop table")
	}
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = c + " TEXT"
	}
	if _, err = tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", ident, strings.Join(defs, ", "))); err != nil {
		return errors.Wrap(err, "create table")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", ident, strings.Join(cols, ", "), placeholders))
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	args := make([]any, len(cols))
	for _, row := range f.Rows {
		for i, v := range row {
			args[i] = v
		}
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			return errors.Wrap(err, "insert row")
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}
