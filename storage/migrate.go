package storage

import (
	"database/sql"
	"fmt"
)

// migrator applies an append-only list of schema statements. Every applied
// statement is recorded in the migration table, so a list can only grow.
type migrator struct {
	db     *sql.DB
	create string
	insert string
}

func (m migrator) migrate(wanted []string) error {
	if _, err := m.db.Exec(m.create); err != nil {
		return err
	}

	// find existing
	rows, err := m.db.Query(`SELECT query FROM migration ORDER BY id`)
	if err != nil {
		return err
	}

	existing := []string{}
	for rows.Next() {
		var query string
		if err := rows.Scan(&query); err != nil {
			rows.Close()
			return err
		}
		existing = append(existing, query)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// compare
	missing, err := compareMigrations(wanted, existing)
	if err != nil {
		return err
	}

	// execute missing
	for _, query := range missing {
		tx, err := m.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(query); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %q: %w", query, err)
		}

		// register
		if _, err := tx.Exec(m.insert, query); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

func compareMigrations(wanted, existing []string) ([]string, error) {
	needed := []string{}
	if len(wanted) < len(existing) {
		return []string{}, fmt.Errorf("not enough migrations")
	}

	for i, want := range wanted {
		switch {
		case i >= len(existing):
			needed = append(needed, want)
		case want == existing[i]:
			// do nothing
		case want != existing[i]:
			return []string{}, fmt.Errorf("incompatible migration: %v", want)
		}
	}

	return needed, nil
}
