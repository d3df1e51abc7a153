package telemetry

import (
	"database/sql"

	"codeberg.org/teralab/teractl/internal/errors"
)

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS telemetry (
            run_id    TEXT NOT NULL,
            idx       INTEGER NOT NULL,
            timestamp TEXT NOT NULL,
            key       TEXT NOT NULL,
            value     REAL NOT NULL,
            PRIMARY KEY (run_id, idx, key)
        );
        CREATE INDEX IF NOT EXISTS telemetry_key ON telemetry (key, timestamp);
    `)
	if err != nil {
		return errors.New().Wrap(ErrSchemaInitFailed, err)
	}

	return nil
}
