/*
	Photomigrate
	Copyright (c) 2025 The Photomigrate Authors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Journal persists the remote end state reached for each fingerprint, so
// a later run can warm the resolver cache and classify unchanged items
// without any network traffic. It is purely an optimization: idempotence
// never depends on it, since the resolver falls back to remote lookups.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (creating if needed) the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS assets (
		checksum TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		taken_unix INTEGER,
		has_location INTEGER NOT NULL DEFAULT 0,
		run_id TEXT NOT NULL,
		recorded_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// Record upserts the remote state for a fingerprint. Called from
// pipeline workers; sql.DB serializes access internally.
func (j *Journal) Record(ctx context.Context, runID string, asset RemoteAsset) error {
	var takenUnix *int64
	if !asset.Taken.IsZero() {
		ts := asset.Taken.Unix()
		takenUnix = &ts
	}
	_, err := j.db.ExecContext(ctx, `INSERT INTO assets
		(checksum, asset_id, taken_unix, has_location, run_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(checksum) DO UPDATE SET
			asset_id=excluded.asset_id,
			taken_unix=excluded.taken_unix,
			has_location=excluded.has_location,
			run_id=excluded.run_id,
			recorded_at=excluded.recorded_at`,
		asset.Checksum, asset.ID, takenUnix, boolInt(asset.HasLocation), runID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("recording journal entry: %w", err)
	}
	return nil
}

// Assets returns all journaled remote assets, keyed by checksum.
func (j *Journal) Assets(ctx context.Context) (map[string]RemoteAsset, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT checksum, asset_id, taken_unix, has_location FROM assets`)
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	defer rows.Close()

	assets := make(map[string]RemoteAsset)
	for rows.Next() {
		var (
			a         RemoteAsset
			takenUnix sql.NullInt64
			hasLoc    int
		)
		if err := rows.Scan(&a.Checksum, &a.ID, &takenUnix, &hasLoc); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		if takenUnix.Valid {
			a.Taken = time.Unix(takenUnix.Int64, 0).UTC()
		}
		a.HasLocation = hasLoc != 0
		assets[a.Checksum] = a
	}
	return assets, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
