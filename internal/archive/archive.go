// Package archive persists ingested observations to SQLite so device
// history survives restarts and can be queried offline.
package archive

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nora-data/presence.report/internal/presence"
)

// timeLayout pins the fractional seconds to nine digits. RFC3339Nano strips
// trailing zeros, which breaks the lexicographic ORDER BY on observed_at for
// rows sharing an integer second ("...00Z" sorts after "...00.5Z").
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Archive struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the archive database at path and brings
// the schema up to the latest migration.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	a := &Archive{DB: db, path: path}
	if err := a.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// RecordObservation appends one observation row.
func (a *Archive) RecordObservation(obs presence.Observation) error {
	_, err := a.Exec(
		`INSERT INTO observations (mac, device_type, rssi, observed_at)
		 VALUES (?, ?, ?, ?)`,
		obs.MAC, obs.Type, obs.RSSI, obs.At.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record observation: %w", err)
	}
	return nil
}

// RecordBatch appends all observations of a report in one transaction, so a
// report is archived fully or not at all.
func (a *Archive) RecordBatch(observations []presence.Observation) error {
	if len(observations) == 0 {
		return nil
	}

	tx, err := a.Begin()
	if err != nil {
		return fmt.Errorf("begin archive batch: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO observations (mac, device_type, rssi, observed_at)
		 VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare archive batch: %w", err)
	}
	defer stmt.Close()

	for _, obs := range observations {
		if _, err := stmt.Exec(obs.MAC, obs.Type, obs.RSSI, obs.At.UTC().Format(timeLayout)); err != nil {
			tx.Rollback()
			return fmt.Errorf("archive observation for %s: %w", obs.MAC, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive batch: %w", err)
	}
	return nil
}

// RecentObservations returns up to limit rows, newest first.
func (a *Archive) RecentObservations(limit int) ([]presence.Observation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.Query(
		`SELECT mac, device_type, rssi, observed_at
		 FROM observations ORDER BY observed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []presence.Observation
	for rows.Next() {
		var obs presence.Observation
		var stamp string
		if err := rows.Scan(&obs.MAC, &obs.Type, &obs.RSSI, &stamp); err != nil {
			return nil, err
		}
		at, err := time.Parse(timeLayout, stamp)
		if err != nil {
			return nil, fmt.Errorf("parse archived timestamp %q: %w", stamp, err)
		}
		obs.At = at
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeviceObservations returns up to limit rows for one device, oldest first,
// matching the order the tracking store hands out history.
func (a *Archive) DeviceObservations(mac string, limit int) ([]presence.Observation, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := a.Query(
		`SELECT mac, device_type, rssi, observed_at FROM (
			SELECT mac, device_type, rssi, observed_at
			FROM observations WHERE mac = ? ORDER BY observed_at DESC LIMIT ?
		 ) ORDER BY observed_at ASC`, mac, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []presence.Observation
	for rows.Next() {
		var obs presence.Observation
		var stamp string
		if err := rows.Scan(&obs.MAC, &obs.Type, &obs.RSSI, &stamp); err != nil {
			return nil, err
		}
		at, err := time.Parse(timeLayout, stamp)
		if err != nil {
			return nil, fmt.Errorf("parse archived timestamp %q: %w", stamp, err)
		}
		obs.At = at
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ObservationCount returns the total number of archived rows.
func (a *Archive) ObservationCount() (int64, error) {
	var n int64
	if err := a.QueryRow(`SELECT COUNT(*) FROM observations`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
