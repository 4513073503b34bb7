// Package store adapts the externally owned SQLite database to the read-only
// core store boundary. The API service owns the schema; this side only ever
// issues SELECTs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/luminet/dimmerd/core/logger"
	"github.com/luminet/dimmerd/core/model"
)

// Config locates the shared database.
type Config struct {
	// Path is the SQLite database file written by the API service.
	Path string `json:"path"`
}

// SQLiteStore reads dimming profiles, calendar events and streetlamps from
// the shared database.
type SQLiteStore struct {
	db  *sql.DB
	log logger.Logger
}

// NewSQLiteStore opens the database at cfg.Path read-only.
func NewSQLiteStore(cfg Config, log logger.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: path is empty")
	}
	db, err := sql.Open("sqlite", "file:"+cfg.Path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, log: log}, nil
}

// newWritable opens the database read-write, for tests that seed records.
func newWritable(path string, log logger.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, log: log}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// ListActiveProfiles returns every active dimming profile. A profile's
// coordinate is the centroid of its account's located streetlamps, since the
// profile rows themselves carry no position. Rows that fail to decode are
// skipped so one bad record cannot block the rest of the schedule.
func (s *SQLiteStore) ListActiveProfiles(ctx context.Context) ([]model.DimmingProfile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, account_id, multicast_group_id, name, description, color,
        sunset_dim_cmd0, sunset_dim_cmd1,
        h2000_dim_cmd, h2200_dim_cmd, h0000_dim_cmd, h0200_dim_cmd, h0400_dim_cmd,
        sunrise_dim_cmd0, sunrise_dim_cmd1
        FROM dimming_profiles WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []model.DimmingProfile
	for rows.Next() {
		var p model.DimmingProfile
		var cmds [9]string
		if err := rows.Scan(&p.ID, &p.AccountID, &p.MulticastGroupID, &p.Name, &p.Description, &p.Color,
			&cmds[0], &cmds[1], &cmds[2], &cmds[3], &cmds[4], &cmds[5], &cmds[6], &cmds[7], &cmds[8]); err != nil {
			return nil, err
		}
		p.Active = true
		if err := decodeProfileCommands(&p, cmds); err != nil {
			s.log.Warnf("skipping profile %d: %v", p.ID, err)
			continue
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	centroids := make(map[int64]model.Coordinate)
	for i := range profiles {
		loc, ok := centroids[profiles[i].AccountID]
		if !ok {
			loc, err = s.accountCentroid(ctx, profiles[i].AccountID)
			if err != nil {
				return nil, err
			}
			centroids[profiles[i].AccountID] = loc
		}
		profiles[i].Location = loc
	}
	return profiles, nil
}

func decodeProfileCommands(p *model.DimmingProfile, cmds [9]string) error {
	dst := []*model.Command{
		&p.SunsetCmd0, &p.SunsetCmd1,
		&p.H2000Cmd, &p.H2200Cmd, &p.H0000Cmd, &p.H0200Cmd, &p.H0400Cmd,
		&p.SunriseCmd0, &p.SunriseCmd1,
	}
	for i, raw := range cmds {
		cmd, err := model.ParseCommand(raw)
		if err != nil {
			return err
		}
		*dst[i] = cmd
	}
	return nil
}

func (s *SQLiteStore) accountCentroid(ctx context.Context, accountID int64) (model.Coordinate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT AVG(lat), AVG(lon) FROM streetlamps WHERE account_id = ? AND lat IS NOT NULL AND lon IS NOT NULL`,
		accountID)
	var lat, lon sql.NullFloat64
	if err := row.Scan(&lat, &lon); err != nil {
		return model.Coordinate{}, err
	}
	// No located streetlamps leaves the zero coordinate; the compiler still
	// resolves sun times there rather than dropping the profile.
	return model.Coordinate{Lat: lat.Float64, Lon: lon.Float64}, nil
}

// ListPendingCalendarEvents returns events starting in [from, to). Rows that
// fail to decode are skipped.
func (s *SQLiteStore) ListPendingCalendarEvents(ctx context.Context, from, to time.Time) ([]model.CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, account_id, target_id, target_type, command, start, "end", color
        FROM dimming_events WHERE start >= ? AND start < ? ORDER BY start`,
		from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.CalendarEvent
	for rows.Next() {
		var e model.CalendarEvent
		var kind, cmd, start, end string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Target.ID, &kind, &cmd, &start, &end, &e.Color); err != nil {
			return nil, err
		}
		if err := decodeEvent(&e, kind, cmd, start, end); err != nil {
			s.log.Warnf("skipping event %d: %v", e.ID, err)
			continue
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func decodeEvent(e *model.CalendarEvent, kind, cmd, start, end string) error {
	var err error
	if e.Target.Kind, err = model.ParseTargetKind(kind); err != nil {
		return err
	}
	if e.Command, err = model.ParseCommand(cmd); err != nil {
		return err
	}
	if e.Start, err = parseEventTime(start); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if e.End, err = parseEventTime(end); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	return nil
}

// parseEventTime accepts the two timestamp encodings seen in the shared
// database, RFC 3339 and the SQL datetime form.
func parseEventTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}
