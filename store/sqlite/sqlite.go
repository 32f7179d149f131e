/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements mileage.Store using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  locations:       Named places with unique-per-user home/work-site roles
  distances:       Undirected location-pair distances (one row per pair)
  trips:           Trips, with legs and passengers in child tables
  trip_legs:       Autosplit legs (cascade-deleted with the trip)
  trip_passengers: Carried passengers (cascade-deleted with the trip)
  bearers:         Cost bearers
  bearer_rates:    Rate history, unique per (bearer, effective date)
  passenger_rates: Per-user passenger-carry rate history
  statuses:        Submission workflow records

ATOMICITY:
  Trip writes persist the trip row together with its legs and passengers in
  one sql.Tx; bearer creation persists the bearer with its first rate the
  same way. Either all rows exist or none do.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, which also serializes the
  check-then-write of the distance upsert and the rate setters. In
  production with PostgreSQL, database-level concurrency control handles
  this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and foreign keys on.

USAGE:
  store, err := sqlite.New("./data/mileage.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - mileage/store.go: Interface definitions
  - mileage/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/mileage-engine/mileage"
)

// Store implements mileage.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_locations_user
		ON locations(user_id);

	-- Home and work site are unique per user; parish may repeat.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_locations_unique_role
		ON locations(user_id, role)
		WHERE role IN ('home', 'worksite');

	-- One row per unordered pair. Symmetric lookups query both orders;
	-- the upsert is serialized so a reversed duplicate can never appear.
	CREATE TABLE IF NOT EXISTS distances (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		loc_a TEXT NOT NULL,
		loc_b TEXT NOT NULL,
		km TEXT NOT NULL,
		UNIQUE(user_id, loc_a, loc_b)
	);

	CREATE INDEX IF NOT EXISTS idx_distances_user
		ON distances(user_id);

	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		trip_date TEXT NOT NULL,
		purpose TEXT NOT NULL DEFAULT '',
		km TEXT NOT NULL,
		bearer_id TEXT NOT NULL DEFAULT '',
		from_location_id TEXT NOT NULL DEFAULT '',
		from_address TEXT NOT NULL DEFAULT '',
		to_location_id TEXT NOT NULL DEFAULT '',
		to_address TEXT NOT NULL DEFAULT '',
		autosplit BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_trips_user_date
		ON trips(user_id, trip_date);
	CREATE INDEX IF NOT EXISTS idx_trips_bearer
		ON trips(bearer_id);

	CREATE TABLE IF NOT EXISTS trip_legs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trip_id TEXT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		from_location_id TEXT NOT NULL DEFAULT '',
		from_address TEXT NOT NULL DEFAULT '',
		to_location_id TEXT NOT NULL DEFAULT '',
		to_address TEXT NOT NULL DEFAULT '',
		km TEXT NOT NULL,
		bearer_id TEXT NOT NULL,
		bearer_code TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_trip_legs_trip
		ON trip_legs(trip_id);
	CREATE INDEX IF NOT EXISTS idx_trip_legs_bearer
		ON trip_legs(bearer_id);

	CREATE TABLE IF NOT EXISTS trip_passengers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trip_id TEXT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		workplace TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trip_passengers_trip
		ON trip_passengers(trip_id);

	CREATE TABLE IF NOT EXISTS bearers (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		code TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		sort_order INTEGER NOT NULL DEFAULT 0,
		split_role TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_bearers_user
		ON bearers(user_id);

	-- At most one bearer per split role per user.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_bearers_unique_split_role
		ON bearers(user_id, split_role)
		WHERE split_role IN ('commute', 'destination');

	-- At most one rate entry per bearer per effective date: resolution is
	-- never ambiguous.
	CREATE TABLE IF NOT EXISTS bearer_rates (
		bearer_id TEXT NOT NULL REFERENCES bearers(id) ON DELETE CASCADE,
		effective_from TEXT NOT NULL,
		amount TEXT NOT NULL,
		UNIQUE(bearer_id, effective_from)
	);

	CREATE TABLE IF NOT EXISTS passenger_rates (
		user_id TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		amount TEXT NOT NULL,
		UNIQUE(user_id, effective_from)
	);

	CREATE TABLE IF NOT EXISTS statuses (
		user_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		subject TEXT NOT NULL,
		state TEXT NOT NULL,
		submitted_on TEXT,
		received_on TEXT,
		UNIQUE(user_id, year, month, subject)
	);

	CREATE INDEX IF NOT EXISTS idx_statuses_user_period
		ON statuses(user_id, year, month);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Compile-time check that Store implements the full store contract.
var _ mileage.Store = (*Store)(nil)

// =============================================================================
// HELPERS
// =============================================================================

func dateString(tp mileage.TimePoint) string { return tp.String() }

func nullDate(tp mileage.TimePoint) any {
	if tp.IsZero() {
		return nil
	}
	return tp.String()
}

func parseDate(s string) (mileage.TimePoint, error) {
	if s == "" {
		return mileage.TimePoint{}, nil
	}
	return mileage.ParseTimePoint(s)
}

func parseNullDate(s sql.NullString) (mileage.TimePoint, error) {
	if !s.Valid {
		return mileage.TimePoint{}, nil
	}
	return parseDate(s.String)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}

// =============================================================================
// LOCATIONS
// =============================================================================

func (s *Store) SaveLocation(ctx context.Context, loc mileage.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Demote the previous holder of a unique role first, so the partial
	// unique index never fires on the upsert.
	if loc.Role.UniquePerUser() {
		_, err = tx.ExecContext(ctx,
			`UPDATE locations SET role = '' WHERE user_id = ? AND role = ? AND id != ?`,
			loc.UserID, loc.Role, loc.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to demote role holder: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO locations (id, user_id, name, address, role)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name,
			address = excluded.address, role = excluded.role`,
		loc.ID, loc.UserID, loc.Name, loc.Address, loc.Role,
	)
	if err != nil {
		return fmt.Errorf("failed to save location: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetLocation(ctx context.Context, user mileage.UserID, id mileage.LocationID) (mileage.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanLocation(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, address, role FROM locations WHERE id = ? AND user_id = ?`,
		id, user,
	))
}

func scanLocation(row *sql.Row) (mileage.Location, error) {
	var loc mileage.Location
	err := row.Scan(&loc.ID, &loc.UserID, &loc.Name, &loc.Address, &loc.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return mileage.Location{}, mileage.ErrLocationNotFound
	}
	if err != nil {
		return mileage.Location{}, fmt.Errorf("failed to scan location: %w", err)
	}
	return loc, nil
}

func (s *Store) ListLocations(ctx context.Context, user mileage.UserID) ([]mileage.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, address, role FROM locations WHERE user_id = ? ORDER BY name`,
		user,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var result []mileage.Location
	for rows.Next() {
		var loc mileage.Location
		if err := rows.Scan(&loc.ID, &loc.UserID, &loc.Name, &loc.Address, &loc.Role); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		result = append(result, loc)
	}
	return result, rows.Err()
}

func (s *Store) DeleteLocation(ctx context.Context, user mileage.UserID, id mileage.LocationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM locations WHERE id = ? AND user_id = ?`, id, user)
	if err != nil {
		return fmt.Errorf("failed to delete location: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mileage.ErrLocationNotFound
	}

	// Distance records touching the location go with it.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM distances WHERE user_id = ? AND (loc_a = ? OR loc_b = ?)`,
		user, id, id)
	if err != nil {
		return fmt.Errorf("failed to delete distances: %w", err)
	}
	return tx.Commit()
}

func (s *Store) FindLocationByRole(ctx context.Context, user mileage.UserID, role mileage.LocationRole) (mileage.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanLocation(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, address, role FROM locations WHERE user_id = ? AND role = ? LIMIT 1`,
		user, role,
	))
}

// =============================================================================
// DISTANCES
// =============================================================================

func (s *Store) FindDistance(ctx context.Context, user mileage.UserID, a, b mileage.LocationID) (mileage.Distance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.findDistance(ctx, user, a, b)
}

func (s *Store) findDistance(ctx context.Context, user mileage.UserID, a, b mileage.LocationID) (mileage.Distance, error) {
	var d mileage.Distance
	var km string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, loc_a, loc_b, km FROM distances
		WHERE user_id = ? AND ((loc_a = ? AND loc_b = ?) OR (loc_a = ? AND loc_b = ?))`,
		user, a, b, b, a,
	).Scan(&d.ID, &d.UserID, &d.LocA, &d.LocB, &km)
	if errors.Is(err, sql.ErrNoRows) {
		return mileage.Distance{}, mileage.ErrDistanceNotFound
	}
	if err != nil {
		return mileage.Distance{}, fmt.Errorf("failed to query distance: %w", err)
	}
	if d.Km, err = parseDecimal(km); err != nil {
		return mileage.Distance{}, err
	}
	return d, nil
}

func (s *Store) UpsertDistance(ctx context.Context, user mileage.UserID, a, b mileage.LocationID, km decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check-then-write under the lock: an existing record in either order
	// is updated in place.
	existing, err := s.findDistance(ctx, user, a, b)
	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx,
			`UPDATE distances SET km = ? WHERE id = ?`, km.String(), existing.ID)
		if err != nil {
			return fmt.Errorf("failed to update distance: %w", err)
		}
		return nil
	case errors.Is(err, mileage.ErrDistanceNotFound):
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO distances (id, user_id, loc_a, loc_b, km) VALUES (?, ?, ?, ?, ?)`,
			mileage.NewDistanceID(), user, a, b, km.String())
		if err != nil {
			return fmt.Errorf("failed to insert distance: %w", err)
		}
		return nil
	default:
		return err
	}
}

func (s *Store) ListDistances(ctx context.Context, user mileage.UserID) ([]mileage.Distance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, loc_a, loc_b, km FROM distances WHERE user_id = ? ORDER BY id`,
		user,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query distances: %w", err)
	}
	defer rows.Close()

	var result []mileage.Distance
	for rows.Next() {
		var d mileage.Distance
		var km string
		if err := rows.Scan(&d.ID, &d.UserID, &d.LocA, &d.LocB, &km); err != nil {
			return nil, fmt.Errorf("failed to scan distance: %w", err)
		}
		if d.Km, err = parseDecimal(km); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) DeleteDistance(ctx context.Context, user mileage.UserID, a, b mileage.LocationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM distances
		WHERE user_id = ? AND ((loc_a = ? AND loc_b = ?) OR (loc_a = ? AND loc_b = ?))`,
		user, a, b, b, a)
	if err != nil {
		return fmt.Errorf("failed to delete distance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mileage.ErrDistanceNotFound
	}
	return nil
}

// =============================================================================
// TRIPS
// =============================================================================

func (s *Store) CreateTrip(ctx context.Context, trip mileage.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertTrip(ctx, tx, trip); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) UpdateTrip(ctx context.Context, trip mileage.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM trips WHERE id = ? AND user_id = ?`, trip.ID, trip.UserID)
	if err != nil {
		return fmt.Errorf("failed to replace trip: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mileage.ErrTripNotFound
	}
	// Legs and passengers cascade; re-insert the full aggregate.
	if err := insertTrip(ctx, tx, trip); err != nil {
		return err
	}
	return tx.Commit()
}

func insertTrip(ctx context.Context, tx *sql.Tx, trip mileage.Trip) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO trips
		(id, user_id, trip_date, purpose, km, bearer_id,
		 from_location_id, from_address, to_location_id, to_address, autosplit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trip.ID, trip.UserID, dateString(trip.Date), trip.Purpose, trip.Km.String(),
		trip.BearerID,
		trip.From.LocationID, trip.From.Address,
		trip.To.LocationID, trip.To.Address,
		trip.Autosplit,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trip: %w", err)
	}

	for i, leg := range trip.Legs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trip_legs
			(trip_id, seq, from_location_id, from_address, to_location_id, to_address,
			 km, bearer_id, bearer_code)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			trip.ID, i,
			leg.From.LocationID, leg.From.Address,
			leg.To.LocationID, leg.To.Address,
			leg.Km.String(), leg.BearerID, leg.BearerCode,
		)
		if err != nil {
			return fmt.Errorf("failed to insert trip leg: %w", err)
		}
	}

	for _, p := range trip.Passengers {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trip_passengers (trip_id, name, workplace, direction)
			VALUES (?, ?, ?, ?)`,
			trip.ID, p.Name, p.Workplace, p.Direction,
		)
		if err != nil {
			return fmt.Errorf("failed to insert passenger: %w", err)
		}
	}
	return nil
}

func (s *Store) GetTrip(ctx context.Context, user mileage.UserID, id mileage.TripID) (mileage.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trips, err := s.queryTrips(ctx,
		`SELECT id, user_id, trip_date, purpose, km, bearer_id,
		        from_location_id, from_address, to_location_id, to_address, autosplit
		 FROM trips WHERE id = ? AND user_id = ?`,
		id, user,
	)
	if err != nil {
		return mileage.Trip{}, err
	}
	if len(trips) == 0 {
		return mileage.Trip{}, mileage.ErrTripNotFound
	}
	return trips[0], nil
}

func (s *Store) DeleteTrip(ctx context.Context, user mileage.UserID, id mileage.TripID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM trips WHERE id = ? AND user_id = ?`, id, user)
	if err != nil {
		return fmt.Errorf("failed to delete trip: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mileage.ErrTripNotFound
	}
	return nil
}

func (s *Store) TripsBetween(ctx context.Context, user mileage.UserID, from, to mileage.TimePoint) ([]mileage.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTrips(ctx,
		`SELECT id, user_id, trip_date, purpose, km, bearer_id,
		        from_location_id, from_address, to_location_id, to_address, autosplit
		 FROM trips
		 WHERE user_id = ? AND trip_date >= ? AND trip_date <= ?
		 ORDER BY trip_date ASC, id ASC`,
		user, dateString(from), dateString(to),
	)
}

func (s *Store) queryTrips(ctx context.Context, query string, args ...any) ([]mileage.Trip, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var trips []mileage.Trip
	for rows.Next() {
		var trip mileage.Trip
		var date, km string
		err := rows.Scan(&trip.ID, &trip.UserID, &date, &trip.Purpose, &km, &trip.BearerID,
			&trip.From.LocationID, &trip.From.Address,
			&trip.To.LocationID, &trip.To.Address, &trip.Autosplit)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		if trip.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		if trip.Km, err = parseDecimal(km); err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range trips {
		if err := s.loadTripChildren(ctx, &trips[i]); err != nil {
			return nil, err
		}
	}
	return trips, nil
}

func (s *Store) loadTripChildren(ctx context.Context, trip *mileage.Trip) error {
	legRows, err := s.db.QueryContext(ctx, `
		SELECT from_location_id, from_address, to_location_id, to_address, km, bearer_id, bearer_code
		FROM trip_legs WHERE trip_id = ? ORDER BY seq`,
		trip.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to query trip legs: %w", err)
	}
	defer legRows.Close()

	for legRows.Next() {
		var leg mileage.TripLeg
		var km string
		err := legRows.Scan(&leg.From.LocationID, &leg.From.Address,
			&leg.To.LocationID, &leg.To.Address, &km, &leg.BearerID, &leg.BearerCode)
		if err != nil {
			return fmt.Errorf("failed to scan trip leg: %w", err)
		}
		if leg.Km, err = parseDecimal(km); err != nil {
			return err
		}
		trip.Legs = append(trip.Legs, leg)
	}
	if err := legRows.Err(); err != nil {
		return err
	}

	paxRows, err := s.db.QueryContext(ctx, `
		SELECT name, workplace, direction FROM trip_passengers WHERE trip_id = ? ORDER BY id`,
		trip.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to query passengers: %w", err)
	}
	defer paxRows.Close()

	for paxRows.Next() {
		var p mileage.Passenger
		if err := paxRows.Scan(&p.Name, &p.Workplace, &p.Direction); err != nil {
			return fmt.Errorf("failed to scan passenger: %w", err)
		}
		trip.Passengers = append(trip.Passengers, p)
	}
	return paxRows.Err()
}

func (s *Store) CountTripsForBearer(ctx context.Context, user mileage.UserID, id mileage.BearerID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM trips WHERE user_id = ? AND bearer_id = ?)
		     + (SELECT COUNT(*) FROM trip_legs l JOIN trips t ON t.id = l.trip_id
		        WHERE t.user_id = ? AND l.bearer_id = ?)`,
		user, id, user, id,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bearer references: %w", err)
	}
	return count, nil
}

func (s *Store) CountTripsForLocation(ctx context.Context, user mileage.UserID, id mileage.LocationID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trips t
		WHERE t.user_id = ?
		  AND (t.from_location_id = ? OR t.to_location_id = ?
		       OR EXISTS (SELECT 1 FROM trip_legs l WHERE l.trip_id = t.id
		                  AND (l.from_location_id = ? OR l.to_location_id = ?)))`,
		user, id, id, id, id,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count location references: %w", err)
	}
	return count, nil
}

// =============================================================================
// COST BEARERS
// =============================================================================

func (s *Store) CreateBearer(ctx context.Context, b mileage.CostBearer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(b.Rates) == 0 {
		return &mileage.ConstraintViolationError{
			Entity: "cost bearer",
			ID:     string(b.ID),
			Reason: "requires an initial rate entry",
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := demoteSplitRole(ctx, tx, b); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bearers (id, user_id, name, code, active, sort_order, split_role)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.Name, b.Code, b.Active, b.SortOrder, b.SplitRole,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bearer: %w", err)
	}

	// First rate entries land in the same transaction: a bearer without a
	// rate never exists.
	for _, entry := range b.Rates {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bearer_rates (bearer_id, effective_from, amount) VALUES (?, ?, ?)`,
			b.ID, dateString(entry.EffectiveFrom), entry.Amount.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert rate entry: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) UpdateBearer(ctx context.Context, b mileage.CostBearer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := demoteSplitRole(ctx, tx, b); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE bearers SET name = ?, code = ?, active = ?, sort_order = ?, split_role = ?
		WHERE id = ? AND user_id = ?`,
		b.Name, b.Code, b.Active, b.SortOrder, b.SplitRole, b.ID, b.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update bearer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mileage.ErrBearerNotFound
	}
	return tx.Commit()
}

// demoteSplitRole keeps split roles unique per user.
func demoteSplitRole(ctx context.Context, tx *sql.Tx, b mileage.CostBearer) error {
	if b.SplitRole == mileage.SplitRoleNone {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE bearers SET split_role = '' WHERE user_id = ? AND split_role = ? AND id != ?`,
		b.UserID, b.SplitRole, b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to demote split role holder: %w", err)
	}
	return nil
}

func (s *Store) GetBearer(ctx context.Context, user mileage.UserID, id mileage.BearerID) (mileage.CostBearer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bearers, err := s.queryBearers(ctx,
		`SELECT id, user_id, name, code, active, sort_order, split_role
		 FROM bearers WHERE id = ? AND user_id = ?`,
		id, user,
	)
	if err != nil {
		return mileage.CostBearer{}, err
	}
	if len(bearers) == 0 {
		return mileage.CostBearer{}, mileage.ErrBearerNotFound
	}
	return bearers[0], nil
}

func (s *Store) ListBearers(ctx context.Context, user mileage.UserID) ([]mileage.CostBearer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryBearers(ctx,
		`SELECT id, user_id, name, code, active, sort_order, split_role
		 FROM bearers WHERE user_id = ? ORDER BY sort_order ASC, code ASC`,
		user,
	)
}

func (s *Store) queryBearers(ctx context.Context, query string, args ...any) ([]mileage.CostBearer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bearers: %w", err)
	}
	defer rows.Close()

	var bearers []mileage.CostBearer
	for rows.Next() {
		var b mileage.CostBearer
		if err := rows.Scan(&b.ID, &b.UserID, &b.Name, &b.Code, &b.Active, &b.SortOrder, &b.SplitRole); err != nil {
			return nil, fmt.Errorf("failed to scan bearer: %w", err)
		}
		bearers = append(bearers, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range bearers {
		if bearers[i].Rates, err = s.loadRates(ctx, bearers[i].ID); err != nil {
			return nil, err
		}
	}
	return bearers, nil
}

func (s *Store) loadRates(ctx context.Context, id mileage.BearerID) (mileage.RateHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT effective_from, amount FROM bearer_rates WHERE bearer_id = ? ORDER BY effective_from ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rates: %w", err)
	}
	defer rows.Close()

	return scanRates(rows)
}

func scanRates(rows *sql.Rows) (mileage.RateHistory, error) {
	var hist mileage.RateHistory
	for rows.Next() {
		var entry mileage.RateEntry
		var date, amount string
		if err := rows.Scan(&date, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan rate entry: %w", err)
		}
		var err error
		if entry.EffectiveFrom, err = parseDate(date); err != nil {
			return nil, err
		}
		if entry.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		hist = append(hist, entry)
	}
	return hist, rows.Err()
}

func (s *Store) DeleteBearer(ctx context.Context, user mileage.UserID, id mileage.BearerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM bearers WHERE id = ? AND user_id = ?`, id, user)
	if err != nil {
		return fmt.Errorf("failed to delete bearer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mileage.ErrBearerNotFound
	}
	return nil
}

func (s *Store) FindBearerBySplitRole(ctx context.Context, user mileage.UserID, role mileage.SplitRole) (mileage.CostBearer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bearers, err := s.queryBearers(ctx,
		`SELECT id, user_id, name, code, active, sort_order, split_role
		 FROM bearers WHERE user_id = ? AND split_role = ? LIMIT 1`,
		user, role,
	)
	if err != nil {
		return mileage.CostBearer{}, err
	}
	if len(bearers) == 0 {
		return mileage.CostBearer{}, mileage.ErrBearerNotFound
	}
	return bearers[0], nil
}

func (s *Store) SetBearerRate(ctx context.Context, user mileage.UserID, id mileage.BearerID, entry mileage.RateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bearers WHERE id = ? AND user_id = ?`, id, user).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check bearer: %w", err)
	}
	if exists == 0 {
		return mileage.ErrBearerNotFound
	}

	// Insert-or-replace on exact effective date; the unique index backs
	// this up at the schema level.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bearer_rates (bearer_id, effective_from, amount)
		VALUES (?, ?, ?)
		ON CONFLICT(bearer_id, effective_from) DO UPDATE SET amount = excluded.amount`,
		id, dateString(entry.EffectiveFrom), entry.Amount.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to set rate: %w", err)
	}
	return nil
}

func (s *Store) DeleteBearerRate(ctx context.Context, user mileage.UserID, id mileage.BearerID, effectiveFrom mileage.TimePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM bearer_rates
		WHERE bearer_id = ? AND effective_from = ?
		  AND EXISTS (SELECT 1 FROM bearers WHERE id = ? AND user_id = ?)`,
		id, dateString(effectiveFrom), id, user)
	if err != nil {
		return fmt.Errorf("failed to delete rate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mileage.ErrRateNotFound
	}
	return nil
}

// =============================================================================
// PASSENGER RATES
// =============================================================================

func (s *Store) PassengerRates(ctx context.Context, user mileage.UserID) (mileage.RateHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT effective_from, amount FROM passenger_rates WHERE user_id = ? ORDER BY effective_from ASC`,
		user,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query passenger rates: %w", err)
	}
	defer rows.Close()

	return scanRates(rows)
}

func (s *Store) SetPassengerRate(ctx context.Context, user mileage.UserID, entry mileage.RateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO passenger_rates (user_id, effective_from, amount)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, effective_from) DO UPDATE SET amount = excluded.amount`,
		user, dateString(entry.EffectiveFrom), entry.Amount.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to set passenger rate: %w", err)
	}
	return nil
}

func (s *Store) DeletePassengerRate(ctx context.Context, user mileage.UserID, effectiveFrom mileage.TimePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM passenger_rates WHERE user_id = ? AND effective_from = ?`,
		user, dateString(effectiveFrom))
	if err != nil {
		return fmt.Errorf("failed to delete passenger rate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mileage.ErrRateNotFound
	}
	return nil
}

// =============================================================================
// SUBMISSION STATUSES
// =============================================================================

func (s *Store) GetStatus(ctx context.Context, user mileage.UserID, year, month int, subject string) (mileage.SubmissionStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st mileage.SubmissionStatus
	var submitted, received sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, year, month, subject, state, submitted_on, received_on
		FROM statuses WHERE user_id = ? AND year = ? AND month = ? AND subject = ?`,
		user, year, month, subject,
	).Scan(&st.UserID, &st.Year, &st.Month, &st.Subject, &st.State, &submitted, &received)
	if errors.Is(err, sql.ErrNoRows) {
		return mileage.SubmissionStatus{}, mileage.ErrStatusNotFound
	}
	if err != nil {
		return mileage.SubmissionStatus{}, fmt.Errorf("failed to query status: %w", err)
	}
	if st.SubmittedOn, err = parseNullDate(submitted); err != nil {
		return mileage.SubmissionStatus{}, err
	}
	if st.ReceivedOn, err = parseNullDate(received); err != nil {
		return mileage.SubmissionStatus{}, err
	}
	return st, nil
}

func (s *Store) SaveStatus(ctx context.Context, st mileage.SubmissionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO statuses (user_id, year, month, subject, state, submitted_on, received_on)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, year, month, subject) DO UPDATE SET
			state = excluded.state,
			submitted_on = excluded.submitted_on,
			received_on = excluded.received_on`,
		st.UserID, st.Year, st.Month, st.Subject, st.State,
		nullDate(st.SubmittedOn), nullDate(st.ReceivedOn),
	)
	if err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

func (s *Store) DeleteStatus(ctx context.Context, user mileage.UserID, year, month int, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// No-op when the record is absent: reset is idempotent.
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM statuses WHERE user_id = ? AND year = ? AND month = ? AND subject = ?`,
		user, year, month, subject)
	if err != nil {
		return fmt.Errorf("failed to delete status: %w", err)
	}
	return nil
}

func (s *Store) ListStatusesForMonth(ctx context.Context, user mileage.UserID, year, month int) ([]mileage.SubmissionStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, year, month, subject, state, submitted_on, received_on
		FROM statuses WHERE user_id = ? AND year = ? AND month = ? ORDER BY subject`,
		user, year, month,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query statuses: %w", err)
	}
	defer rows.Close()

	var result []mileage.SubmissionStatus
	for rows.Next() {
		var st mileage.SubmissionStatus
		var submitted, received sql.NullString
		err := rows.Scan(&st.UserID, &st.Year, &st.Month, &st.Subject, &st.State, &submitted, &received)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		if st.SubmittedOn, err = parseNullDate(submitted); err != nil {
			return nil, err
		}
		if st.ReceivedOn, err = parseNullDate(received); err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}
