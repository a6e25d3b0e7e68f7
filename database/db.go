// Package database persists terminal signals and weekly performance metadata
// to rqlite.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dlyons/fxsignal/shared"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

const (
	// SQL statements.
	createSignalTableSQL   = "CREATE TABLE IF NOT EXISTS signal (id TEXT PRIMARY KEY, pair TEXT, direction INTEGER, entryprice REAL, targetprice REAL, stopprice REAL, units INTEGER, confidence REAL, riskreward REAL, state INTEGER, rejectedfor INTEGER, closedfor INTEGER, rationale TEXT, generatedon INTEGER, settledon INTEGER)"
	createMetadataTableSQL = "CREATE TABLE IF NOT EXISTS metadata (id TEXT PRIMARY KEY, total INTEGER, wins INTEGER, losses INTEGER, timeexits INTEGER, createdon INTEGER)"
	persistSignalSQL       = "INSERT OR REPLACE INTO signal(id, pair, direction, entryprice, targetprice, stopprice, units, confidence, riskreward, state, rejectedfor, closedfor, rationale, generatedon, settledon) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)"
	findMetadataSQL        = "SELECT * FROM metadata WHERE id = ?"
	updateMetadataSQL      = "UPDATE metadata SET total = total + 1, wins = wins + ?, losses = losses + ?, timeexits = timeexits + ? WHERE id = ?"
	persistMetadataSQL     = "INSERT INTO metadata(id, total, wins, losses, timeexits, createdon) VALUES(?,?,?,?,?,?)"
)

// SignalStorer defines the requirements for storing signals.
type SignalStorer interface {
	// PersistSignal stores the provided terminal-state signal to the database.
	PersistSignal(ctx context.Context, signal *shared.Signal) error
}

// DatabaseConfig is the configuration for the database.
type DatabaseConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Logger is the database logger.
	Logger *zerolog.Logger
}

// Database represents the database connection.
type Database struct {
	cfg    *DatabaseConfig
	client *rqlitehttp.Client
}

// Ensure the database implements the SignalStorer interface.
var _ SignalStorer = (*Database)(nil)

// NewDatabase initializes a new database connection.
func NewDatabase(ctx context.Context, cfg *DatabaseConfig) (*Database, error) {
	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating database client: %w", err)
	}

	client.SetBasicAuth(cfg.User, cfg.Pass)

	db := &Database{
		cfg:    cfg,
		client: client,
	}

	err = db.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping database: %w", err)
	}

	return db, nil
}

// bootstrap initializes the database.
func (db *Database) bootstrap(ctx context.Context) error {
	_, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createSignalTableSQL},
		{SQL: createMetadataTableSQL},
	}, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	return nil
}

// generateMetadataID generates deterministic ids for metadata using the
// current month, week and pair.
func generateMetadataID(currentTime time.Time, pair string) string {
	month := currentTime.Month().String()
	week := currentTime.Day() / 7

	id := fmt.Sprintf("%s-Week-%d-%s", month, week, pair)
	return id
}

// rollupCounts tallies a closed signal's outcome for the weekly metadata.
func rollupCounts(reason shared.CloseReason) (win int, loss int, timeExit int) {
	switch reason {
	case shared.TargetHit:
		win++
	case shared.StopHit:
		loss++
	case shared.TimeExit:
		timeExit++
	}

	return win, loss, timeExit
}

// terminal reports whether the provided state is a terminal signal state.
func terminal(state shared.SignalState) bool {
	return state == shared.Closed || state == shared.Rejected || state == shared.Expired
}

// PersistSignal stores the provided terminal-state signal to the database.
// Closed signals additionally roll up into the pair's weekly metadata.
func (db *Database) PersistSignal(ctx context.Context, signal *shared.Signal) error {
	if !terminal(signal.State) {
		db.cfg.Logger.Error().Msgf("unexpected non-terminal signal state for persistence: %s",
			spew.Sdump(signal))
		return fmt.Errorf("signal %s is not in a terminal state: %s", signal.ID, signal.State.String())
	}

	rationale, err := json.Marshal(signal.Rationale)
	if err != nil {
		return fmt.Errorf("encoding signal rationale: %w", err)
	}

	now := time.Now().UTC()
	_, err = db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistSignalSQL,
			PositionalParams: []any{signal.ID, signal.Pair, int(signal.Direction),
				signal.EntryPrice, signal.TargetPrice, signal.StopPrice, signal.Units,
				signal.Confidence, signal.RiskRewardRatio, int(signal.State),
				int(signal.RejectedFor), int(signal.ClosedFor), string(rationale),
				signal.GeneratedAt.Unix(), now.Unix()},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return err
	}

	if signal.State != shared.Closed {
		return nil
	}

	win, loss, timeExit := rollupCounts(signal.ClosedFor)

	id := generateMetadataID(now, signal.Pair)
	resp, err := db.client.QuerySingle(ctx, findMetadataSQL, id)
	if err != nil {
		return err
	}

	// A query always yields one result per statement; only populated rows
	// mean the rollup row exists.
	results := resp.GetQueryResults()
	exists := len(results) > 0 && len(results[0].Values) > 0
	switch {
	case exists:
		resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
			{
				SQL:              updateMetadataSQL,
				PositionalParams: []any{win, loss, timeExit, id},
			},
		}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
		if err != nil {
			return err
		}
		has, idx, errStr := resp.HasError()
		if has {
			return fmt.Errorf("updating metadata %s: %d -> %s", id, idx, errStr)
		}
	default:
		resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
			{
				SQL:              persistMetadataSQL,
				PositionalParams: []any{id, 1, win, loss, timeExit, now.Unix()},
			},
		}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
		if err != nil {
			return err
		}
		has, idx, errStr := resp.HasError()
		if has {
			return fmt.Errorf("persisting metadata %s: %d -> %s", id, idx, errStr)
		}
	}

	return nil
}
