package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/PratikDhanave/exposure-ingest/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// DefaultChunkSize bounds memory and lock duration per ingest transaction.
const DefaultChunkSize = 500

// PostgresStore is the durable persistence layer for exposure data. One
// instance owns the pool for the process lifetime.
type PostgresStore struct {
	pool      *pgxpool.Pool
	chunkSize int
}

// NewPostgresStore creates a connection pool and fails fast if the database
// is unreachable.
func NewPostgresStore(ctx context.Context, dbURL string, chunkSize int) (*PostgresStore, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, chunkSize: chunkSize}, nil
}

// EnsureSchema applies schema.sql. Safe to run on every invocation and
// concurrently with itself: every statement is IF NOT EXISTS.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return err
}

// Ping validates DB connectivity, used by the readiness endpoint.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

const insertEventSQL = `
	INSERT INTO exposure_events(
		event_id, ts, office_id, asset_id, exposure_id,
		exposure_class, exposure_status, event_action, event_kind,
		severity, risk_score, confidence,
		dst_ip, dst_port, protocol, transport, network_direction,
		service_json, resource_json,
		scanner_id, scanner_type, scan_run_id, dedupe_key, raw_payload
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,
		$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24
	)
	ON CONFLICT (event_id) DO NOTHING`

// upsertCurrentSQL implements the merge policy in SQL:
//   - first_seen is absent from the update list: write-once.
//   - last_seen uses GREATEST: it never moves backwards.
//   - lifecycle fields (status, severity, action, kind, risk_score) take the
//     incoming value: most recent observation wins.
//   - every other optional field uses COALESCE(EXCLUDED, existing): a null in
//     a newer observation never erases recorded knowledge.
//
// RETURNING xmax = 0 distinguishes a fresh insert from a conflict update.
const upsertCurrentSQL = `
	INSERT INTO exposures_current(
		office_id, exposure_id, exposure_class, status,
		dst_ip, dst_port, protocol, transport, network_direction,
		severity, risk_score, confidence, first_seen, last_seen,
		asset_id, asset_hostname, asset_ip, asset_mac, asset_os, asset_managed,
		service_name, service_product, service_version, service_tls, service_auth, service_bind_scope,
		service_json, resource_json,
		event_action, event_kind, scanner_id, scanner_type,
		office_name, office_region, office_network_zone,
		data_class_json, dedupe_key, updated_at
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,
		$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,
		$27,$28,$29,$30,$31,$32,$33,$34,$35,$36,$37, now()
	)
	ON CONFLICT (office_id, exposure_id) DO UPDATE SET
		exposure_class      = EXCLUDED.exposure_class,
		status              = EXCLUDED.status,
		severity            = EXCLUDED.severity,
		risk_score          = EXCLUDED.risk_score,
		event_action        = EXCLUDED.event_action,
		event_kind          = EXCLUDED.event_kind,
		scanner_id          = EXCLUDED.scanner_id,
		scanner_type        = EXCLUDED.scanner_type,
		office_name         = EXCLUDED.office_name,
		last_seen           = GREATEST(exposures_current.last_seen, EXCLUDED.last_seen),
		dst_ip              = COALESCE(EXCLUDED.dst_ip, exposures_current.dst_ip),
		dst_port            = COALESCE(EXCLUDED.dst_port, exposures_current.dst_port),
		protocol            = COALESCE(EXCLUDED.protocol, exposures_current.protocol),
		transport           = COALESCE(EXCLUDED.transport, exposures_current.transport),
		network_direction   = COALESCE(EXCLUDED.network_direction, exposures_current.network_direction),
		confidence          = COALESCE(EXCLUDED.confidence, exposures_current.confidence),
		asset_hostname      = COALESCE(EXCLUDED.asset_hostname, exposures_current.asset_hostname),
		asset_ip            = COALESCE(EXCLUDED.asset_ip, exposures_current.asset_ip),
		asset_mac           = COALESCE(EXCLUDED.asset_mac, exposures_current.asset_mac),
		asset_os            = COALESCE(EXCLUDED.asset_os, exposures_current.asset_os),
		asset_managed       = COALESCE(EXCLUDED.asset_managed, exposures_current.asset_managed),
		service_name        = COALESCE(EXCLUDED.service_name, exposures_current.service_name),
		service_product     = COALESCE(EXCLUDED.service_product, exposures_current.service_product),
		service_version     = COALESCE(EXCLUDED.service_version, exposures_current.service_version),
		service_tls         = COALESCE(EXCLUDED.service_tls, exposures_current.service_tls),
		service_auth        = COALESCE(EXCLUDED.service_auth, exposures_current.service_auth),
		service_bind_scope  = COALESCE(EXCLUDED.service_bind_scope, exposures_current.service_bind_scope),
		service_json        = COALESCE(EXCLUDED.service_json, exposures_current.service_json),
		resource_json       = COALESCE(EXCLUDED.resource_json, exposures_current.resource_json),
		data_class_json     = COALESCE(EXCLUDED.data_class_json, exposures_current.data_class_json),
		office_region       = COALESCE(EXCLUDED.office_region, exposures_current.office_region),
		office_network_zone = COALESCE(EXCLUDED.office_network_zone, exposures_current.office_network_zone),
		dedupe_key          = COALESCE(EXCLUDED.dedupe_key, exposures_current.dedupe_key),
		updated_at          = now()
	RETURNING (xmax = 0) AS inserted`

// Ingest appends the batch to history and merges it into current state.
//
// The whole batch is first collapsed to one row per (office_id, exposure_id)
// so arrival order inside the batch cannot change the merged outcome. History
// inserts and current-state upserts then run in bounded transactional chunks:
// each chunk fully commits or fully rolls back.
func (p *PostgresStore) Ingest(ctx context.Context, events []*models.ExposureEvent) (IngestStats, error) {
	var stats IngestStats
	if len(events) == 0 {
		return stats, nil
	}

	for start := 0; start < len(events); start += p.chunkSize {
		end := start + p.chunkSize
		if end > len(events) {
			end = len(events)
		}
		inserted, err := p.insertEventChunk(ctx, events[start:end])
		if err != nil {
			return stats, fmt.Errorf("insert event chunk [%d:%d]: %w", start, end, err)
		}
		stats.InsertedEvents += inserted
	}

	rows := collapseBatch(events)
	for start := 0; start < len(rows); start += p.chunkSize {
		end := start + p.chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		inserted, updated, err := p.upsertCurrentChunk(ctx, rows[start:end])
		if err != nil {
			return stats, fmt.Errorf("upsert current chunk [%d:%d]: %w", start, end, err)
		}
		stats.InsertedCurrent += inserted
		stats.UpdatedCurrent += updated
	}

	log.WithFields(log.Fields{
		"events":           len(events),
		"inserted_events":  stats.InsertedEvents,
		"inserted_current": stats.InsertedCurrent,
		"updated_current":  stats.UpdatedCurrent,
	}).Debug("batch ingested")
	return stats, nil
}

// insertEventChunk appends one chunk of history rows in a single
// transaction. Duplicate event_ids (re-ingestion) insert zero rows and are
// not an error.
func (p *PostgresStore) insertEventChunk(ctx context.Context, events []*models.ExposureEvent) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range events {
		args, err := eventArgs(e)
		if err != nil {
			return 0, err
		}
		batch.Queue(insertEventSQL, args...)
	}

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for range events {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, err
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

func eventArgs(e *models.ExposureEvent) ([]any, error) {
	rawPayload, err := json.Marshal(e.Sanitize())
	if err != nil {
		return nil, fmt.Errorf("marshal raw payload for event %s: %w", e.Event.ID, err)
	}

	var dstIP *string
	var dstPort *int
	if e.Exposure.Vector.Dst != nil {
		dstIP = strPtr(e.Exposure.Vector.Dst.IP)
		dstPort = e.Exposure.Vector.Dst.Port
	}
	var serviceJSON, resourceJSON []byte
	if e.Exposure.Service != nil {
		serviceJSON, _ = json.Marshal(e.Exposure.Service)
	}
	if e.Exposure.Resource != nil {
		resourceJSON, _ = json.Marshal(e.Exposure.Resource)
	}
	var scanRunID *string
	if e.Event.Correlation != nil {
		scanRunID = strPtr(e.Event.Correlation.ScanRunID)
	}

	return []any{
		e.Event.ID, e.Timestamp, e.Office.ID, e.Target.Asset.ID, e.Exposure.ID,
		e.Exposure.Class, e.Exposure.Status, e.Event.Action, e.Event.Kind,
		e.Event.Severity, e.Event.RiskScore, e.Exposure.Confidence,
		dstIP, dstPort, strPtr(e.Exposure.Vector.Protocol), e.Exposure.Vector.Transport,
		strPtr(string(e.Exposure.Vector.NetworkDirection)),
		serviceJSON, resourceJSON,
		e.Scanner.ID, e.Scanner.Type, scanRunID, strPtr(e.DedupeKey()), rawPayload,
	}, nil
}

// upsertCurrentChunk merges one chunk of collapsed rows in a single
// transaction, counting fresh inserts vs conflict updates.
func (p *PostgresStore) upsertCurrentChunk(ctx context.Context, rows []currentRow) (inserted, updated int, err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	for i := range rows {
		row := &rows[i]
		var wasInsert bool
		err := tx.QueryRow(ctx, upsertCurrentSQL,
			row.OfficeID, row.ExposureID, row.ExposureClass, row.Status,
			row.DstIP, row.DstPort, row.Protocol, row.Transport, row.NetworkDirection,
			row.Severity, row.RiskScore, row.Confidence, row.FirstSeen, row.LastSeen,
			row.AssetID, row.AssetHostname, row.AssetIP, row.AssetMAC, row.AssetOS, row.AssetManaged,
			row.ServiceName, row.ServiceProduct, row.ServiceVersion, row.ServiceTLS, row.ServiceAuth, row.ServiceBindScope,
			row.ServiceJSON, row.ResourceJSON,
			row.EventAction, row.EventKind, row.ScannerID, row.ScannerType,
			row.OfficeName, row.OfficeRegion, row.OfficeNetworkZone,
			row.DataClassJSON, row.DedupeKey,
		).Scan(&wasInsert)
		if err != nil {
			return 0, 0, fmt.Errorf("upsert exposure %s/%s: %w", row.OfficeID, row.ExposureID, err)
		}
		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}

// Quarantine records one rejected input. Runs outside any ingest transaction
// so it cannot roll back good rows; a quarantine failure is reported but
// never masks the original error at the call site.
func (p *PostgresStore) Quarantine(ctx context.Context, rec QuarantineRecord) error {
	var details []byte
	if rec.ErrorDetails != nil {
		details, _ = json.Marshal(rec.ErrorDetails)
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO quarantined_files(
			filename, file_size, file_hash, error_type, error_message,
			error_details, scanner_type, office_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.Filename, rec.FileSize, rec.FileHash, rec.ErrorType, rec.ErrorMessage,
		details, rec.ScannerType, rec.OfficeID,
	)
	return err
}

// ExposureCounts reports current-state rows grouped by office, class and
// status. Serves the metrics endpoint.
func (p *PostgresStore) ExposureCounts(ctx context.Context, officeID string) ([]ExposureCount, error) {
	query := `
		SELECT office_id, exposure_class, status, COUNT(*)
		FROM exposures_current`
	args := []any{}
	if officeID != "" {
		query += ` WHERE office_id = $1`
		args = append(args, officeID)
	}
	query += `
		GROUP BY office_id, exposure_class, status
		ORDER BY office_id, exposure_class, status`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []ExposureCount
	for rows.Next() {
		var c ExposureCount
		if err := rows.Scan(&c.OfficeID, &c.Class, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
