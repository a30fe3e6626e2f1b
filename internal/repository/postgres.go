package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
)

// PostgresRepository stores configuration in Postgres. Plugin config,
// callsign mappings, and TLS material are JSONB columns; destinations are a
// bigint array.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

const streamColumns = `id, name, enabled, plugin_type, plugin_config,
	poll_interval_seconds, cot_type_default, cot_stale_seconds, cot_type_mode,
	destinations, enable_callsign_mapping, callsign_identifier_field, callsign_mappings`

func (r *PostgresRepository) ListStreams(ctx context.Context) ([]model.StreamConfig, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+streamColumns+` FROM streams ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var streams []model.StreamConfig
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}
	return streams, rows.Err()
}

func (r *PostgresRepository) GetStream(ctx context.Context, id int64) (model.StreamConfig, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = $1`, id)
	s, err := scanStream(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StreamConfig{}, fmt.Errorf("stream %d: %w", id, ErrNotFound)
	}
	return s, err
}

func (r *PostgresRepository) SaveStream(ctx context.Context, s model.StreamConfig) (model.StreamConfig, error) {
	pluginCfg, err := json.Marshal(s.PluginConfig)
	if err != nil {
		return model.StreamConfig{}, fmt.Errorf("marshal plugin_config: %w", err)
	}
	mappings, err := json.Marshal(s.CallsignMappings)
	if err != nil {
		return model.StreamConfig{}, fmt.Errorf("marshal callsign_mappings: %w", err)
	}

	if s.ID == 0 {
		err = r.pool.QueryRow(ctx, `
			INSERT INTO streams (name, enabled, plugin_type, plugin_config,
				poll_interval_seconds, cot_type_default, cot_stale_seconds, cot_type_mode,
				destinations, enable_callsign_mapping, callsign_identifier_field, callsign_mappings)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id`,
			s.Name, s.Enabled, s.PluginType, pluginCfg,
			s.PollIntervalSeconds, s.CotTypeDefault, s.CotStaleSeconds, string(s.CotTypeMode),
			s.Destinations, s.EnableCallsignMapping, s.CallsignIdentifierField, mappings,
		).Scan(&s.ID)
		if err != nil {
			return model.StreamConfig{}, fmt.Errorf("insert stream: %w", err)
		}
		return s, nil
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE streams SET name = $2, enabled = $3, plugin_type = $4, plugin_config = $5,
			poll_interval_seconds = $6, cot_type_default = $7, cot_stale_seconds = $8,
			cot_type_mode = $9, destinations = $10, enable_callsign_mapping = $11,
			callsign_identifier_field = $12, callsign_mappings = $13
		WHERE id = $1`,
		s.ID, s.Name, s.Enabled, s.PluginType, pluginCfg,
		s.PollIntervalSeconds, s.CotTypeDefault, s.CotStaleSeconds,
		string(s.CotTypeMode), s.Destinations, s.EnableCallsignMapping,
		s.CallsignIdentifierField, mappings,
	)
	if err != nil {
		return model.StreamConfig{}, fmt.Errorf("update stream %d: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return model.StreamConfig{}, fmt.Errorf("stream %d: %w", s.ID, ErrNotFound)
	}
	return s, nil
}

func (r *PostgresRepository) DeleteStream(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM streams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete stream %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stream %d: %w", id, ErrNotFound)
	}
	return nil
}

const serverColumns = `id, name, host, port, protocol, tls_material`

func (r *PostgresRepository) ListServers(ctx context.Context) ([]model.ServerConfig, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+serverColumns+` FROM tak_servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var servers []model.ServerConfig
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

func (r *PostgresRepository) GetServer(ctx context.Context, id int64) (model.ServerConfig, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+serverColumns+` FROM tak_servers WHERE id = $1`, id)
	s, err := scanServer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ServerConfig{}, fmt.Errorf("server %d: %w", id, ErrNotFound)
	}
	return s, err
}

func (r *PostgresRepository) SaveServer(ctx context.Context, s model.ServerConfig) (model.ServerConfig, error) {
	var tlsMaterial []byte
	if s.TLS != nil {
		var err error
		tlsMaterial, err = json.Marshal(s.TLS)
		if err != nil {
			return model.ServerConfig{}, fmt.Errorf("marshal tls_material: %w", err)
		}
	}

	if s.ID == 0 {
		err := r.pool.QueryRow(ctx, `
			INSERT INTO tak_servers (name, host, port, protocol, tls_material)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			s.Name, s.Host, s.Port, string(s.Protocol), tlsMaterial,
		).Scan(&s.ID)
		if err != nil {
			return model.ServerConfig{}, fmt.Errorf("insert server: %w", err)
		}
		return s, nil
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE tak_servers SET name = $2, host = $3, port = $4, protocol = $5, tls_material = $6
		WHERE id = $1`,
		s.ID, s.Name, s.Host, s.Port, string(s.Protocol), tlsMaterial,
	)
	if err != nil {
		return model.ServerConfig{}, fmt.Errorf("update server %d: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ServerConfig{}, fmt.Errorf("server %d: %w", s.ID, ErrNotFound)
	}
	return s, nil
}

func (r *PostgresRepository) DeleteServer(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tak_servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete server %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("server %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanStream(row pgx.Row) (model.StreamConfig, error) {
	var (
		s          model.StreamConfig
		mode       string
		pluginCfg  []byte
		mappings   []byte
		identField *string
	)
	err := row.Scan(
		&s.ID, &s.Name, &s.Enabled, &s.PluginType, &pluginCfg,
		&s.PollIntervalSeconds, &s.CotTypeDefault, &s.CotStaleSeconds, &mode,
		&s.Destinations, &s.EnableCallsignMapping, &identField, &mappings,
	)
	if err != nil {
		return model.StreamConfig{}, err
	}
	s.CotTypeMode = model.CotTypeMode(mode)
	if identField != nil {
		s.CallsignIdentifierField = *identField
	}
	if len(pluginCfg) > 0 {
		if err := json.Unmarshal(pluginCfg, &s.PluginConfig); err != nil {
			return model.StreamConfig{}, fmt.Errorf("stream %d: decode plugin_config: %w", s.ID, err)
		}
	}
	if len(mappings) > 0 {
		if err := json.Unmarshal(mappings, &s.CallsignMappings); err != nil {
			return model.StreamConfig{}, fmt.Errorf("stream %d: decode callsign_mappings: %w", s.ID, err)
		}
	}
	return s, nil
}

func scanServer(row pgx.Row) (model.ServerConfig, error) {
	var (
		s           model.ServerConfig
		protocol    string
		tlsMaterial []byte
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Host, &s.Port, &protocol, &tlsMaterial); err != nil {
		return model.ServerConfig{}, err
	}
	s.Protocol = model.Protocol(protocol)
	if len(tlsMaterial) > 0 {
		s.TLS = &model.TLSMaterial{}
		if err := json.Unmarshal(tlsMaterial, s.TLS); err != nil {
			return model.ServerConfig{}, fmt.Errorf("server %d: decode tls_material: %w", s.ID, err)
		}
	}
	return s, nil
}
