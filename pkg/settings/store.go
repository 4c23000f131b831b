// Package settings provides typed access to runtime configuration stored in
// the system_config table. Values are cached in memory and the cache is
// invalidated whenever an admin updates a key, so tuning thresholds does not
// require a restart.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ipnext/ticketflow/pkg/models"
)

// ErrKeyNotFound indicates the requested key has no row and no default.
var ErrKeyNotFound = errors.New("config key not found")

// Known configuration keys.
const (
	KeyAlertThresholdMinutes  = "TICKET_ALERT_THRESHOLD_MINUTES"
	KeyUpdateThresholdMinutes = "TICKET_UPDATE_THRESHOLD_MINUTES"
	KeyRenotificationMinutes  = "TICKET_RENOTIFICATION_INTERVAL_MINUTES"
	KeyEndOfShiftMinutes      = "END_OF_SHIFT_NOTIFICATION_MINUTES"
	KeyOuthouseNoAlertMinutes = "OUTHOUSE_NO_ALERT_MINUTES"
	KeyPreAlertMinutes        = "TICKET_PRE_ALERT_MINUTES"
	KeyReopenWindowMinutes    = "TICKET_REOPEN_WINDOW_MINUTES"
	KeyWeekendStartHour       = "FINDE_HORA_INICIO"
	KeyWeekendEndHour         = "FINDE_HORA_FIN"
	KeyWeekdayStartHour       = "SEMANA_HORA_INICIO"
	KeyWeekdayEndHour         = "SEMANA_HORA_FIN"
	KeyAssignmentResetHours   = "ASSIGNMENT_RESET_HOURS"
	KeyWeekendGuardOperator   = "PERSONA_GUARDIA_FINDE"
	KeyAfternoonShiftIDs      = "TURNO_TARDE_IDS"
	KeyDayShiftIDs            = "TURNO_DIA_IDS"
	KeyAllowedMotivo          = "WEBHOOK_MOTIVO_PERMITIDO"
	KeyWhatsAppEnabled        = "WHATSAPP_ENABLED"
	KeySystemPaused           = "SYSTEM_PAUSED"
)

// defaults mirror the seed migration so a missing row never breaks a worker.
var defaults = map[string]string{
	KeyAlertThresholdMinutes:  "60",
	KeyUpdateThresholdMinutes: "60",
	KeyRenotificationMinutes:  "60",
	KeyEndOfShiftMinutes:      "60",
	KeyOuthouseNoAlertMinutes: "120",
	KeyPreAlertMinutes:        "15",
	KeyReopenWindowMinutes:    "7",
	KeyWeekendStartHour:       "9",
	KeyWeekendEndHour:         "21",
	KeyWeekdayStartHour:       "8",
	KeyWeekdayEndHour:         "23",
	KeyAssignmentResetHours:   "8,16",
	KeyWeekendGuardOperator:   "10",
	KeyAfternoonShiftIDs:      "27,38",
	KeyDayShiftIDs:            "10,37",
	KeyAllowedMotivo:          "General Soporte",
	KeyWhatsAppEnabled:        "true",
	KeySystemPaused:           "false",
}

// Store reads and writes system_config with a write-through cache.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewStore creates a Store backed by db.
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With("component", "settings"),
		cache:  make(map[string]string),
	}
}

// Get returns the raw string value for key, consulting the cache, then the
// database, then the compiled-in defaults.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	if v, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM system_config WHERE key = $1`, key)
	switch {
	case err == nil:
		s.mu.Lock()
		s.cache[key] = value
		s.mu.Unlock()
		return value, nil
	case errors.Is(err, sql.ErrNoRows):
		if def, ok := defaults[key]; ok {
			return def, nil
		}
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	default:
		// Database hiccups should not stall the workers when a default
		// exists.
		if def, ok := defaults[key]; ok {
			s.logger.Warn("Config lookup failed, using default",
				slog.String("key", key),
				slog.String("error", err.Error()))
			return def, nil
		}
		return "", fmt.Errorf("failed to load config key %s: %w", key, err)
	}
}

// GetInt returns the value for key parsed as an integer.
func (s *Store) GetInt(ctx context.Context, key string) (int, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config key %s is not an integer: %w", key, err)
	}
	return n, nil
}

// GetBool returns the value for key parsed as a boolean.
func (s *Store) GetBool(ctx context.Context, key string) (bool, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("config key %s is not a boolean: %w", key, err)
	}
	return b, nil
}

// GetIntList parses a comma-separated value ("8,16") into integers, skipping
// blanks.
func (s *Store) GetIntList(ctx context.Context, key string) ([]int, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("config key %s has non-integer element %q", key, part)
		}
		out = append(out, n)
	}
	return out, nil
}

// GetInt64List is GetIntList for person identifiers.
func (s *Store) GetInt64List(ctx context.Context, key string) ([]int64, error) {
	ints, err := s.GetIntList(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(ints))
	for i, n := range ints {
		out[i] = int64(n)
	}
	return out, nil
}

// Set upserts key and refreshes the cache entry. valueType and category are
// optional; an empty valueType keeps "string".
func (s *Store) Set(ctx context.Context, key, value, valueType, category, updatedBy string) error {
	if valueType == "" {
		valueType = "string"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_config (key, value, value_type, category, updated_by, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
			value_type = EXCLUDED.value_type,
			category = COALESCE(EXCLUDED.category, system_config.category),
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at`,
		key, value, valueType, category, updatedBy, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update config key %s: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()

	s.logger.Info("Config updated",
		slog.String("key", key),
		slog.String("updated_by", updatedBy))
	return nil
}

// List returns every stored config entry ordered by key.
func (s *Store) List(ctx context.Context) ([]models.ConfigEntry, error) {
	var entries []models.ConfigEntry
	err := s.db.SelectContext(ctx, &entries,
		`SELECT * FROM system_config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list config: %w", err)
	}
	return entries, nil
}

// Invalidate drops the cache so the next read hits the database. Called after
// out-of-band writes.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
}
