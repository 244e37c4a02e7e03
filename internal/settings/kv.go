package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// serializeValue maps a Go value onto (text, type tag) for storage.
func serializeValue(value any) (string, string, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return "1", "boolean", nil
		}
		return "0", "boolean", nil
	case int:
		return strconv.Itoa(v), "integer", nil
	case int64:
		return strconv.FormatInt(v, 10), "integer", nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), "float", nil
	case string:
		return v, "string", nil
	case nil:
		return "", "string", nil
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return "", "", err
		}
		return string(b), "json", nil
	default:
		return fmt.Sprintf("%v", v), "string", nil
	}
}

// deserializeValue reverses serializeValue. A value that no longer parses
// under its recorded type comes back as the raw string rather than an
// error; settings reads never fail on stale data.
func deserializeValue(value string, typ string) any {
	switch typ {
	case "boolean":
		n, err := strconv.Atoi(value)
		if err != nil {
			return value
		}
		return n != 0
	case "integer":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return value
		}
		return n
	case "float":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return value
		}
		return f
	case "json":
		var out any
		if err := json.Unmarshal([]byte(value), &out); err != nil {
			return value
		}
		return out
	default:
		return value
	}
}

// GetSetting returns a setting value with its stored type restored. The
// bool reports whether the key exists.
func (s *Store) GetSetting(ctx context.Context, key string) (any, bool, error) {
	if err := s.ready(); err != nil {
		return nil, false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, errors.New("missing key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var value, typ string
	err := s.db.QueryRowContext(ctx, `SELECT value, type FROM settings WHERE key = ?`, key).Scan(&value, &typ)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return deserializeValue(value, typ), true, nil
}

// GetSettingString is GetSetting narrowed to string-valued keys, with a
// fallback for missing or non-string values.
func (s *Store) GetSettingString(ctx context.Context, key string, fallback string) (string, error) {
	v, ok, err := s.GetSetting(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return fallback, nil
	}
	str, ok := v.(string)
	if !ok {
		return fallback, nil
	}
	return str, nil
}

// SetSetting upserts a setting, recording the value's type for round-trip.
func (s *Store) SetSetting(ctx context.Context, key string, value any, category string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("missing key")
	}
	category = strings.TrimSpace(category)
	if category == "" {
		category = "general"
	}

	valueStr, typ, err := serializeValue(value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setSettingLocked(ctx, key, valueStr, typ, category)
}

func (s *Store) setSettingLocked(ctx context.Context, key, value, typ, category string) error {
	now := nowUnixMs()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings(key, value, type, category, created_at_unix_ms, updated_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  type = excluded.type,
  category = excluded.category,
  updated_at_unix_ms = excluded.updated_at_unix_ms
`, key, value, typ, category, now, now)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// DeleteSetting removes a key; the bool reports whether it existed.
func (s *Store) DeleteSetting(ctx context.Context, key string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errors.New("missing key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete setting %q: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SettingsByCategory returns every setting in a category, values typed.
func (s *Store) SettingsByCategory(ctx context.Context, category string) (map[string]any, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, errors.New("missing category")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value, type FROM settings WHERE category = ?`, category)
	if err != nil {
		return nil, fmt.Errorf("settings for category %q: %w", category, err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var key, value, typ string
		if err := rows.Scan(&key, &value, &typ); err != nil {
			return nil, fmt.Errorf("settings for category %q: %w", category, err)
		}
		out[key] = deserializeValue(value, typ)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settings for category %q: %w", category, err)
	}
	return out, nil
}
