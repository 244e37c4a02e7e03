package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
)

// Analysis is one saved LLM response for a (binary, function, query type)
// triple. MetadataJSON is the raw stored document; empty means none.
type Analysis struct {
	ID              int64  `json:"id"`
	BinaryHash      string `json:"binary_hash"`
	FunctionAddr    uint64 `json:"function_addr"`
	QueryType       string `json:"query_type"`
	Response        string `json:"response"`
	MetadataJSON    string `json:"metadata_json,omitempty"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64  `json:"updated_at_unix_ms"`
}

// SaveFunctionAnalysis upserts an analysis response. A second save with the
// same key fully replaces the response and metadata and bumps updated_at;
// created_at is preserved.
func (s *Store) SaveFunctionAnalysis(ctx context.Context, binaryHash string, functionAddr uint64, queryType string, response string, metadata map[string]any) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	binaryHash = strings.TrimSpace(binaryHash)
	queryType = strings.TrimSpace(queryType)
	if binaryHash == "" {
		return 0, errors.New("missing binary_hash")
	}
	if queryType == "" {
		return 0, errors.New("missing query_type")
	}

	metadataJSON := ""
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return 0, opErr("save_function_analysis", err)
		}
		metadataJSON = string(b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowUnixMs()
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO analyses(binary_hash, function_addr, query_type, response, metadata_json, created_at_unix_ms, updated_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(binary_hash, function_addr, query_type) DO UPDATE SET
  response = excluded.response,
  metadata_json = excluded.metadata_json,
  updated_at_unix_ms = excluded.updated_at_unix_ms
RETURNING id
`, binaryHash, int64(functionAddr), queryType, response, metadataJSON, now, now).Scan(&id)
	if err != nil {
		return 0, opErr("save_function_analysis", err)
	}
	return id, nil
}

// GetFunctionAnalysis returns one analysis, or nil if none is stored.
func (s *Store) GetFunctionAnalysis(ctx context.Context, binaryHash string, functionAddr uint64, queryType string) (*Analysis, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	binaryHash = strings.TrimSpace(binaryHash)
	queryType = strings.TrimSpace(queryType)
	if binaryHash == "" || queryType == "" {
		return nil, errors.New("invalid request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := Analysis{BinaryHash: binaryHash, FunctionAddr: functionAddr, QueryType: queryType}
	err := s.db.QueryRowContext(ctx, `
SELECT id, response, metadata_json, created_at_unix_ms, updated_at_unix_ms
FROM analyses
WHERE binary_hash = ? AND function_addr = ? AND query_type = ?
`, binaryHash, int64(functionAddr), queryType).Scan(&a.ID, &a.Response, &a.MetadataJSON, &a.CreatedAtUnixMs, &a.UpdatedAtUnixMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, opErr("get_function_analysis", err)
	}
	return &a, nil
}

// GetFunctionAnalyses returns every stored analysis for a function, most
// recently updated first.
func (s *Store) GetFunctionAnalyses(ctx context.Context, binaryHash string, functionAddr uint64) ([]Analysis, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	binaryHash = strings.TrimSpace(binaryHash)
	if binaryHash == "" {
		return nil, errors.New("missing binary_hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
SELECT id, query_type, response, metadata_json, created_at_unix_ms, updated_at_unix_ms
FROM analyses
WHERE binary_hash = ? AND function_addr = ?
ORDER BY updated_at_unix_ms DESC
`, binaryHash, int64(functionAddr))
	if err != nil {
		return nil, opErr("get_function_analyses", err)
	}
	defer rows.Close()

	out := make([]Analysis, 0, 8)
	for rows.Next() {
		a := Analysis{BinaryHash: binaryHash, FunctionAddr: functionAddr}
		if err := rows.Scan(&a.ID, &a.QueryType, &a.Response, &a.MetadataJSON, &a.CreatedAtUnixMs, &a.UpdatedAtUnixMs); err != nil {
			return nil, opErr("get_function_analyses", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("get_function_analyses", err)
	}
	return out, nil
}

// DeleteFunctionAnalysis removes one analysis; the bool reports whether a
// row existed.
func (s *Store) DeleteFunctionAnalysis(ctx context.Context, binaryHash string, functionAddr uint64, queryType string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	binaryHash = strings.TrimSpace(binaryHash)
	queryType = strings.TrimSpace(queryType)
	if binaryHash == "" || queryType == "" {
		return false, errors.New("invalid request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
DELETE FROM analyses
WHERE binary_hash = ? AND function_addr = ? AND query_type = ?
`, binaryHash, int64(functionAddr), queryType)
	if err != nil {
		return false, opErr("delete_function_analysis", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
