package postgres

import (
	"context"

	"github.com/MrWong99/talkwire/pkg/store"
)

// ReplaceTranscript implements [store.TranscriptStore] with upsert semantics:
// the transcript row for a call is created on first write and overwritten on
// every subsequent one.
func (s *Store) ReplaceTranscript(ctx context.Context, callID int64, content string) error {
	const q = `
		INSERT INTO transcripts (call_id, content)
		VALUES ($1, $2)
		ON CONFLICT (call_id)
		DO UPDATE SET content = EXCLUDED.content`

	if _, err := s.pool.Exec(ctx, q, callID, content); err != nil {
		return mapErr("replace transcript", err)
	}
	return nil
}

// GetTranscript implements [store.TranscriptStore].
func (s *Store) GetTranscript(ctx context.Context, callID int64) (store.Transcript, error) {
	const q = `SELECT call_id, content, created_at FROM transcripts WHERE call_id = $1`

	var t store.Transcript
	if err := s.pool.QueryRow(ctx, q, callID).Scan(&t.CallID, &t.Content, &t.CreatedAt); err != nil {
		return store.Transcript{}, mapErr("get transcript", err)
	}
	return t, nil
}

// SaveAnalysis implements [store.AnalysisStore], last-write-wins per call.
func (s *Store) SaveAnalysis(ctx context.Context, a store.Analysis) error {
	const q = `
		INSERT INTO analyses (call_id, interpretation, result)
		VALUES ($1, $2, $3)
		ON CONFLICT (call_id)
		DO UPDATE SET interpretation = EXCLUDED.interpretation, result = EXCLUDED.result`

	if _, err := s.pool.Exec(ctx, q, a.CallID, a.Interpretation, a.Result); err != nil {
		return mapErr("save analysis", err)
	}
	return nil
}

// GetAnalysis implements [store.AnalysisStore].
func (s *Store) GetAnalysis(ctx context.Context, callID int64) (store.Analysis, error) {
	const q = `SELECT call_id, interpretation, result, created_at FROM analyses WHERE call_id = $1`

	var a store.Analysis
	if err := s.pool.QueryRow(ctx, q, callID).Scan(&a.CallID, &a.Interpretation, &a.Result, &a.CreatedAt); err != nil {
		return store.Analysis{}, mapErr("get analysis", err)
	}
	return a, nil
}
