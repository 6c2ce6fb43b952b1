package repository

import (
	"encoding/json"
	"fmt"

	"github.com/okian/momentum/internal/domain/model"
)

const scoreColumns = `user_id, score_date, raw_score, final_score, momentum_state, breakdown, algorithm_version, calculated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func encodePayload(p map[string]string) (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

func decodePayload(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var p map[string]string
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

func encodeBreakdown(b model.Breakdown) ([]byte, error) {
	out, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode breakdown: %w", err)
	}
	return out, nil
}

func decodeBreakdown(raw []byte) (model.Breakdown, error) {
	var b model.Breakdown
	if err := json.Unmarshal(raw, &b); err != nil {
		return b, fmt.Errorf("%w: breakdown: %w", ErrCorruptRecord, err)
	}
	if b.PointsByType == nil {
		b.PointsByType = map[model.EventType]int{}
	}
	if b.EventsByType == nil {
		b.EventsByType = map[model.EventType]int{}
	}
	return b, nil
}
