package repo

import (
	"encoding/json"
	"fmt"
	"time"

	"videojobs/internal/domain"
)

func encodeResult(r domain.Result) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return b, nil
}

func decodeResult(b []byte) (domain.Result, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var r domain.Result
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return r, nil
}

func encodeJobError(e *domain.JobError) ([]byte, error) {
	if e == nil {
		return nil, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode job error: %w", err)
	}
	return b, nil
}

func decodeJobError(b []byte) (*domain.JobError, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var e domain.JobError
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("decode job error: %w", err)
	}
	return &e, nil
}

// fixed width keeps text timestamps ordered lexically
const storeTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatStoreTime(t time.Time) string {
	return t.UTC().Format(storeTimeLayout)
}

func parseStoreTime(v string) (time.Time, error) {
	t, err := time.Parse(storeTimeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}
