// Package run persists pipeline runs, cancel flags and per-source ingestion
// bookkeeping. Two backends share the same key layout: Redis/Valkey for
// deployments that already run the vector index there, and an embedded
// Badger database for single-node setups.
package run

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kailas-cloud/ragflow/internal/domain"
	domrun "github.com/kailas-cloud/ragflow/internal/domain/run"
)

var (
	runKeyPrefix    = domain.KeyPrefix + "run:"
	sourceKeyPrefix = domain.KeyPrefix + "source:"
)

func runKey(id string) string    { return runKeyPrefix + id }
func cancelKey(id string) string { return runKeyPrefix + id + ":cancel" }

func chunkCountKey(sourceID string) string { return sourceKeyPrefix + sourceID + ":chunks" }

func encodeRun(r *domrun.Run) ([]byte, error) {
	if r == nil || r.ID == "" {
		return nil, fmt.Errorf("run id is required: %w", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal run %s: %w", r.ID, err)
	}
	return data, nil
}

func decodeRun(id string, data []byte) (*domrun.Run, error) {
	var r domrun.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", id, err)
	}
	return &r, nil
}

func decodeCount(sourceID string, data []byte) (int, error) {
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("parse chunk count for %s: %w", sourceID, err)
	}
	return n, nil
}
