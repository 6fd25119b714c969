package point

import (
	"encoding/binary"
	"math"

	"github.com/redis/rueidis"

	dompoint "github.com/kailas-cloud/ragflow/internal/domain/point"
)

const (
	fieldText     = "text"
	fieldSourceID = "source_id"
	fieldVector   = "__vector"
	vectorAlias   = "vector"
)

// pointToHash flattens a point for HSET. Empty payload fields are omitted
// so readers can tell "absent" from "present".
func pointToHash(p *dompoint.Point) map[string]string {
	m := map[string]string{fieldVector: vectorToBytes(p.Vector)}
	if p.Payload.Text != "" {
		m[fieldText] = p.Payload.Text
	}
	if p.Payload.SourceID != "" {
		m[fieldSourceID] = p.Payload.SourceID
	}
	return m
}

func payloadFromHash(m map[string]string) dompoint.Payload {
	return dompoint.Payload{Text: m[fieldText], SourceID: m[fieldSourceID]}
}

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return rueidis.BinaryString(buf)
}

