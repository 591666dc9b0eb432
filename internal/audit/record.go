// Package audit exports a flattened copy of every step response to a
// side log. Export never blocks the caller and its failures never reach
// the host.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/opentalon/geminicog/pkg/cog"
)

// Record is one flattened step response.
type Record struct {
	ID      string         `json:"id"`
	StepID  string         `json:"step_id"`
	Outcome string         `json:"outcome"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields"`
	Created time.Time      `json:"created"`
}

// Flatten builds a Record from resp. Key-value record fields are copied to
// the top level. Each table header becomes a field holding that column's
// values in row order.
func Flatten(stepID string, resp *cog.RunStepResponse, now time.Time) Record {
	rec := Record{
		ID:      uuid.NewString(),
		StepID:  stepID,
		Fields:  map[string]any{},
		Created: now.UTC(),
	}
	if resp == nil {
		return rec
	}
	rec.Outcome = resp.Outcome.String()
	rec.Message = resp.Message()
	for _, r := range resp.Records {
		if r == nil {
			continue
		}
		for k, v := range r.KeyValue {
			rec.Fields[k] = v
		}
		if r.Table == nil {
			continue
		}
		for h := range r.Table.Headers {
			col := make([]any, 0, len(r.Table.Rows))
			for _, row := range r.Table.Rows {
				col = append(col, row[h])
			}
			rec.Fields[h] = col
		}
	}
	return rec
}

// Document is the record as a single flat object. Record fields win over
// the envelope keys they collide with.
func (r Record) Document() map[string]any {
	doc := make(map[string]any, len(r.Fields)+5)
	doc["id"] = r.ID
	doc["step_id"] = r.StepID
	doc["outcome"] = r.Outcome
	doc["message"] = r.Message
	doc["created"] = r.Created.Format(time.RFC3339Nano)
	for k, v := range r.Fields {
		doc[k] = v
	}
	return doc
}
