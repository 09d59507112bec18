package logs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"curator/internal/logs"
)

const consumerLine = `{"ts":"2026-10-19T08:00:00Z","level":"warn","msg":"step failed","component":"consumer","execution_id":"e1","dataset_id":"ds1","records":3}`

func TestParseEntry(t *testing.T) {
	entry := logs.ParseEntry(consumerLine)
	assert.Equal(t, "warn", entry.Level)
	assert.Equal(t, "step failed", entry.Message)
	assert.Equal(t, "consumer", entry.Component)
	assert.Equal(t, "e1", entry.Fields["execution_id"])
	assert.Equal(t, "3", entry.Fields["records"])
	assert.NotContains(t, entry.Fields, "msg")

	assert.Equal(t,
		`2026-10-19T08:00:00Z WARN  [consumer] step failed dataset_id=ds1 execution_id=e1 records=3`,
		entry.Format())
}

func TestParseEntryKeepsNonJSON(t *testing.T) {
	entry := logs.ParseEntry("panic: boom")
	assert.Equal(t, "panic: boom", entry.Raw)
	assert.Equal(t, "panic: boom", entry.Format())
	assert.True(t, logs.Filter{}.Match(entry))
	assert.False(t, logs.Filter{ExecutionID: "e1"}.Match(entry))
}

func TestFilterMatch(t *testing.T) {
	entry := logs.ParseEntry(consumerLine)
	cases := []struct {
		name   string
		filter logs.Filter
		want   bool
	}{
		{"empty", logs.Filter{}, true},
		{"execution", logs.Filter{ExecutionID: "e1"}, true},
		{"other execution", logs.Filter{ExecutionID: "e2"}, false},
		{"dataset", logs.Filter{DatasetID: "ds1"}, true},
		{"level below", logs.Filter{MinLevel: "info"}, true},
		{"level above", logs.Filter{MinLevel: "error"}, false},
		{"unknown level ignored", logs.Filter{MinLevel: "loud"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Match(entry))
		})
	}
}
