package pub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_UnmarshalCreatedAtLayouts(t *testing.T) {
	tests := []struct {
		name      string
		createdAt string
		want      time.Time
	}{
		{name: "utc", createdAt: "2025-07-01T23:31:05Z", want: time.Date(2025, 7, 1, 23, 31, 5, 0, time.UTC)},
		{name: "hour offset", createdAt: "2025-07-01T23:31:05+01", want: time.Date(2025, 7, 1, 22, 31, 5, 0, time.UTC)},
		{name: "full offset", createdAt: "2025-07-01T23:31:05+01:00", want: time.Date(2025, 7, 1, 22, 31, 5, 0, time.UTC)},
		{name: "hour and minute offset", createdAt: "2025-07-01T23:31:05+0530", want: time.Date(2025, 7, 1, 18, 1, 5, 0, time.UTC)},
		{name: "negative hour and minute offset", createdAt: "2025-07-01T23:31:05-0130", want: time.Date(2025, 7, 2, 1, 1, 5, 0, time.UTC)},
		{name: "fractional", createdAt: "2025-07-01T23:31:05.25Z", want: time.Date(2025, 7, 1, 23, 31, 5, 250_000_000, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"id":"9f320609-0405-44a3-9042-953a353aa40c","data":{"m":"x"},"createdAt":"` + tt.createdAt + `"}`

			var e Event
			require.NoError(t, json.Unmarshal([]byte(raw), &e))
			assert.True(t, tt.want.Equal(e.CreatedAt), "got %s", e.CreatedAt)
			assert.Equal(t, "9f320609-0405-44a3-9042-953a353aa40c", e.ID.String())
			assert.JSONEq(t, `{"m":"x"}`, string(e.Data))
		})
	}
}

func TestEvent_UnmarshalInvalidCreatedAt(t *testing.T) {
	var e Event
	err := json.Unmarshal([]byte(`{"id":"9f320609-0405-44a3-9042-953a353aa40c","createdAt":"yesterday"}`), &e)
	require.Error(t, err)
}

func TestEvent_Decode(t *testing.T) {
	e := Event{Data: json.RawMessage(`{"m":"x"}`)}

	var v struct {
		M string `json:"m"`
	}
	require.NoError(t, e.Decode(&v))
	assert.Equal(t, "x", v.M)

	var n int
	require.Error(t, e.Decode(&n))
}

func TestPublishRequest_Encoding(t *testing.T) {
	b, err := json.Marshal([]PublishRequest{{Data: map[string]string{"m": "x"}}, {Data: json.RawMessage(`[1,2]`)}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"data":{"m":"x"}},{"data":[1,2]}]`, string(b))
}
