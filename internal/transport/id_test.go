package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ID
		wantErr bool
	}{
		{"number", `{"id":123}`, "123", false},
		{"string", `{"id":"abc-1"}`, "abc-1", false},
		{"null", `{"id":null}`, "", false},
		{"missing", `{}`, "", false},
		{"object", `{"id":{}}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				ID ID `json:"id"`
			}
			err := json.Unmarshal([]byte(tt.input), &out)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.ID)
		})
	}
}
