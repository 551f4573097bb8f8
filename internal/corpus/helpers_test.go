package corpus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func rawObjects(t *testing.T, objs ...map[string]any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(objs))
	for _, o := range objs {
		data, err := json.Marshal(o)
		require.NoError(t, err)
		out = append(out, data)
	}
	return out
}
