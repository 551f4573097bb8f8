package service

import (
	"encoding/json"
	"testing"

	"github.com/cloo-solutions/ctirag/internal/domain"
	"github.com/stretchr/testify/require"
)

func stixObject(typ, name, description string) map[string]any {
	obj := map[string]any{"type": typ, "id": typ + "--" + name}
	if name != "" {
		obj["name"] = name
	}
	if description != "" {
		obj["description"] = description
	}
	return obj
}

func stixBundle(t *testing.T, objects ...map[string]any) *domain.Bundle {
	t.Helper()
	raws := make([]json.RawMessage, 0, len(objects))
	for _, o := range objects {
		b, err := json.Marshal(o)
		require.NoError(t, err)
		raws = append(raws, b)
	}
	return &domain.Bundle{Type: "bundle", ID: "bundle--test", Objects: raws}
}

func stixBundleJSON(t *testing.T, objects ...map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"type":    "bundle",
		"id":      "bundle--test",
		"objects": objects,
	})
	require.NoError(t, err)
	return b
}
