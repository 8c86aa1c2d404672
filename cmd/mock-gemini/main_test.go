package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostFrom(t *testing.T) {
	req := generateRequest{Contents: []content{{Parts: []part{{Text: "Product Details:\n- Cost Price: $12.50\n- Competitor Price: not provided"}}}}}
	assert.Equal(t, 12.5, costFrom(req))

	assert.Equal(t, 10.0, costFrom(generateRequest{}))
}

func TestReply(t *testing.T) {
	text, err := reply("ok", 10)
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &rec))
	assert.Equal(t, 16.0, rec["suggested_price"])
	assert.Equal(t, 0.82, rec["confidence_score"])

	text, err = reply("garbage", 10)
	require.NoError(t, err)
	assert.False(t, json.Valid([]byte(text)))

	_, err = reply("error", 10)
	assert.Error(t, err)
}
