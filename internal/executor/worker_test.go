package executor

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeBuffer struct {
	bytes.Buffer
	closed bool
}

func (c *closeBuffer) Close() error {
	c.closed = true
	return nil
}

func TestServeWorker(t *testing.T) {
	tests := []struct {
		name     string
		request  string
		wantCode int
		wantOut  string
	}{
		{"success", `{"experiment":"ok","parameters":{"value":"x"}}`, 0, `{"output":{"echo":"x","result":"ok"}}`},
		{"function error", `{"experiment":"boom","parameters":{}}`, 0, `{"error":"boom"}`},
		{"unknown experiment", `{"experiment":"nope","parameters":{}}`, 2, `{"error":"experiment not registered: \"nope\""}`},
		{"garbage", `not json`, 2, ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &closeBuffer{}
			code := ServeWorker(testRegistry, strings.NewReader(tt.request), out)

			assert.Equal(t, tt.wantCode, code)
			assert.True(t, out.closed)
			if tt.wantOut != "" {
				assert.JSONEq(t, tt.wantOut, out.String())
			} else {
				assert.Contains(t, out.String(), "invalid worker request")
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	_, err := decodeResponse(nil)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	resp, err := decodeResponse([]byte(`{"output":{"n":12345678901234567}}`))
	require.NoError(t, err)
	assert.Equal(t, "12345678901234567", resp.Output["n"].(interface{ String() string }).String())
}

func TestServeWorker_KeepsIntegerPrecision(t *testing.T) {
	out := &closeBuffer{}
	code := ServeWorker(testRegistry, strings.NewReader(`{"experiment":"ok","parameters":{"value":9007199254740993}}`), out)

	require.Equal(t, 0, code)
	// JSONEq compares through float64 and would hide the rounding
	assert.Contains(t, out.String(), `"echo":9007199254740993`)
}
