package risk

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexshop/nexid/internal/validation"
)

const validBody = `{
	"context": "checkout",
	"userId": "u-42",
	"emailHash": "abc123",
	"snapshot": {
		"userAgent": "Mozilla/5.0",
		"languages": ["en-US", "de"],
		"timezone": "Europe/Berlin",
		"screen": {"w": 1440, "h": 900, "dpr": 2},
		"platform": "MacIntel",
		"sessionId": "s-1",
		"pageTimeMs": 4200,
		"mouseMoves": 12,
		"tabInactiveMs": 0,
		"lastActivityTs": 1767225600000,
		"sdkVersion": "0.1.0"
	}
}`

func decode(t *testing.T, body string) *VerifyPayload {
	t.Helper()
	var p VerifyPayload
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	return &p
}

func TestParseVerifyRequestValid(t *testing.T) {
	req, err := ParseVerifyRequest(decode(t, validBody))
	require.NoError(t, err)

	assert.Equal(t, ContextCheckout, req.Context)
	assert.Equal(t, "u-42", req.UserID)
	assert.Equal(t, "abc123", req.EmailHash)
	assert.Equal(t, []string{"en-US", "de"}, req.Snapshot.Languages)
	assert.Equal(t, Screen{W: 1440, H: 900, DPR: 2}, req.Snapshot.Screen)
	assert.Equal(t, 4200.0, req.Snapshot.PageTimeMs)
	assert.Equal(t, 12, req.Snapshot.MouseMoves)
}

func TestParseVerifyRequestZeroValuesArePresent(t *testing.T) {
	body := `{"context":"login","snapshot":{"userAgent":"","languages":[],"timezone":"",
		"screen":{"w":0,"h":0,"dpr":0},"platform":"","sessionId":"","pageTimeMs":0,
		"mouseMoves":0,"tabInactiveMs":0,"lastActivityTs":0,"sdkVersion":""}}`

	req, err := ParseVerifyRequest(decode(t, body))
	require.NoError(t, err)
	assert.Empty(t, req.UserID)
	assert.Equal(t, 0, req.Snapshot.MouseMoves)
}

func TestParseVerifyRequestFloatMouseMoves(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"10.0", 10},
		{"5.9", 5},
		{"2.5", 2},
		{"1e12", math.MaxInt32},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			body := strings.Replace(validBody, `"mouseMoves": 12`, `"mouseMoves": `+tc.raw, 1)
			req, err := ParseVerifyRequest(decode(t, body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, req.Snapshot.MouseMoves)
		})
	}
}

func TestParseVerifyRequestRejects(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"unknown context", `{"context":"signup","snapshot":{}}`, "context"},
		{"missing snapshot", `{"context":"login"}`, "snapshot"},
		{"missing sessionId", strings.Replace(validBody, `"sessionId": "s-1",`, ``, 1), "snapshot.sessionId"},
		{"null languages", strings.Replace(validBody, `["en-US", "de"]`, `null`, 1), "snapshot.languages"},
		{"missing screen dpr", strings.Replace(validBody, `, "dpr": 2`, ``, 1), "snapshot.screen.dpr"},
		{"negative page time", strings.Replace(validBody, `4200`, `-1`, 1), "snapshot.pageTimeMs"},
		{"negative mouse moves", strings.Replace(validBody, `"mouseMoves": 12`, `"mouseMoves": -3`, 1), "snapshot.mouseMoves"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseVerifyRequest(decode(t, tc.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPayload))

			var verrs validation.ValidationErrors
			require.True(t, errors.As(err, &verrs))
			fields := make([]string, len(verrs))
			for i, v := range verrs {
				fields[i] = v.Field
			}
			assert.Contains(t, fields, tc.field)
		})
	}
}

func TestParseVerifyRequestNil(t *testing.T) {
	_, err := ParseVerifyRequest(nil)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
