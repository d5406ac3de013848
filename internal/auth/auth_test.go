package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRequest(headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/identity/verify", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestAuthorize(t *testing.T) {
	a := New("secret-key", []string{"https://shop.example", " https://admin.example/ "})

	tests := []struct {
		name    string
		headers map[string]string
		want    Method
		wantErr error
	}{
		{"valid key", map[string]string{"X-API-Key": "secret-key"}, MethodAPIKey, nil},
		{"allowed origin", map[string]string{"Origin": "https://shop.example"}, MethodOrigin, nil},
		{"origin list entries are normalized", map[string]string{"Origin": "https://admin.example"}, MethodOrigin, nil},
		{"referer origin", map[string]string{"Referer": "https://shop.example/checkout?step=2"}, MethodOrigin, nil},
		{"wrong key, allowed origin", map[string]string{"X-API-Key": "nope", "Origin": "https://shop.example"}, MethodOrigin, nil},
		{"wrong key", map[string]string{"X-API-Key": "nope"}, "", ErrInvalidAPIKey},
		{"unknown origin", map[string]string{"Origin": "https://evil.example"}, "", ErrNoCredentials},
		{"nothing", nil, "", ErrNoCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Authorize(newRequest(tt.headers))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthorizeKeyDisabled(t *testing.T) {
	a := New("", []string{"https://shop.example"})

	_, err := a.Authorize(newRequest(map[string]string{"X-API-Key": ""}))
	assert.ErrorIs(t, err, ErrNoCredentials)

	_, err = a.Authorize(newRequest(map[string]string{"X-API-Key": "anything"}))
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestOriginAllowed(t *testing.T) {
	a := New("k", []string{"https://shop.example"})
	assert.True(t, a.OriginAllowed("https://shop.example/"))
	assert.False(t, a.OriginAllowed("http://shop.example"))
}

func TestRequireAuth(t *testing.T) {
	a := New("secret-key", nil)
	r := gin.New()
	r.POST("/identity/verify", RequireAuth(a), func(c *gin.Context) {
		m, ok := GetMethod(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"method": m})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, newRequest(map[string]string{"X-API-Key": "secret-key"}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"method":"api_key"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, newRequest(nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"unauthorized"`)
}
