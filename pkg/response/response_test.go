package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	h(c)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestSuccessEnvelope(t *testing.T) {
	w, resp := serve(t, func(c *gin.Context) { Created(c, map[string]int{"slow_mode": 5}) })
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, map[string]interface{}{"slow_mode": float64(5)}, resp.Data)
}

func TestTooManyRequests(t *testing.T) {
	w, resp := serve(t, func(c *gin.Context) { TooManyRequests(c, 3, "slow down") })
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3", w.Header().Get("Retry-After"))
	assert.False(t, resp.Success)
	assert.Equal(t, &ErrorInfo{Code: CodeRateLimited, Message: "slow down"}, resp.Error)
}

func TestErrorHelpers(t *testing.T) {
	cases := []struct {
		write  func(*gin.Context, string)
		status int
		code   string
	}{
		{BadRequest, http.StatusBadRequest, CodeBadRequest},
		{Forbidden, http.StatusForbidden, CodeForbidden},
		{NotFound, http.StatusNotFound, CodeNotFound},
		{ServiceUnavailable, http.StatusServiceUnavailable, CodeUnavailable},
		{InternalError, http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		w, resp := serve(t, func(c *gin.Context) { tc.write(c, "boom") })
		assert.Equal(t, tc.status, w.Code)
		assert.Equal(t, tc.code, resp.Error.Code)
	}
}
