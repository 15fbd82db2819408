package routers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResCodeMsg(t *testing.T) {
	assert.Equal(t, "Success", CodeSuccess.Msg())
	assert.Equal(t, "Profile not found", CodeProfileNotFound.Msg())
	assert.Equal(t, "Failed to get power limits", CodeGpuGetPowerFailed.Msg())
	assert.Equal(t, "Failed to get clock offsets", CodeGpuGetOffsetsFailed.Msg())
	// unknown codes fall back to the busy message
	assert.Equal(t, "Server busy", ResCode(9999).Msg())
}

func TestResponseHelpers(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/ok", func(c *gin.Context) {
		ResponseSuccess(c, gin.H{"value": 42})
	})
	r.GET("/err", func(c *gin.Context) {
		ResponseError(c, CodeGpuThermalGuard)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var ok ResponseData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ok))
	assert.Equal(t, CodeSuccess, ok.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/err", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var fail ResponseData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fail))
	assert.Equal(t, CodeGpuThermalGuard, fail.Code)
	assert.Equal(t, CodeGpuThermalGuard.Msg(), fail.Msg)
	assert.Nil(t, fail.Data)
}

func TestCors_Preflight(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Cors())
	r.GET("/x", func(c *gin.Context) { ResponseSuccess(c, nil) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestParseCurvePoints(t *testing.T) {
	points, ok := parseCurvePoints(map[string]int{"40": 35, "90": 100})
	require.True(t, ok)
	assert.Equal(t, map[int]int{40: 35, 90: 100}, points)

	_, ok = parseCurvePoints(map[string]int{"warm": 50})
	assert.False(t, ok)
	_, ok = parseCurvePoints(map[string]int{"200": 50})
	assert.False(t, ok)
	_, ok = parseCurvePoints(map[string]int{"60": 150})
	assert.False(t, ok)
}
