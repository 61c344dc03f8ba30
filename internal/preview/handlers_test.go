package preview

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenguard/lumenguard/internal/risk"
)

func newHandlerRouter(accounts map[string]*risk.AccountSignal) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(newPreviewer(accounts)).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func postPreview(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/preview", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPreviewEndpoint(t *testing.T) {
	r := newHandlerRouter(map[string]*risk.AccountSignal{
		testSource: funded(100, 0),
		testDest:   funded(10, 0),
	})

	body := `{"source":"` + testSource + `","destination":"` + testDest + `",` +
		`"asset":{"code":"XLM","issuer":"native"},"amount":25}`
	w := postPreview(r, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 0.00001, res.Fee)
	assert.Empty(t, res.Errors)
}

func TestPreviewEndpointWouldFail(t *testing.T) {
	r := newHandlerRouter(map[string]*risk.AccountSignal{
		testSource: funded(10, 0),
		testDest:   funded(10, 0),
	})

	body := `{"source":"` + testSource + `","destination":"` + testDest + `",` +
		`"asset":{"code":"XLM","issuer":"native"},"amount":9.5}`
	w := postPreview(r, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Errors)
}

func TestPreviewEndpointValidation(t *testing.T) {
	r := newHandlerRouter(nil)

	w := postPreview(r, `{"source":"bad","destination":"also-bad","asset":{"code":"XLM","issuer":"native"},"amount":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postPreview(r, `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
