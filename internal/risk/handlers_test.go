package risk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandlerRouter(tb *testbed, store Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	engine := tb.engine(WithStore(store))
	NewHandler(engine, store, "testnet").RegisterRoutes(r.Group("/api/v1"))
	return r
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAnalyzeAssetEndpoint(t *testing.T) {
	tb := newTestbed()
	tb.addSafeAsset("USDC", testIssuer)
	r := newHandlerRouter(tb, nil)

	w := serve(r, http.MethodGet, "/api/v1/analyze/asset/USDC/"+testIssuer, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var a RiskAssessment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Equal(t, 10.0, a.Score)
	assert.Equal(t, LevelSafe, a.Level)
	assert.Equal(t, SubjectAsset, a.SubjectType)
}

func TestAnalyzeAssetEndpointBadIssuer(t *testing.T) {
	tb := newTestbed()
	r := newHandlerRouter(tb, nil)

	w := serve(r, http.MethodGet, "/api/v1/analyze/asset/USDC/not-an-issuer", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeAddressEndpoint(t *testing.T) {
	tb := newTestbed()
	tb.blacklist.records[testAddress] = &BlacklistRecord{Subject: testAddress, Reason: "known drainer"}
	r := newHandlerRouter(tb, nil)

	w := serve(r, http.MethodGet, "/api/v1/analyze/address/"+testAddress, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var a RiskAssessment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Equal(t, 100.0, a.Score)
	assert.Equal(t, LevelCritical, a.Level)

	w = serve(r, http.MethodGet, "/api/v1/analyze/address/garbage", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeTransactionEndpoint(t *testing.T) {
	tb := newTestbed()
	tb.addSafeAsset("USDC", testIssuer)
	tb.ledger.accounts[testDest] = &AccountSignal{Exists: true}
	r := newHandlerRouter(tb, nil)

	envelope := `{"version":1,"source":"` + testAddress + `","fee":100,"seq":1,` +
		`"operations":[{"type":"payment","destination":"` + testDest + `",` +
		`"asset":{"type":"credit","code":"USDC","issuer":"` + testIssuer + `"},"amount":"25"}]}`
	body, err := json.Marshal(map[string]string{"envelope": envelope})
	require.NoError(t, err)

	w := serve(r, http.MethodPost, "/api/v1/analyze/transaction", string(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var a RiskAssessment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Equal(t, SubjectTransaction, a.SubjectType)
	assert.Equal(t, LevelSafe, a.Level)
}

func TestAnalyzeTransactionEndpointMalformed(t *testing.T) {
	tb := newTestbed()
	r := newHandlerRouter(tb, nil)

	w := serve(r, http.MethodPost, "/api/v1/analyze/transaction", `{"envelope":"not base64 and not json"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodPost, "/api/v1/analyze/transaction", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	tb := newTestbed()
	store := NewMemoryStore()
	require.NoError(t, store.Record(context.Background(), &RiskAssessment{
		ID: "risk_1", Subject: testAddress, SubjectType: SubjectAddress, Score: 85, Level: LevelCritical,
	}))
	r := newHandlerRouter(tb, store)

	w := serve(r, http.MethodGet, "/api/v1/assessments?subject="+testAddress, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Assessments []*RiskAssessment `json:"assessments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Assessments, 1)

	w = serve(r, http.MethodGet, "/api/v1/assessments", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryEndpointDisabled(t *testing.T) {
	tb := newTestbed()
	r := newHandlerRouter(tb, nil)

	w := serve(r, http.MethodGet, "/api/v1/assessments?subject="+testAddress, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
