package community

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T, svc *Service, adminSecret string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc, adminSecret).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func doJSON(r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmitEndpoint(t *testing.T) {
	svc, _ := newTestService()
	r := newTestRouter(t, svc, "")

	w := doJSON(r, http.MethodPost, "/api/v1/reports",
		`{"subject":"`+testSubject+`","reporter":"`+testReporter+`","claimType":"scam","description":"fake mint"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var res SubmitResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Report.ID == "" || res.Report.Status != StatusPending {
		t.Errorf("unexpected report: %+v", res.Report)
	}

	// Immediate resubmission of the same subject is a conflict.
	w = doJSON(r, http.MethodPost, "/api/v1/reports",
		`{"subject":"`+testSubject+`","reporter":"`+testReporter+`","claimType":"scam","description":"x"}`, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate, got %d", w.Code)
	}
}

func TestSubmitEndpointRateLimit(t *testing.T) {
	svc, clock := newTestService()
	r := newTestRouter(t, svc, "")

	for i := 0; i < MaxReportsPerWindow; i++ {
		subject := string(rune('A'+i)) + ":" + testIssuer
		w := doJSON(r, http.MethodPost, "/api/v1/reports",
			`{"subject":"`+subject+`","reporter":"`+testReporter+`","claimType":"scam","description":"x"}`, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("submit %d: got %d", i, w.Code)
		}
		clock.Advance(1)
	}

	w := doJSON(r, http.MethodPost, "/api/v1/reports",
		`{"subject":"Z:`+testIssuer+`","reporter":"`+testReporter+`","claimType":"scam","description":"x"}`, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
}

func TestListEndpoint(t *testing.T) {
	svc, _ := newTestService()
	r := newTestRouter(t, svc, "")

	if _, err := svc.SubmitReport(context.Background(), testSubject, testReporter, ClaimScam, "x"); err != nil {
		t.Fatal(err)
	}

	w := doJSON(r, http.MethodGet, "/api/v1/reports?subject="+testSubject, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Reports  []*Report `json:"reports"`
		Verified int       `json:"verified"`
		Pending  int       `json:"pending"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Reports) != 1 || body.Pending != 1 || body.Verified != 0 {
		t.Errorf("unexpected listing: %+v", body)
	}

	if w := doJSON(r, http.MethodGet, "/api/v1/reports", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing subject: expected 400, got %d", w.Code)
	}
}

func TestVoteEndpoint(t *testing.T) {
	svc, _ := newTestService()
	r := newTestRouter(t, svc, "")

	res, err := svc.SubmitReport(context.Background(), testSubject, testReporter, ClaimScam, "x")
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(r, http.MethodPost, "/api/v1/reports/"+res.Report.ID+"/votes",
		`{"voter":"`+testReporter2+`","direction":"up"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Same voter on the same report is a conflict.
	if w := doJSON(r, http.MethodPost, "/api/v1/reports/"+res.Report.ID+"/votes",
		`{"voter":"`+testReporter2+`","direction":"down"}`, nil); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for repeat vote, got %d: %s", w.Code, w.Body.String())
	}

	if w := doJSON(r, http.MethodPost, "/api/v1/reports/rpt_missing/votes",
		`{"voter":"`+testReporter2+`","direction":"up"}`, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown report, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodPost, "/api/v1/reports/"+res.Report.ID+"/votes",
		`{"voter":"`+testReporter2+`","direction":"sideways"}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad direction, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodPost, "/api/v1/reports/"+res.Report.ID+"/votes",
		`{"direction":"up"}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing voter, got %d", w.Code)
	}
}

func TestModerateEndpointRequiresSecret(t *testing.T) {
	svc, _ := newTestService()
	r := newTestRouter(t, svc, "hunter2")

	res, err := svc.SubmitReport(context.Background(), testSubject, testReporter, ClaimScam, "x")
	if err != nil {
		t.Fatal(err)
	}
	path := "/api/v1/admin/reports/" + res.Report.ID + "/moderate"
	body := `{"verdict":"verified","moderator":"mod-1"}`

	if w := doJSON(r, http.MethodPost, path, body, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no secret: expected 401, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodPost, path, body, map[string]string{"X-Admin-Secret": "wrong"}); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: expected 401, got %d", w.Code)
	}

	w := doJSON(r, http.MethodPost, path, body, map[string]string{"X-Admin-Secret": "hunter2"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	report, err := svc.store.GetReport(context.Background(), res.Report.ID)
	if err != nil || report.Status != StatusVerified {
		t.Errorf("report not verified after moderation: %+v (%v)", report, err)
	}
}

func TestModerateEndpointDisabledWithoutSecret(t *testing.T) {
	svc, _ := newTestService()
	r := newTestRouter(t, svc, "")

	w := doJSON(r, http.MethodPost, "/api/v1/admin/reports/rpt_x/moderate",
		`{"verdict":"verified","moderator":"mod-1"}`, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 when admin is unconfigured, got %d", w.Code)
	}
}

func TestVerifyAssetEndpoint(t *testing.T) {
	svc, _ := newTestService()
	r := newTestRouter(t, svc, "hunter2")
	admin := map[string]string{"X-Admin-Secret": "hunter2"}

	w := doJSON(r, http.MethodPut, "/api/v1/admin/verifications/assets",
		`{"code":"USDC","issuer":"`+testIssuer+`","status":"verified","declaredLevel":"SAFE"}`, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	v, err := svc.store.GetAssetVerification(context.Background(), "USDC", testIssuer)
	if err != nil || v == nil || v.Status != StatusVerified {
		t.Errorf("verification not stored: %+v (%v)", v, err)
	}

	if w := doJSON(r, http.MethodPut, "/api/v1/admin/verifications/assets",
		`{"code":"USDC","issuer":"bad","status":"verified"}`, admin); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad issuer, got %d", w.Code)
	}
}

func TestAppealEndpoint(t *testing.T) {
	svc, _ := newTestService()
	r := newTestRouter(t, svc, "")

	res, err := svc.SubmitReport(context.Background(), testSubject, testReporter, ClaimScam, "x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Moderate(context.Background(), res.Report.ID, StatusVerified, "mod-1"); err != nil {
		t.Fatal(err)
	}

	w := doJSON(r, http.MethodPost, "/api/v1/appeals",
		`{"reportId":"`+res.Report.ID+`","appellant":"`+testReporter2+`","reason":"legitimate project"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	if w := doJSON(r, http.MethodPost, "/api/v1/appeals",
		`{"reportId":"rpt_missing","appellant":"`+testReporter2+`","reason":"x"}`, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown report, got %d", w.Code)
	}
}

func TestDecideAppealEndpoint(t *testing.T) {
	svc, _ := newTestService()
	r := newTestRouter(t, svc, "hunter2")
	admin := map[string]string{"X-Admin-Secret": "hunter2"}

	res, err := svc.SubmitReport(context.Background(), testSubject, testReporter, ClaimScam, "x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Moderate(context.Background(), res.Report.ID, StatusVerified, "mod-1"); err != nil {
		t.Fatal(err)
	}
	appeal, err := svc.SubmitAppeal(context.Background(), res.Report.ID, testReporter2, "legitimate project")
	if err != nil {
		t.Fatal(err)
	}

	path := "/api/v1/admin/appeals/" + appeal.ID + "/decide"
	body := `{"decision":"approved","moderator":"mod-1"}`

	if w := doJSON(r, http.MethodPost, path, body, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no secret: expected 401, got %d", w.Code)
	}

	w := doJSON(r, http.MethodPost, path, body, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var decided struct {
		Appeal *Appeal `json:"appeal"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &decided); err != nil {
		t.Fatal(err)
	}
	if decided.Appeal == nil || decided.Appeal.Status != AppealApproved {
		t.Errorf("unexpected appeal: %+v", decided.Appeal)
	}
	report, err := svc.store.GetReport(context.Background(), res.Report.ID)
	if err != nil || report.Status != StatusRejected {
		t.Errorf("report not overturned: %+v (%v)", report, err)
	}

	if w := doJSON(r, http.MethodPost, "/api/v1/admin/appeals/app_missing/decide", body, admin); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown appeal, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodPost, path, `{"decision":"maybe","moderator":"mod-1"}`, admin); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad decision, got %d", w.Code)
	}
}
