package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	config "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Config"
	logger "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Logger"
	clmmodels "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models"
	api_models "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models/api"
)

type fakeService struct {
	status       api_models.ClaimStatus
	statusErr    error
	windowResult api_models.OpenWindowResult
	codeResult   api_models.SubmitResult
	codeErr      error
	unclaim      api_models.UnclaimResult
	unclaimErr   error

	lastCode   string
	lastSource clmmodels.Source
}

func (f *fakeService) QueryClaimStatus() (api_models.ClaimStatus, error) {
	return f.status, f.statusErr
}

func (f *fakeService) RequestOpenClaimingWindow() api_models.OpenWindowResult {
	return f.windowResult
}

func (f *fakeService) SubmitManualClaimCode(_ context.Context, code string) (api_models.SubmitResult, error) {
	f.lastCode = code
	return f.codeResult, f.codeErr
}

func (f *fakeService) RequestLocalUnclaim(source clmmodels.Source, _ string) (api_models.UnclaimResult, error) {
	f.lastSource = source
	return f.unclaim, f.unclaimErr
}

type fakeAuditReader struct {
	entries []clmmodels.AuditEntry
	asked   int
}

func (f *fakeAuditReader) Recent(limit int) []clmmodels.AuditEntry {
	f.asked = limit
	return f.entries
}

func newTestRouter(service *fakeService, audit *fakeAuditReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := logger.NewLogger(&config.LoggingConfig{Level: "error", Format: "json"})
	router := gin.New()
	NewClaimController(service, audit, log).RegisterRoutes(router)
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetStatusClaimed(t *testing.T) {
	service := &fakeService{status: api_models.ClaimStatus{
		Claimed:        true,
		DeviceID:       "dev-1",
		TenantID:       "tenant-1",
		BrokerClientID: "AABBCCDDEEFF",
	}}
	router := newTestRouter(service, &fakeAuditReader{})

	w := doRequest(t, router, http.MethodGet, "/claim/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var status api_models.ClaimStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if !status.Claimed || status.TenantID != "tenant-1" {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestOpenWindowConflictWhenClaimed(t *testing.T) {
	service := &fakeService{windowResult: api_models.OpenWindowResult{
		Opened: false,
		Reason: api_models.ReasonAlreadyClaimed,
	}}
	router := newTestRouter(service, &fakeAuditReader{})

	w := doRequest(t, router, http.MethodPost, "/claim/window", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestOpenWindowAccepted(t *testing.T) {
	service := &fakeService{windowResult: api_models.OpenWindowResult{
		Opened:    true,
		SessionID: "sess-1",
	}}
	router := newTestRouter(service, &fakeAuditReader{})

	w := doRequest(t, router, http.MethodPost, "/claim/window", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestSubmitCodeAccepted(t *testing.T) {
	service := &fakeService{codeResult: api_models.SubmitResult{Accepted: true}}
	router := newTestRouter(service, &fakeAuditReader{})

	w := doRequest(t, router, http.MethodPost, "/claim/code", `{"claim_code":"BLUE-MAPLE-7312"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if service.lastCode != "BLUE-MAPLE-7312" {
		t.Errorf("code passed through = %q", service.lastCode)
	}
}

func TestSubmitCodeRejected(t *testing.T) {
	service := &fakeService{codeResult: api_models.SubmitResult{
		Accepted: false,
		Reason:   api_models.ReasonCodeRejected,
	}}
	router := newTestRouter(service, &fakeAuditReader{})

	w := doRequest(t, router, http.MethodPost, "/claim/code", `{"claim_code":"WRONG-CODE-0000"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSubmitCodeMissingBody(t *testing.T) {
	router := newTestRouter(&fakeService{}, &fakeAuditReader{})

	w := doRequest(t, router, http.MethodPost, "/claim/code", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestUnclaimUsesAdminSource(t *testing.T) {
	service := &fakeService{unclaim: api_models.UnclaimResult{Cleared: true}}
	router := newTestRouter(service, &fakeAuditReader{})

	w := doRequest(t, router, http.MethodPost, "/claim/unclaim", `{"actor":"ops@maplesense"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if service.lastSource != clmmodels.SourceAdminDashboard {
		t.Errorf("source = %q, want %q", service.lastSource, clmmodels.SourceAdminDashboard)
	}
}

func TestUnclaimWhenNotClaimed(t *testing.T) {
	service := &fakeService{unclaim: api_models.UnclaimResult{
		Cleared: false,
		Reason:  api_models.ReasonNotClaimed,
	}}
	router := newTestRouter(service, &fakeAuditReader{})

	w := doRequest(t, router, http.MethodPost, "/claim/unclaim", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestGetAuditLimit(t *testing.T) {
	audit := &fakeAuditReader{entries: []clmmodels.AuditEntry{
		{Transition: clmmodels.TransitionClaimCompleted, Source: clmmodels.SourceCloudRevoke},
	}}
	router := newTestRouter(&fakeService{}, audit)

	w := doRequest(t, router, http.MethodGet, "/claim/audit?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if audit.asked != 5 {
		t.Errorf("limit passed = %d, want 5", audit.asked)
	}

	w = doRequest(t, router, http.MethodGet, "/claim/audit?limit=nope", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", w.Code)
	}
}
