package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"telecom-dialer/internal/ami"
	"telecom-dialer/internal/audit"
	"telecom-dialer/internal/auth"
	"telecom-dialer/internal/campaigns"
	"telecom-dialer/internal/config"
	"telecom-dialer/internal/rbac"
	"telecom-dialer/internal/reporting"
	"telecom-dialer/internal/storage"
	"telecom-dialer/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu      sync.Mutex
	reqs    []telephony.OriginateRequest
	hangups []string
}

func (p *fakeProvider) Name() string                      { return "fake" }
func (p *fakeProvider) HealthCheck(context.Context) error { return nil }

func (p *fakeProvider) Originate(_ context.Context, req telephony.OriginateRequest) (telephony.OriginateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	return telephony.OriginateResult{ActionID: req.ActionID, ChannelID: req.ChannelID}, nil
}

func (p *fakeProvider) HangupByChannel(_ context.Context, channel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hangups = append(p.hangups, channel)
	return nil
}

func (p *fakeProvider) ListActiveChannels(context.Context) ([]telephony.ChannelSnapshot, error) {
	return []telephony.ChannelSnapshot{{Channel: "PJSIP/carrier-00000001", UniqueID: "u1", State: "Up"}}, nil
}

type fixedSession struct{ st ami.State }

func (s fixedSession) State() ami.State { return s.st }

type api struct {
	router *gin.Engine
	auth   *auth.Manager
	audit  *audit.MemoryRepo
	prov   *fakeProvider
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mgr, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Hour, RefreshTokenTTL: 2 * time.Hour})
	require.NoError(t, err)

	prov := &fakeProvider{}
	store := storage.NewMemory()
	engine := campaigns.NewEngine(campaigns.Options{Dispatcher: prov, Store: store})
	t.Cleanup(engine.Close)

	auditRepo := audit.NewMemoryRepo()
	h := Handlers{
		Auth:      mgr,
		Engine:    engine,
		Reporting: reporting.NewService(store),
		Audit:     audit.NewService(auditRepo),
		Session:   fixedSession{st: ami.StateConnected},
	}
	r := gin.New()
	Register(r, h, auth.RequireAccessToken(mgr), telephony.ChannelHandler{Provider: prov, OnHangup: h.OnChannelHangup})
	return &api{router: r, auth: mgr, audit: auditRepo, prov: prov}
}

func (a *api) token(t *testing.T, tenant, role string) string {
	t.Helper()
	pair, err := a.auth.IssuePair(time.Now(), auth.Identity{UserID: "user-" + role, TenantID: tenant, Role: role})
	require.NoError(t, err)
	return pair.AccessToken
}

func (a *api) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (a *api) createCampaign(t *testing.T, token string, dests ...string) campaigns.Campaign {
	t.Helper()
	w := a.do(t, http.MethodPost, "/v1/campaigns", token, map[string]any{
		"name":         "spring",
		"trunk":        "PJSIP/carrier",
		"dial_context": "outbound-ivr",
		"concurrency":  2,
		"destinations": dests,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[campaigns.Campaign](t, w)
}

func TestLoginAndMe(t *testing.T) {
	a := newAPI(t)

	w := a.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"user_id": "u1", "tenant_id": "t1", "role": "wizard"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"user_id": "u1", "tenant_id": "t1", "role": rbac.RoleOwner})
	require.Equal(t, http.StatusOK, w.Code)
	pair := decode[auth.TokenPair](t, w)

	w = a.do(t, http.MethodGet, "/v1/me", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	id := decode[auth.Identity](t, w)
	require.Equal(t, "t1", id.TenantID)

	w = a.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken, "role": rbac.RoleOwner})
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/v1/session", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"connected":true`)
}

func TestCampaignLifecycle(t *testing.T) {
	a := newAPI(t)
	tok := a.token(t, "t1", rbac.RoleSupervisor)

	camp := a.createCampaign(t, tok, "+905551110001", "905551110002")
	require.Equal(t, campaigns.StatusDraft, camp.Status)
	require.Equal(t, 2, camp.Stats.Total)

	w := a.do(t, http.MethodPost, "/v1/campaigns/"+camp.ID+"/start", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		w := a.do(t, http.MethodGet, "/v1/campaigns/"+camp.ID+"/calls", tok, nil)
		return w.Code == http.StatusOK && decode[struct{ Total int }](t, w).Total == 2
	}, 2*time.Second, 5*time.Millisecond)

	w = a.do(t, http.MethodPost, "/v1/campaigns/"+camp.ID+"/start", tok, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	require.Eventually(t, func() bool {
		w := a.do(t, http.MethodGet, "/v1/campaigns/"+camp.ID+"/summary", tok, nil)
		if w.Code != http.StatusOK {
			return false
		}
		summary := decode[struct {
			Calls reporting.CallsSummary `json:"calls"`
		}](t, w)
		return summary.Calls.InProgressCalls == 2
	}, 2*time.Second, 5*time.Millisecond)

	w = a.do(t, http.MethodPost, "/v1/campaigns/"+camp.ID+"/stop", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	types := map[audit.EventType]int{}
	for _, e := range a.audit.Events() {
		types[e.Type]++
		require.Equal(t, "t1", e.TenantID)
	}
	require.Equal(t, 1, types[audit.EventTypeCampaignCreated])
	require.Equal(t, 2, types[audit.EventTypeCampaignLifecycle])
}

func TestCreateRejectsInvalidCampaign(t *testing.T) {
	a := newAPI(t)
	w := a.do(t, http.MethodPost, "/v1/campaigns", a.token(t, "t1", rbac.RoleOwner), map[string]any{
		"name": "x", "trunk": "PJSIP/carrier", "dial_context": "out", "concurrency": 0,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTenantIsolation(t *testing.T) {
	a := newAPI(t)
	camp := a.createCampaign(t, a.token(t, "t1", rbac.RoleOwner), "905551110001")

	other := a.token(t, "t2", rbac.RoleOwner)
	w := a.do(t, http.MethodGet, "/v1/campaigns/"+camp.ID, other, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodGet, "/v1/campaigns", other, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, decode[struct{ Campaigns []campaigns.Campaign }](t, w).Campaigns)

	w = a.do(t, http.MethodGet, "/v1/campaigns/"+camp.ID, a.token(t, "t2", rbac.RoleSuperAdmin), nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRolesGateRoutes(t *testing.T) {
	a := newAPI(t)
	agent := a.token(t, "t1", rbac.RoleAgent)
	analyst := a.token(t, "t1", rbac.RoleAnalyst)

	w := a.do(t, http.MethodPost, "/v1/campaigns", agent, map[string]any{})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodGet, "/v1/channels", agent, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/v1/campaigns", analyst, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodPost, "/v1/channels/hangup", analyst, map[string]string{"channel": "PJSIP/x"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodGet, "/v1/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHangupIsAudited(t *testing.T) {
	a := newAPI(t)
	w := a.do(t, http.MethodPost, "/v1/channels/hangup", a.token(t, "t1", rbac.RoleSupervisor), map[string]string{"channel": "PJSIP/carrier-00000001"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"PJSIP/carrier-00000001"}, a.prov.hangups)

	events := a.audit.Events()
	require.Len(t, events, 1)
	require.Equal(t, audit.EventTypeChannelHangup, events[0].Type)
	require.Equal(t, "hangup requested", events[0].Message)
	require.Equal(t, "192.0.2.1", events[0].IPAddress)
	require.Equal(t, "t1", events[0].TenantID)
}

func TestImportDestinations(t *testing.T) {
	a := newAPI(t)
	tok := a.token(t, "t1", rbac.RoleOwner)
	camp := a.createCampaign(t, tok, "905551110001")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "list.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("phone\n905551110002\n905551110003\nnot-a-number\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/campaigns/"+camp.ID+"/destinations/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decode[struct {
		Added    int
		Rejected []map[string]any
		Campaign campaigns.Campaign
	}](t, w)
	require.Equal(t, 2, out.Added)
	require.Len(t, out.Rejected, 1)
	require.Equal(t, 3, out.Campaign.Stats.Total)
}

func TestExportDownloadsWorkbook(t *testing.T) {
	a := newAPI(t)
	tok := a.token(t, "t1", rbac.RoleAnalyst)
	camp := a.createCampaign(t, a.token(t, "t1", rbac.RoleOwner), "905551110001")

	w := a.do(t, http.MethodGet, "/v1/campaigns/"+camp.ID+"/export", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Disposition"), camp.ID)
	require.NotEmpty(t, w.Body.Bytes())
}

func TestLiveWithoutRedis(t *testing.T) {
	a := newAPI(t)
	w := a.do(t, http.MethodGet, "/v1/live", a.token(t, "t1", rbac.RoleAgent), nil)
	require.Equal(t, http.StatusNotImplemented, w.Code)
}
