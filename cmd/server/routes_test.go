package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/huangang/tracer/internal/cache"
	"github.com/huangang/tracer/internal/config"
	"github.com/huangang/tracer/internal/models"
	"github.com/huangang/tracer/internal/services"
	"github.com/huangang/tracer/internal/storage"
	"github.com/huangang/tracer/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

const goodSign = "signed-by-provider"

type stubGateway struct{}

func (stubGateway) CreateRedirect(subject, orderID string, amountCents int64) (string, error) {
	return "https://pay.example/gateway?out_trade_no=" + orderID, nil
}

func (stubGateway) VerifySignature(params map[string]string, sign string) bool {
	return sign == goodSign
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	svc    *appServices
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("routes-test-secret")

	cfg := config.DefaultConfig()
	cfg.Database.DSN = "file:routes_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"

	db, err := models.Open(&cfg.Database, gormlogger.Silent)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))
	_, err = models.EnsureFreePolicy(db)
	require.NoError(t, err)

	services.InitSystemLogger(db)
	t.Cleanup(func() { services.InitSystemLogger(nil) })

	queue := services.NewSyncQueue()
	svc := newAppServices(cfg, db, stubGateway{}, cache.NewMemoryCache(), storage.Noop{}, queue)
	queue.SetProcessor(svc.paymentService.ProcessReconcileTask)

	r := gin.New()
	registerRoutes(r, svc)
	return &testServer{t: t, router: r, svc: svc}
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) notify(form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/payments/notify", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

// signup registers name and returns a bearer token.
func (s *testServer) signup(name, phone string) string {
	s.t.Helper()
	w := s.do("POST", "/api/auth/register", "", gin.H{
		"username":     name,
		"email":        name + "@example.com",
		"mobile_phone": phone,
		"password":     "secret123",
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do("POST", "/api/auth/login", "", gin.H{"account": name + "@example.com", "password": "secret123"})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var login struct {
		Token string `json:"token"`
	}
	decode(s.t, w, &login)
	return login.Token
}

func TestRoutes_PublicAndProtected(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do("GET", "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do("GET", "/api/price-policies", "", nil).Code)

	for _, path := range []string{"/api/projects", "/api/entitlement", "/api/auth/me", "/api/payments/quote"} {
		assert.Equal(t, http.StatusUnauthorized, s.do("GET", path, "", nil).Code, path)
	}
}

func TestRoutes_ProjectInviteFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup("alice", "13800000001")
	bob := s.signup("bob", "13800000002")
	carol := s.signup("carol", "13800000003")

	w := s.do("POST", "/api/projects", alice, gin.H{"name": "site", "color": 2})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var project models.Project
	decode(t, w, &project)
	base := "/api/projects/" + strconv.FormatUint(uint64(project.ID), 10)

	w = s.do("POST", base+"/invites", alice, gin.H{"period": 30, "max_count": 1})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var invite struct {
		Code string `json:"code"`
	}
	decode(t, w, &invite)
	require.Len(t, invite.Code, 64)

	// Only the creator issues invites; a stranger never gets past the guard.
	w = s.do("POST", base+"/invites", carol, gin.H{"period": 30})
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/api/projects", w.Header().Get("Location"))

	w = s.do("POST", "/api/invites/"+invite.Code+"/redeem", bob, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var joined services.RedeemResult
	assert.Equal(t, 0, decode(t, w, &joined).Code)
	assert.True(t, joined.OK)

	// The single use is spent.
	w = s.do("POST", "/api/invites/"+invite.Code+"/redeem", carol, nil)
	env := decode(t, w, nil)
	assert.Equal(t, 1, env.Code)
	assert.Equal(t, services.ReasonInviteUsedUp, env.Message)

	assert.Equal(t, http.StatusOK, s.do("GET", base, bob, nil).Code)
	assert.Equal(t, http.StatusFound, s.do("GET", base, carol, nil).Code)

	var members []services.Participant
	decode(t, s.do("GET", base+"/members", bob, nil), &members)
	require.Len(t, members, 2)
	assert.Equal(t, "alice", members[0].Username)

	w = s.do("POST", base+"/invites", bob, gin.H{"period": 30})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do("POST", base+"/star?kind=join", bob, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var lists services.ProjectListResponse
	decode(t, s.do("GET", "/api/projects", bob, nil), &lists)
	assert.Empty(t, lists.Join)
	require.Len(t, lists.Star, 1)
	assert.Equal(t, services.ProjectKindJoin, lists.Star[0].Kind)

	// Storage is disabled in this server.
	w = s.do("POST", base+"/files/upload-url", alice, gin.H{"name": "a.png", "size": 1024})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var activity services.ActivityResponse
	decode(t, s.do("GET", "/api/auth/activity?module=Projects", alice, nil), &activity)
	assert.NotZero(t, activity.Total)

	w = s.do("DELETE", base, alice, gin.H{"name": "wrong"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do("DELETE", base, alice, gin.H{"name": "site"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusFound, s.do("GET", base, alice, nil).Code)
}

func TestRoutes_PaymentFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup("alice", "13800000001")

	pro := &models.PricePolicy{Category: models.PolicyPaid, Title: "Pro", Price: 19900, ProjectNum: 20, ProjectMembers: 10, ProjectSpace: 50, PerFileSize: 100}
	require.NoError(t, s.svc.db.Create(pro).Error)
	policyID := strconv.FormatUint(uint64(pro.ID), 10)

	w := s.do("GET", "/api/payments/quote?policy_id="+policyID+"&number=2", alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var quote services.Quote
	decode(t, w, &quote)
	assert.Equal(t, int64(39800), quote.Total)

	w = s.do("POST", "/api/payments", alice, gin.H{"policy_id": pro.ID, "number": 2})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var initiated services.InitiateResult
	decode(t, w, &initiated)
	require.NotEmpty(t, initiated.OrderID)

	// the quote is spent by the first order
	w = s.do("POST", "/api/payments", alice, gin.H{"policy_id": pro.ID, "number": 2})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	form := url.Values{
		"out_trade_no": {initiated.OrderID},
		"trade_no":     {"2026031522001"},
		"trade_status": {"TRADE_SUCCESS"},
		"sign_type":    {"RSA2"},
		"sign":         {"forged"},
	}
	w = s.notify(form)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "failure", w.Body.String())

	var ent struct {
		Paid bool `json:"paid"`
	}
	decode(t, s.do("GET", "/api/entitlement", alice, nil), &ent)
	assert.False(t, ent.Paid)

	form.Set("sign", goodSign)
	for i := 0; i < 2; i++ {
		w = s.notify(form)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "success", w.Body.String())
	}

	decode(t, s.do("GET", "/api/entitlement", alice, nil), &ent)
	assert.True(t, ent.Paid)

	var paid int64
	require.NoError(t, s.svc.db.Model(&models.Transaction{}).Where("status = ?", models.TransactionPaid).Count(&paid).Error)
	assert.Equal(t, int64(1), paid)

	// The browser return works without a session and only reads.
	w = s.do("GET", "/api/payments/return?out_trade_no="+initiated.OrderID+"&sign="+goodSign, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, http.StatusOK, s.do("GET", "/api/payments/"+initiated.OrderID, alice, nil).Code)

	metrics := s.do("GET", "/metrics", "", nil).Body.String()
	assert.Contains(t, metrics, "tracer_orders_paid 1\n")
	assert.Contains(t, metrics, "tracer_paid_users_active 1\n")

	bob := s.signup("bob", "13800000002")
	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/payments/"+initiated.OrderID, bob, nil).Code)
}
