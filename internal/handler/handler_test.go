package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/referral-system/internal/auth"
	"github.com/mmeshcher/referral-system/internal/model"
	"github.com/mmeshcher/referral-system/internal/referralcode"
	"github.com/mmeshcher/referral-system/internal/repository"
	"github.com/mmeshcher/referral-system/internal/service"
)

type stubService struct {
	registerUser *model.User
	registerErr  error
	registerReq  service.Registration

	authUser *model.User
	authErr  error

	code     string
	codeErr  error
	codeOpts service.GenerateOptions

	buyResult *model.ConversionResult
	buyErr    error
	buyUserID string
	buyAmount float64

	purchases    []model.Purchase
	purchasesErr error

	dashboard    *model.Dashboard
	dashboardErr error

	stats     *model.ReferralStats
	statsErr  error
	statsCode string
}

func (s *stubService) RegisterUser(ctx context.Context, reg service.Registration) (*model.User, error) {
	s.registerReq = reg
	return s.registerUser, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) GenerateReferralCode(ctx context.Context, opts service.GenerateOptions) (string, error) {
	s.codeOpts = opts
	return s.code, s.codeErr
}

func (s *stubService) Buy(ctx context.Context, userID string, amount float64) (*model.ConversionResult, error) {
	s.buyUserID = userID
	s.buyAmount = amount
	return s.buyResult, s.buyErr
}

func (s *stubService) PurchasesByUser(ctx context.Context, userID string) ([]model.Purchase, error) {
	return s.purchases, s.purchasesErr
}

func (s *stubService) Dashboard(ctx context.Context, userID string) (*model.Dashboard, error) {
	return s.dashboard, s.dashboardErr
}

func (s *stubService) ReferralStats(ctx context.Context, code string) (*model.ReferralStats, error) {
	s.statsCode = code
	return s.stats, s.statsErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	return NewHandler(svc, logger, auth.NewIssuer("test-secret", time.Hour), nil)
}

func authorize(t *testing.T, h *Handler, req *http.Request, userID string) {
	t.Helper()
	token, err := h.issuer.Issue(userID, "")
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		registerUser: &model.User{ID: "u1", Email: "alice@example.com", ReferralCode: "ALCE1234"},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(registerRequest{
		Name:     "Alice",
		Email:    "Alice@Example.com",
		Password: "secret1",
		RefCode:  "ref999",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	rec := serve(h, req)

	res := rec.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.NotEmpty(t, res.Cookies())
	assert.Equal(t, "ref999", svc.registerReq.RefCode)

	var resp authResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	assert.Equal(t, "u1", resp.User.ID)
	assert.Equal(t, "ALCE1234", resp.User.ReferralCode)

	id, err := h.issuer.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
}

func TestRegister_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
	}{
		{name: "malformed body", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "invalid email", body: `{"email":"nope","password":"secret1"}`, wantStatus: http.StatusBadRequest},
		{name: "short password", body: `{"email":"a@example.com","password":"123"}`, wantStatus: http.StatusBadRequest},
		{
			name:       "duplicate email",
			body:       `{"email":"a@example.com","password":"secret1"}`,
			serviceErr: fmt.Errorf("%w: a@example.com", repository.ErrUserExists),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "code generation exhausted",
			body:       `{"email":"a@example.com","password":"secret1"}`,
			serviceErr: referralcode.ErrGenerationExhausted,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{registerErr: tt.serviceErr})

			req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(tt.body))
			rec := serve(h, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name       string
		user       *model.User
		err        error
		wantStatus int
	}{
		{name: "success", user: &model.User{ID: "u1", Email: "a@example.com"}, wantStatus: http.StatusOK},
		{name: "invalid credentials", err: service.ErrInvalidCredentials, wantStatus: http.StatusUnauthorized},
		{name: "storage failure", err: context.DeadlineExceeded, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{authUser: tt.user, authErr: tt.err})

			body, _ := json.Marshal(loginRequest{Email: "a@example.com", Password: "secret1"})
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
			rec := serve(h, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestGenerateCode(t *testing.T) {
	svc := &stubService{code: "ALCE9Z1Q"}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/referral/code", strings.NewReader(`{"nameHint":"Al!ce","length":8,"maxAttempts":3}`))
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":"ALCE9Z1Q"}`, rec.Body.String())
	assert.Equal(t, service.GenerateOptions{NameHint: "Al!ce", Length: 8, MaxAttempts: 3}, svc.codeOpts)
}

func TestGenerateCode_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
	}{
		{name: "length below minimum", body: `{"length":2}`, wantStatus: http.StatusBadRequest},
		{name: "non-positive attempts", body: `{"maxAttempts":0}`, wantStatus: http.StatusBadRequest},
		{name: "length above maximum", body: `{"length":1125899906842624}`, wantStatus: http.StatusBadRequest},
		{name: "length just above maximum", body: `{"length":65}`, wantStatus: http.StatusBadRequest},
		{name: "attempts above maximum", body: `{"maxAttempts":1000000}`, wantStatus: http.StatusBadRequest},
		{name: "exhausted", body: `{}`, serviceErr: referralcode.ErrGenerationExhausted, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{codeErr: tt.serviceErr})

			req := httptest.NewRequest(http.MethodPost, "/api/referral/code", strings.NewReader(tt.body))
			rec := serve(h, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestReferralStats(t *testing.T) {
	svc := &stubService{stats: &model.ReferralStats{
		ReferralCode:         "REF999",
		ReferrerName:         "Bob",
		TotalReferred:        3,
		ReferredWhoPurchased: 1,
		ReferrerCredits:      7,
	}}
	h := newTestHandler(t, svc)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/referral/ref999/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "REF999", svc.statsCode)
	assert.JSONEq(t, `{"referralCode":"REF999","referrerName":"Bob","totalReferred":3,"referredWhoPurchased":1,"referrerCredits":7}`, rec.Body.String())
}

func TestReferralStats_NotFound(t *testing.T) {
	h := newTestHandler(t, &stubService{statsErr: repository.ErrUserNotFound})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/referral/NOSUCH/stats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/referral/bad-code!/stats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuy_Success(t *testing.T) {
	svc := &stubService{buyResult: &model.ConversionResult{
		Purchase:     model.Purchase{ID: "p1"},
		Credits:      2,
		HasConverted: true,
		Rewarded:     true,
	}}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/purchase/buy", strings.NewReader(`{"amount":50}`))
	authorize(t, h, req, "u1")
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", svc.buyUserID)
	assert.Equal(t, 50.0, svc.buyAmount)
	assert.JSONEq(t, `{"recorded":true,"credits":2,"hasConverted":true,"rewarded":true,"purchaseId":"p1"}`, rec.Body.String())
}

func TestBuy_LenientAmount(t *testing.T) {
	tests := []struct {
		name string
		body string
		want float64
	}{
		{name: "string", body: `{"amount":"50"}`, want: 0},
		{name: "null", body: `{"amount":null}`, want: 0},
		{name: "missing", body: `{}`, want: 0},
		{name: "empty body", body: ``, want: 0},
		{name: "negative", body: `{"amount":-3}`, want: 0},
		{name: "out of range", body: `{"amount":1e400}`, want: 0},
		{name: "above storable maximum", body: `{"amount":1e300}`, want: 0},
		{name: "fraction", body: `{"amount":12.5}`, want: 12.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{buyAmount: -1, buyResult: &model.ConversionResult{}}
			h := newTestHandler(t, svc)

			req := httptest.NewRequest(http.MethodPost, "/api/purchase/buy", strings.NewReader(tt.body))
			authorize(t, h, req, "u1")
			rec := serve(h, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, svc.buyAmount)
		})
	}
}

func TestBuy_Failures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{name: "user not found", err: repository.ErrUserNotFound, wantStatus: http.StatusNotFound, wantKind: "UserNotFound"},
		{
			name:       "transaction failed",
			err:        fmt.Errorf("%w: %w", service.ErrPurchaseFailed, errors.New("connection reset")),
			wantStatus: http.StatusInternalServerError,
			wantKind:   "TransactionFailed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{buyErr: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/api/purchase/buy", strings.NewReader(`{"amount":1}`))
			authorize(t, h, req, "u1")
			rec := serve(h, req)

			require.Equal(t, tt.wantStatus, rec.Code)

			var resp buyFailure
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.False(t, resp.Recorded)
			assert.Equal(t, tt.wantKind, resp.ErrorKind)
		})
	}
}

func TestBuy_RequiresAuth(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/purchase/buy", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetPurchases_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{purchases: []model.Purchase{}})

	req := httptest.NewRequest(http.MethodGet, "/api/purchase", nil)
	authorize(t, h, req, "u1")
	rec := serve(h, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetPurchases_JSONResponse(t *testing.T) {
	now := time.Now().UTC()
	h := newTestHandler(t, &stubService{purchases: []model.Purchase{
		{ID: "p2", UserID: "u1", Amount: 20, CreatedAt: now},
		{ID: "p1", UserID: "u1", Amount: 10.5, CreatedAt: now.Add(-time.Minute)},
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/purchase", nil)
	authorize(t, h, req, "u1")
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp []purchaseResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "p2", resp[0].ID)
	assert.Equal(t, 10.5, resp[1].Amount)
	assert.Equal(t, now.Format(time.RFC3339), resp[0].CreatedAt)
}

func TestGetDashboard(t *testing.T) {
	h := newTestHandler(t, &stubService{dashboard: &model.Dashboard{
		ReferralCode:         "REF999",
		TotalReferred:        2,
		ReferredWhoPurchased: 1,
		TotalCredits:         7,
		User:                 &model.User{ID: "u1", Name: "Bob", Email: "bob@example.com"},
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/me", nil)
	authorize(t, h, req, "u1")
	rec := serve(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"referralCode":"REF999",
		"totalReferred":2,
		"referredWhoPurchased":1,
		"totalCredits":7,
		"hasConverted":false,
		"user":{"id":"u1","name":"Bob","email":"bob@example.com"}
	}`, rec.Body.String())
}

func TestGetDashboard_UserNotFound(t *testing.T) {
	h := newTestHandler(t, &stubService{dashboardErr: repository.ErrUserNotFound})

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/me", nil)
	authorize(t, h, req, "gone")
	rec := serve(h, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
