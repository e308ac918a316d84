// Package handler содержит HTTP-обработчики API реферального сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/referral-system/internal/auth"
	"github.com/mmeshcher/referral-system/internal/middleware"
	"github.com/mmeshcher/referral-system/internal/model"
	"github.com/mmeshcher/referral-system/internal/referralcode"
	"github.com/mmeshcher/referral-system/internal/repository"
	"github.com/mmeshcher/referral-system/internal/service"
	"github.com/mmeshcher/referral-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, reg service.Registration) (*model.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)
	GenerateReferralCode(ctx context.Context, opts service.GenerateOptions) (string, error)
	Buy(ctx context.Context, userID string, amount float64) (*model.ConversionResult, error)
	PurchasesByUser(ctx context.Context, userID string) ([]model.Purchase, error)
	Dashboard(ctx context.Context, userID string) (*model.Dashboard, error)
	ReferralStats(ctx context.Context, code string) (*model.ReferralStats, error)
}

// Handler реализует HTTP-обработчики API реферального сервиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	issuer         *auth.Issuer
	authMiddleware *middleware.AuthMiddleware
	rateLimiter    *middleware.RateLimiter
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// rateLimiter может быть nil.
func NewHandler(s Service, logger *zap.Logger, issuer *auth.Issuer, rateLimiter *middleware.RateLimiter) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:        s,
		logger:         logger,
		issuer:         issuer,
		authMiddleware: middleware.NewAuthMiddleware(issuer),
		rateLimiter:    rateLimiter,
	}
}

// Значения errorKind в ответе на покупку.
const (
	errorKindUserNotFound      = "UserNotFound"
	errorKindTransactionFailed = "TransactionFailed"
)

type errorResponse struct {
	Message string `json:"message"`
}

type userResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email"`
	ReferralCode string `json:"referralCode"`
	Credits      int64  `json:"credits"`
	HasConverted bool   `json:"hasConverted"`
}

func newUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		ReferralCode: u.ReferralCode,
		Credits:      u.Credits,
		HasConverted: u.HasConverted,
	}
}

type authResponse struct {
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Message: message})
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	RefCode  string `json:"refCode"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !validation.IsValidEmail(validation.NormalizeEmail(req.Email)) {
		h.writeError(w, http.StatusBadRequest, "invalid email")
		return
	}
	if !validation.IsValidPassword(req.Password) {
		h.writeError(w, http.StatusBadRequest, "invalid password")
		return
	}

	u, err := h.service.RegisterUser(r.Context(), service.Registration{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		RefCode:  req.RefCode,
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			h.writeError(w, http.StatusConflict, "user already exists")
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	h.respondWithToken(w, http.StatusCreated, u)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и выдаёт токен.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	h.respondWithToken(w, http.StatusOK, u)
}

func (h *Handler) respondWithToken(w http.ResponseWriter, status int, u *model.User) {
	token, err := h.issuer.Issue(u.ID, u.ReferralCode)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err), zap.String("userID", u.ID))
		h.writeError(w, http.StatusInternalServerError, "token issue failed")
		return
	}

	h.authMiddleware.SetAuthCookie(w, token)
	h.writeJSON(w, status, authResponse{User: newUserResponse(u), Token: token})
}

type generateCodeRequest struct {
	NameHint    string `json:"nameHint"`
	Length      *int   `json:"length"`
	MaxAttempts *int   `json:"maxAttempts"`
}

type generateCodeResponse struct {
	Code string `json:"code"`
}

// GenerateCode подбирает свободный реферальный код.
func (h *Handler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	var req generateCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := service.GenerateOptions{NameHint: req.NameHint}
	if req.Length != nil {
		if *req.Length < referralcode.MinLength || *req.Length > referralcode.MaxLength {
			h.writeError(w, http.StatusBadRequest,
				fmt.Sprintf("length must be between %d and %d", referralcode.MinLength, referralcode.MaxLength))
			return
		}
		opts.Length = *req.Length
	}
	if req.MaxAttempts != nil {
		if *req.MaxAttempts < 1 || *req.MaxAttempts > referralcode.MaxAttempts {
			h.writeError(w, http.StatusBadRequest,
				fmt.Sprintf("maxAttempts must be between 1 and %d", referralcode.MaxAttempts))
			return
		}
		opts.MaxAttempts = *req.MaxAttempts
	}

	code, err := h.service.GenerateReferralCode(r.Context(), opts)
	if err != nil {
		switch {
		case errors.Is(err, referralcode.ErrInvalidConfig):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, referralcode.ErrGenerationExhausted):
			h.logger.Error("referral code generation exhausted", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "GenerationExhausted")
		default:
			h.logger.Error("generate referral code error", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	h.writeJSON(w, http.StatusOK, generateCodeResponse{Code: code})
}

// ReferralStats возвращает публичную статистику по реферальному коду.
func (h *Handler) ReferralStats(w http.ResponseWriter, r *http.Request) {
	code := validation.NormalizeReferralCode(chi.URLParam(r, "code"))
	if !validation.IsValidReferralCode(code) {
		h.writeError(w, http.StatusNotFound, "referral code not found")
		return
	}

	stats, err := h.service.ReferralStats(r.Context(), code)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "referral code not found")
			return
		}
		h.logger.Error("referral stats error", zap.Error(err), zap.String("code", code))
		h.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

type buyRequest struct {
	Amount json.RawMessage `json:"amount"`
}

type buyResponse struct {
	Recorded     bool   `json:"recorded"`
	Credits      int64  `json:"credits"`
	HasConverted bool   `json:"hasConverted"`
	Rewarded     bool   `json:"rewarded"`
	PurchaseID   string `json:"purchaseId"`
}

type buyFailure struct {
	Recorded  bool   `json:"recorded"`
	ErrorKind string `json:"errorKind"`
}

// purchaseAmount возвращает сумму, если она передана числом, и 0 в остальных случаях.
func purchaseAmount(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var amount float64
	if err := json.Unmarshal(raw, &amount); err != nil {
		return 0
	}
	return service.SanitizeAmount(amount)
}

// Buy записывает покупку текущего пользователя и начисляет реферальное вознаграждение.
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Debug("malformed purchase body, amount defaults to 0", zap.Error(err), zap.String("userID", userID))
	}

	res, err := h.service.Buy(r.Context(), userID, purchaseAmount(req.Amount))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			h.writeJSON(w, http.StatusNotFound, buyFailure{ErrorKind: errorKindUserNotFound})
			return
		}
		h.logger.Error("purchase error", zap.Error(err), zap.String("userID", userID))
		h.writeJSON(w, http.StatusInternalServerError, buyFailure{ErrorKind: errorKindTransactionFailed})
		return
	}

	h.writeJSON(w, http.StatusOK, buyResponse{
		Recorded:     true,
		Credits:      res.Credits,
		HasConverted: res.HasConverted,
		Rewarded:     res.Rewarded,
		PurchaseID:   res.Purchase.ID,
	})
}

type purchaseResponse struct {
	ID        string  `json:"id"`
	Amount    float64 `json:"amount"`
	CreatedAt string  `json:"createdAt"`
}

// GetPurchases возвращает историю покупок текущего пользователя.
func (h *Handler) GetPurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	purchases, err := h.service.PurchasesByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get purchases error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(purchases) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]purchaseResponse, 0, len(purchases))
	for _, p := range purchases {
		resp = append(resp, purchaseResponse{
			ID:        p.ID,
			Amount:    p.Amount,
			CreatedAt: p.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type dashboardUser struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type dashboardResponse struct {
	ReferralCode         string        `json:"referralCode"`
	TotalReferred        int64         `json:"totalReferred"`
	ReferredWhoPurchased int64         `json:"referredWhoPurchased"`
	TotalCredits         int64         `json:"totalCredits"`
	HasConverted         bool          `json:"hasConverted"`
	User                 dashboardUser `json:"user"`
}

// GetDashboard возвращает сводку личного кабинета текущего пользователя.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	d, err := h.service.Dashboard(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("get dashboard error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := dashboardResponse{
		ReferralCode:         d.ReferralCode,
		TotalReferred:        d.TotalReferred,
		ReferredWhoPurchased: d.ReferredWhoPurchased,
		TotalCredits:         d.TotalCredits,
		HasConverted:         d.HasConverted,
	}
	if d.User != nil {
		resp.User = dashboardUser{ID: d.User.ID, Name: d.User.Name, Email: d.User.Email}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Health сообщает, что сервис запущен.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
