package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/EthanQC/verification-service/internal/domain/vo"
	"github.com/EthanQC/verification-service/internal/ports/in"
	"github.com/EthanQC/verification-service/pkg/errors"
)

type mockUseCase struct {
	mock.Mock
}

func (m *mockUseCase) RequestCode(ctx context.Context, phone string, origin vo.Origin) (*in.RequestCodeResult, error) {
	args := m.Called(phone, origin)
	res, _ := args.Get(0).(*in.RequestCodeResult)
	return res, args.Error(1)
}

func (m *mockUseCase) ValidateCode(ctx context.Context, phone, code string) (*in.ValidateCodeResult, error) {
	args := m.Called(phone, code)
	res, _ := args.Get(0).(*in.ValidateCodeResult)
	return res, args.Error(1)
}

func (m *mockUseCase) Status(ctx context.Context, phone, requestID string) (*in.CodeStatus, error) {
	args := m.Called(phone, requestID)
	res, _ := args.Get(0).(*in.CodeStatus)
	return res, args.Error(1)
}

func setupRouter(uc in.VerificationUseCase) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewVerificationController(uc).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-agent")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m
}

func TestRequestCodeAccepted(t *testing.T) {
	uc := &mockUseCase{}
	uc.On("RequestCode", "13800138000", mock.MatchedBy(func(o vo.Origin) bool {
		return o.UserAgent == "test-agent" && o.IPAddress != ""
	})).Return(&in.RequestCodeResult{
		Accepted: true, Outcome: in.OutcomeAccepted, Message: "验证码已发送",
		PhoneMasked: "138****8000", RequestID: "req-1",
	}, nil)

	w := doJSON(setupRouter(uc), http.MethodPost, "/api/v1/verification/code", gin.H{"phone": "13800138000"})
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, "138****8000", body["phone_masked"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.NotContains(t, body, "code")
	uc.AssertExpectations(t)
}

func TestRequestCodeCooldown(t *testing.T) {
	uc := &mockUseCase{}
	uc.On("RequestCode", "13900139000", mock.Anything).Return(&in.RequestCodeResult{
		Outcome: in.OutcomeCooldown, PhoneMasked: "139****9000", RemainingSeconds: 50,
	}, nil)

	w := doJSON(setupRouter(uc), http.MethodPost, "/api/v1/verification/code", gin.H{"phone": "13900139000"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "50", w.Header().Get("Retry-After"))
	assert.Equal(t, float64(50), decode(t, w)["remaining_seconds"])
}

func TestRequestCodeInvalidPhone(t *testing.T) {
	uc := &mockUseCase{}
	uc.On("RequestCode", "123", mock.Anything).Return(&in.RequestCodeResult{Outcome: in.OutcomeInvalidPhone}, nil)

	w := doJSON(setupRouter(uc), http.MethodPost, "/api/v1/verification/code", gin.H{"phone": "123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(setupRouter(uc), http.MethodPost, "/api/v1/verification/code", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestCodeInternal(t *testing.T) {
	uc := &mockUseCase{}
	uc.On("RequestCode", mock.Anything, mock.Anything).Return(&in.RequestCodeResult{Outcome: in.OutcomeInternal}, errors.ErrInternal)

	w := doJSON(setupRouter(uc), http.MethodPost, "/api/v1/verification/code", gin.H{"phone": "13800138000"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), errors.ErrInternal.Error())
}

func TestValidateCodeOutcomes(t *testing.T) {
	two := 2
	tests := []struct {
		name   string
		result *in.ValidateCodeResult
		status int
		check  func(t *testing.T, w *httptest.ResponseRecorder)
	}{
		{"success", &in.ValidateCodeResult{Valid: true, Outcome: in.OutcomeSuccess}, http.StatusOK, nil},
		{"mismatch", &in.ValidateCodeResult{Outcome: in.OutcomeMismatch, RemainingAttempts: &two}, http.StatusBadRequest,
			func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Equal(t, float64(2), decode(t, w)["remaining_attempts"])
			}},
		{"not found", &in.ValidateCodeResult{Outcome: in.OutcomeNotFoundOrExpired}, http.StatusBadRequest, nil},
		{"invalid input", &in.ValidateCodeResult{Outcome: in.OutcomeInvalidInput}, http.StatusBadRequest, nil},
		{"too many", &in.ValidateCodeResult{Outcome: in.OutcomeTooManyAttempts, RetryAfterSeconds: 3600}, http.StatusTooManyRequests,
			func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Equal(t, "3600", w.Header().Get("Retry-After"))
				body := decode(t, w)
				assert.Equal(t, float64(3600), body["retry_after_seconds"])
				assert.NotContains(t, body, "remaining_attempts")
			}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := &mockUseCase{}
			uc.On("ValidateCode", "13800138000", "123456").Return(tt.result, nil)

			w := doJSON(setupRouter(uc), http.MethodPost, "/api/v1/verification/validate", gin.H{"phone": "13800138000", "code": "123456"})
			assert.Equal(t, tt.status, w.Code)
			if tt.check != nil {
				tt.check(t, w)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	uc := &mockUseCase{}
	uc.On("Status", "13800138000", "req-1").Return(&in.CodeStatus{
		PhoneMasked: "138****8000", Status: "sent", SentCount: 1, ExpiresAtMs: 1792396800000, Channel: "mock",
	}, nil)
	uc.On("Status", "13800138000", "someone-else").Return(nil, nil)
	uc.On("Status", "123", "req-1").Return(nil, errors.ErrInvalidPhone)
	r := setupRouter(uc)

	w := doJSON(r, http.MethodGet, "/api/v1/verification/status/13800138000?request_id=req-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "sent", body["status"])
	assert.Equal(t, float64(1), body["sent_count"])

	w = doJSON(r, http.MethodGet, "/api/v1/verification/status/13800138000?request_id=someone-else", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodGet, "/api/v1/verification/status/123?request_id=req-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusRequiresRequestID(t *testing.T) {
	uc := &mockUseCase{}
	r := setupRouter(uc)

	w := doJSON(r, http.MethodGet, "/api/v1/verification/status/13800138000", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	uc.AssertNotCalled(t, "Status", mock.Anything, mock.Anything)
}
