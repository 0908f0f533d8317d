package http

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/EthanQC/verification-service/internal/domain/vo"
	"github.com/EthanQC/verification-service/internal/ports/in"
	"github.com/EthanQC/verification-service/pkg/errors"
)

// VerificationController 验证码相关 HTTP 接口
type VerificationController struct {
	useCase in.VerificationUseCase
}

func NewVerificationController(useCase in.VerificationUseCase) *VerificationController {
	return &VerificationController{useCase: useCase}
}

// RegisterRoutes 挂在 /api/v1 下
func (c *VerificationController) RegisterRoutes(r *gin.RouterGroup) {
	v := r.Group("/verification")
	{
		v.POST("/code", c.RequestCode)
		v.POST("/validate", c.ValidateCode)
		v.GET("/status/:phone", c.Status)
	}
}

type RequestCodeRequest struct {
	Phone string `json:"phone" binding:"required"`
}

type ValidateCodeRequest struct {
	Phone string `json:"phone" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// RequestCode 申请验证码
// @Router /verification/code [post]
func (c *VerificationController) RequestCode(ctx *gin.Context) {
	var req RequestCodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"accepted": false, "message": "invalid request"})
		return
	}

	res, err := c.useCase.RequestCode(ctx.Request.Context(), req.Phone, vo.Origin{
		UserAgent: ctx.Request.UserAgent(),
		IPAddress: ctx.ClientIP(),
	})
	if err != nil || res.Outcome == in.OutcomeInternal {
		ctx.JSON(http.StatusInternalServerError, gin.H{"accepted": false, "message": "internal error"})
		return
	}

	body := gin.H{
		"accepted":     res.Accepted,
		"message":      res.Message,
		"phone_masked": res.PhoneMasked,
	}
	switch res.Outcome {
	case in.OutcomeAccepted:
		body["request_id"] = res.RequestID
		if res.DevCode != "" {
			body["code"] = res.DevCode
		}
		ctx.JSON(http.StatusOK, body)
	case in.OutcomeCooldown:
		body["remaining_seconds"] = res.RemainingSeconds
		ctx.Header("Retry-After", strconv.Itoa(res.RemainingSeconds))
		ctx.JSON(http.StatusTooManyRequests, body)
	default:
		ctx.JSON(http.StatusBadRequest, body)
	}
}

// ValidateCode 校验验证码
// @Router /verification/validate [post]
func (c *VerificationController) ValidateCode(ctx *gin.Context) {
	var req ValidateCodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"valid": false, "message": "invalid request"})
		return
	}

	res, err := c.useCase.ValidateCode(ctx.Request.Context(), req.Phone, req.Code)
	if err != nil || res.Outcome == in.OutcomeInternal {
		ctx.JSON(http.StatusInternalServerError, gin.H{"valid": false, "message": "internal error"})
		return
	}

	body := gin.H{
		"valid":   res.Valid,
		"message": res.Message,
		"outcome": res.Outcome,
	}
	switch res.Outcome {
	case in.OutcomeSuccess:
		ctx.JSON(http.StatusOK, body)
	case in.OutcomeTooManyAttempts:
		body["retry_after_seconds"] = res.RetryAfterSeconds
		ctx.Header("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
		ctx.JSON(http.StatusTooManyRequests, body)
	default:
		if res.RemainingAttempts != nil {
			body["remaining_attempts"] = *res.RemainingAttempts
		}
		ctx.JSON(http.StatusBadRequest, body)
	}
}

// Status 查询最近一次验证码的下发状态
// @Router /verification/status/{phone}?request_id= [get]
func (c *VerificationController) Status(ctx *gin.Context) {
	requestID := ctx.Query("request_id")
	if requestID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "request_id is required"})
		return
	}
	st, err := c.useCase.Status(ctx.Request.Context(), ctx.Param("phone"), requestID)
	switch {
	case stderrors.Is(err, errors.ErrInvalidPhone):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	case st == nil:
		ctx.JSON(http.StatusNotFound, gin.H{"error": errors.ErrRecordNotFound.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"phone_masked": st.PhoneMasked,
		"status":       st.Status,
		"sent_count":   st.SentCount,
		"expires_at":   st.ExpiresAtMs,
		"channel":      st.Channel,
	})
}
