package errors

import "errors"

var (
	// 输入校验相关
	ErrInvalidPhone = errors.New("手机号码错误")

	// 存储相关
	ErrStoreUnavailable = errors.New("持久化存储不可用")
	ErrRecordNotFound   = errors.New("验证码记录不存在")

	// 状态机相关
	ErrInvalidTransition = errors.New("非法的验证码状态转换")

	// 下发相关
	ErrDeliveryFailed  = errors.New("短信下发失败")
	ErrDeliveryTimeout = errors.New("短信下发超时")
	ErrUnknownChannel  = errors.New("未知的短信通道")

	// 兜底
	ErrInternal = errors.New("内部错误")
)
