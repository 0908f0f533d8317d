package aliyun

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/aliyun/alibaba-cloud-sdk-go/services/dysmsapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
	delay time.Duration
}

func (m *mockSender) SendSms(req *dysmsapi.SendSmsRequest) (*dysmsapi.SendSmsResponse, error) {
	time.Sleep(m.delay)
	args := m.Called(req.PhoneNumbers, req.TemplateCode, req.TemplateParam)
	resp, _ := args.Get(0).(*dysmsapi.SendSmsResponse)
	return resp, args.Error(1)
}

func okResponse(code, bizID string) *dysmsapi.SendSmsResponse {
	resp := dysmsapi.CreateSendSmsResponse()
	resp.Code = code
	resp.Message = "msg"
	resp.BizId = bizID
	return resp
}

func TestSendOK(t *testing.T) {
	s := &mockSender{}
	s.On("SendSms", "13800138000", "SMS_VERIFY", `{"code":"123456"}`).Return(okResponse("OK", "biz-1"), nil)
	ch := &SMSChannel{client: s, signName: "sign"}

	id, err := ch.Send(context.Background(), "13800138000", "123456", "SMS_VERIFY")
	require.NoError(t, err)
	assert.Equal(t, "biz-1", id)
	s.AssertExpectations(t)
}

func TestSendRejected(t *testing.T) {
	s := &mockSender{}
	s.On("SendSms", mock.Anything, mock.Anything, mock.Anything).Return(okResponse("isv.BUSINESS_LIMIT_CONTROL", ""), nil)
	ch := &SMSChannel{client: s}

	_, err := ch.Send(context.Background(), "13800138000", "123456", "SMS_VERIFY")
	assert.ErrorContains(t, err, "isv.BUSINESS_LIMIT_CONTROL")
}

func TestSendTransportError(t *testing.T) {
	s := &mockSender{}
	s.On("SendSms", mock.Anything, mock.Anything, mock.Anything).Return(nil, stderrors.New("dial tcp: timeout"))
	ch := &SMSChannel{client: s}

	_, err := ch.Send(context.Background(), "13800138000", "123456", "SMS_VERIFY")
	assert.Error(t, err)
}

func TestSendContextDeadline(t *testing.T) {
	s := &mockSender{delay: 200 * time.Millisecond}
	s.On("SendSms", mock.Anything, mock.Anything, mock.Anything).Return(okResponse("OK", "late"), nil)
	ch := &SMSChannel{client: s}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := ch.Send(ctx, "13800138000", "123456", "SMS_VERIFY")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendRecoversSDKPanic(t *testing.T) {
	s := &mockSender{}
	s.On("SendSms", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("nil pointer in sdk") }).
		Return(nil, nil)
	ch := &SMSChannel{client: s}

	_, err := ch.Send(context.Background(), "13800138000", "123456", "SMS_VERIFY")
	assert.ErrorContains(t, err, "nil pointer in sdk")
}

func TestSendEmptyResponse(t *testing.T) {
	s := &mockSender{}
	s.On("SendSms", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	ch := &SMSChannel{client: s}

	_, err := ch.Send(context.Background(), "13800138000", "123456", "SMS_VERIFY")
	assert.Error(t, err)
}
