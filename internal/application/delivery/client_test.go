package delivery

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) Name() string { return "test" }

func (m *mockChannel) Send(ctx context.Context, phone, code, template string) (string, error) {
	args := m.Called(ctx, phone, code, template)
	if fn, ok := args.Get(0).(func(ctx context.Context) (string, error)); ok {
		return fn(ctx)
	}
	return args.String(0), args.Error(1)
}

func TestClientSendSuccess(t *testing.T) {
	ch := &mockChannel{}
	ch.On("Send", mock.Anything, "13800138000", "123456", "SMS_VERIFY").Return("m-1", nil)

	res := NewClient(ch, time.Second, nil).Send(context.Background(), "13800138000", "123456", "SMS_VERIFY")
	assert.True(t, res.Success)
	assert.Equal(t, "m-1", res.ChannelMessageID)
	assert.Equal(t, "test", res.ChannelName)
	assert.Empty(t, res.ErrorMessage)
}

func TestClientSendError(t *testing.T) {
	ch := &mockChannel{}
	ch.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", stderrors.New("gateway 503"))

	res := NewClient(ch, time.Second, nil).Send(context.Background(), "13800138000", "123456", "SMS_VERIFY")
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "gateway 503")
}

func TestClientSendTimeout(t *testing.T) {
	ch := &mockChannel{}
	ch.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, nil)

	start := time.Now()
	res := NewClient(ch, 20*time.Millisecond, nil).Send(context.Background(), "13800138000", "123456", "SMS_VERIFY")
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "超时")
	assert.Less(t, time.Since(start), time.Second)
}

type panicChannel struct{}

func (panicChannel) Name() string { return "boom" }
func (panicChannel) Send(context.Context, string, string, string) (string, error) {
	panic("nil map write")
}

func TestClientSendRecoversPanic(t *testing.T) {
	var res Result
	assert.NotPanics(t, func() {
		res = NewClient(panicChannel{}, time.Second, nil).Send(context.Background(), "13800138000", "123456", "SMS_VERIFY")
	})
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.ChannelName)
	assert.Contains(t, res.ErrorMessage, "nil map write")
}
