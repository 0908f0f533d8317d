package out

import "context"

// SMSChannel 具体短信通道，每次调用只尝试一次，不做内部重试
type SMSChannel interface {
	Name() string
	Send(ctx context.Context, phone, code, template string) (messageID string, err error)
}
