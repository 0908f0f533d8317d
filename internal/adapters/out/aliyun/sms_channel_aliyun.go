package aliyun

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aliyun/alibaba-cloud-sdk-go/services/dysmsapi"

	"github.com/EthanQC/verification-service/internal/ports/out"
)

const ChannelName = "aliyun"

type Config struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	SignName        string `mapstructure:"sign_name"`
}

// sender 抽出 SDK 调用，便于测试替换
type sender interface {
	SendSms(request *dysmsapi.SendSmsRequest) (*dysmsapi.SendSmsResponse, error)
}

type SMSChannel struct {
	client   sender
	signName string
}

var _ out.SMSChannel = (*SMSChannel)(nil)

// NewSMSChannel timeout 同时作为 SDK 的连接和读超时
func NewSMSChannel(cfg Config, timeout time.Duration) (*SMSChannel, error) {
	client, err := dysmsapi.NewClientWithAccessKey(cfg.Region, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("初始化 Aliyun 短信客户端失败：%w", err)
	}
	if timeout > 0 {
		client.SetConnectTimeout(timeout)
		client.SetReadTimeout(timeout)
	}
	return &SMSChannel{client: client, signName: cfg.SignName}, nil
}

func (a *SMSChannel) Name() string { return ChannelName }

// Send template 即阿里云模板 code，返回的 BizId 作为通道消息 ID
func (a *SMSChannel) Send(ctx context.Context, phone, code, template string) (string, error) {
	param, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return "", err
	}
	request := dysmsapi.CreateSendSmsRequest()
	request.Scheme = "https"
	request.PhoneNumbers = phone
	request.SignName = a.signName
	request.TemplateCode = template
	request.TemplateParam = string(param)

	type result struct {
		resp *dysmsapi.SendSmsResponse
		err  error
	}
	// SDK 不接受 ctx，放到 goroutine 里等
	ch := make(chan result, 1)
	go func() {
		// 这个 goroutine 不在调用方的 recover 范围内，SDK 的 panic 要在这里转成错误
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: fmt.Errorf("阿里云短信 SDK panic: %v", p)}
			}
		}()
		resp, err := a.client.SendSms(request)
		ch <- result{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		if res.resp == nil {
			return "", fmt.Errorf("阿里云短信发送失败：空响应")
		}
		if res.resp.Code != "OK" {
			return "", fmt.Errorf("阿里云短信发送失败：%s - %s", res.resp.Code, res.resp.Message)
		}
		return res.resp.BizId, nil
	}
}
