package vo

import (
	"github.com/EthanQC/verification-service/pkg/errors"
)

type Phone struct {
	Number string
}

func NewPhone(number string) (*Phone, error) {
	if !IsValidPhoneNumber(number) {
		return nil, errors.ErrInvalidPhone
	}

	return &Phone{Number: number}, nil
}

// Masked 日志和响应里只出现脱敏后的号码
func (p Phone) Masked() string {
	return MaskPhone(p.Number)
}

// 大陆号段白名单，按前三位匹配
// 比 ^1[3-9]\d{9}$ 更严格：格式正确但号段未分配的号码同样拒绝
var carrierPrefixes = map[string]string{
	// 移动
	"134": "mobile", "135": "mobile", "136": "mobile", "137": "mobile", "138": "mobile",
	"139": "mobile", "147": "mobile", "150": "mobile", "151": "mobile", "152": "mobile",
	"157": "mobile", "158": "mobile", "159": "mobile", "172": "mobile", "178": "mobile",
	"182": "mobile", "183": "mobile", "184": "mobile", "187": "mobile", "188": "mobile",
	"195": "mobile", "197": "mobile", "198": "mobile",
	// 联通
	"130": "unicom", "131": "unicom", "132": "unicom", "145": "unicom", "155": "unicom",
	"156": "unicom", "166": "unicom", "175": "unicom", "176": "unicom", "185": "unicom",
	"186": "unicom", "196": "unicom",
	// 电信
	"133": "telecom", "149": "telecom", "153": "telecom", "173": "telecom", "177": "telecom",
	"180": "telecom", "181": "telecom", "189": "telecom", "190": "telecom", "191": "telecom",
	"193": "telecom", "199": "telecom",
	// 广电
	"192": "broadcast",
	// 虚拟运营商
	"162": "virtual", "165": "virtual", "167": "virtual", "170": "virtual", "171": "virtual",
}

// IsValidPhoneNumber 11 位纯数字、以 1 开头、号段在白名单内
func IsValidPhoneNumber(number string) bool {
	if len(number) != 11 || number[0] != '1' {
		return false
	}
	for i := 0; i < len(number); i++ {
		if number[i] < '0' || number[i] > '9' {
			return false
		}
	}
	_, ok := carrierPrefixes[number[:3]]
	return ok
}

// Carrier 返回号段所属运营商，未知号段返回空串
func Carrier(number string) string {
	if len(number) < 3 {
		return ""
	}
	return carrierPrefixes[number[:3]]
}

// MaskPhone 138****8000，长度不足 7 位时整体打码
func MaskPhone(number string) string {
	if len(number) < 7 {
		return "****"
	}
	return number[:3] + "****" + number[len(number)-4:]
}
