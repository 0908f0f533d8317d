package vo

// Origin 请求来源，仅用于审计
type Origin struct {
	UserAgent string `json:"user_agent"`
	IPAddress string `json:"ip_address"`
}
