package errcode

// 错误码约定（随响应 envelope 的 code 字段返回）：
// - 0：无错误
// - 4xxx：调用方可修正的错误，后三位与 HTTP 状态对应
// - 5xxx：服务端错误
const (
	OK               = 0
	ValidationFailed = 4000
	Unauthenticated  = 4001
	Forbidden        = 4003
	NotFound         = 4004
	Conflict         = 4009
	RateLimited      = 4029
	SystemError      = 5000
	GenerationFailed = 5001
)
