package dispatch

import "fmt"

// TransportError 表示传输层未能取得响应，经由正常完成路径送达调用方。
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError 表示上游返回了非成功状态码。
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

// ParseError 表示响应正文不符合期望的形状。
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failure: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
