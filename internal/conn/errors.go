package conn

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected 连接未处于 Open 状态，消息不会被写出
	ErrNotConnected = errors.New("conn: not connected")
	// ErrClosed 由本端调用 Close 结束的连接
	ErrClosed = errors.New("conn: closed by client")
	// ErrAlreadyStarted Manager 只能 Connect 一次，断线后需要重新协商会话
	ErrAlreadyStarted = errors.New("conn: manager already started")
	ErrSendBufferFull = errors.New("conn: send buffer full")
	// ErrPayloadTooLarge 编码后超过服务端声明的 maxPayload
	ErrPayloadTooLarge = errors.New("conn: payload exceeds max payload")
	// ErrServerClosed 服务端发送了关闭包
	ErrServerClosed = errors.New("conn: server sent close packet")
)

// ConnectionLostError 连接因传输错误或服务端关闭而断开
type ConnectionLostError struct {
	Cause error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("conn: connection lost: %v", e.Cause)
}

func (e *ConnectionLostError) Unwrap() error {
	return e.Cause
}
