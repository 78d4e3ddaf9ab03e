// Package yeast 生成用于绕过HTTP缓存的单调请求标识
package yeast

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// Alphabet 64个符号，顺序必须与服务端解码表一致
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ-_abcdefghijklmnopqrstuvwxyz"

var ErrInvalidSymbol = errors.New("yeast: invalid symbol")

var symbolIndex = func() map[byte]int64 {
	m := make(map[byte]int64, len(Alphabet))
	for i := 0; i < len(Alphabet); i++ {
		m[Alphabet[i]] = int64(i)
	}
	return m
}()

// Encode 逐次除法将非负整数转换为字母表编码（高位在前），0编码为空串
func Encode(num int64) string {
	var buf [12]byte
	i := len(buf)
	base := int64(len(Alphabet))
	for num > 0 {
		i--
		buf[i] = Alphabet[num%base]
		num /= base
	}
	return string(buf[i:])
}

// Decode 是Encode的逆运算
func Decode(s string) (int64, error) {
	var n int64
	for i := 0; i < len(s); i++ {
		v, ok := symbolIndex[s[i]]
		if !ok {
			return 0, ErrInvalidSymbol
		}
		n = n*int64(len(Alphabet)) + v
	}
	return n, nil
}

// Encoder 单个客户端实例持有的ID生成器
type Encoder struct {
	mu      sync.Mutex
	now     func() time.Time
	prev    string // 上一次的时间戳编码
	counter int64  // 同一毫秒内的碰撞计数
	seeded  bool
}

// NewEncoder 创建新的ID生成器
func NewEncoder() *Encoder {
	return &Encoder{now: time.Now}
}

// WithClock 替换时钟，主要用于测试
func (e *Encoder) WithClock(now func() time.Time) *Encoder {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
	return e
}

// Next 返回当前毫秒的编码；同一毫秒内重复调用时追加 ".<计数>"
func (e *Encoder) Next() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := Encode(e.now().UnixMilli())
	if !e.seeded || now != e.prev {
		e.seeded = true
		e.prev = now
		e.counter = 0
		return now
	}

	e.counter++
	var b strings.Builder
	b.Grow(len(now) + 4)
	b.WriteString(now)
	b.WriteByte('.')
	b.WriteString(Encode(e.counter))
	return b.String()
}
