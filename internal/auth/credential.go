// Package auth 在发起握手前检查登录凭证
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmptyCredential   = errors.New("auth: credential is empty")
	ErrEmptyIdentity     = errors.New("auth: identity is empty")
	ErrCredentialExpired = errors.New("auth: credential has expired")
)

// CredentialInfo 从JWT形式的凭证中读取到的声明（不校验签名）
type CredentialInfo struct {
	Subject   string
	Issuer    string
	ExpiresAt time.Time // 未设置时为零值
	IssuedAt  time.Time
}

// Expired 判断凭证在给定时间是否已过期
func (c *CredentialInfo) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Inspect 解析JWT凭证的声明部分。签名由服务端校验，这里只读取过期时间等信息。
// 非JWT格式的凭证返回 (nil, nil)。
func Inspect(credential string) (*CredentialInfo, error) {
	if credential == "" {
		return nil, ErrEmptyCredential
	}
	if strings.Count(credential, ".") != 2 {
		return nil, nil
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, &claims); err != nil {
		return nil, nil
	}

	info := &CredentialInfo{
		Subject: claims.Subject,
		Issuer:  claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	return info, nil
}

// Validate 检查身份与凭证是否可用于登录；已过期的JWT直接拒绝，避免无意义的握手重试
func Validate(identity, credential string, now time.Time) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	info, err := Inspect(credential)
	if err != nil {
		return err
	}
	if info != nil && info.Expired(now) {
		return fmt.Errorf("%w at %s", ErrCredentialExpired, info.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
