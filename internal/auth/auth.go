package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type Claims struct {
	UserID uint `json:"uid"`
	jwt.RegisteredClaims
}

// Identity 是一条已认证连接/请求的身份与角色能力，由外部签发的 token 解析而来。
type Identity struct {
	UserID      uint   `json:"userId"`
	DisplayName string `json:"displayName"`
	CanTeach    bool   `json:"canTeach"`
	CanStudy    bool   `json:"canStudy"`
}

// Resolver 根据 token 中的用户 id 查询展示名与角色能力。
type Resolver interface {
	Resolve(ctx context.Context, userID uint) (Identity, error)
}

// GenerateAccessToken 仅用于开发与测试；生产 token 由外部认证服务签发。
func GenerateAccessToken(userID uint, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != 0 {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// TokenFromRequest 依次从 Authorization 头和 access_token 查询参数读取 token，
// 浏览器的 WebSocket 握手无法携带自定义头，所以需要后者。
func TokenFromRequest(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return r.URL.Query().Get("access_token")
}

// Authenticate 校验 token 并解析出完整身份。
func Authenticate(ctx context.Context, r *http.Request, secret string, resolver Resolver) (Identity, error) {
	tokenStr := TokenFromRequest(r)
	if tokenStr == "" {
		return Identity{}, ErrMissingToken
	}
	claims, err := ParseAccessToken(tokenStr, secret)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return resolver.Resolve(ctx, claims.UserID)
}

func AuthMiddleware(secret string, resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := Authenticate(c.Request.Context(), c.Request, secret, resolver)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set("identity", id)
		c.Next()
	}
}

func GetIdentity(c *gin.Context) Identity {
	if v, ok := c.Get("identity"); ok {
		if id, ok2 := v.(Identity); ok2 {
			return id
		}
	}
	return Identity{}
}

func GetUserID(c *gin.Context) uint {
	return GetIdentity(c).UserID
}
