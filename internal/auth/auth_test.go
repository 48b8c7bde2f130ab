package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

type stubResolver struct {
	ids map[uint]Identity
}

func (s stubResolver) Resolve(_ context.Context, userID uint) (Identity, error) {
	id, ok := s.ids[userID]
	if !ok {
		return Identity{}, errors.New("user not found")
	}
	return id, nil
}

func TestGenerateAccessToken(t *testing.T) {
	tests := []struct {
		name       string
		userID     uint
		secret     string
		ttlMinutes int
	}{
		{"valid token", 1, "test-secret", 15},
		{"large user id", 1 << 31, "test-secret", 15},
		{"zero ttl", 1, "test-secret", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateAccessToken(tt.userID, tt.secret, tt.ttlMinutes)
			if err != nil {
				t.Errorf("GenerateAccessToken() error = %v", err)
				return
			}
			if token == "" {
				t.Error("GenerateAccessToken() returned empty token")
			}
		})
	}
}

func TestParseAccessToken(t *testing.T) {
	secret := "test-secret-key"
	userID := uint(42)

	token, err := GenerateAccessToken(userID, secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	zeroUser, _ := GenerateAccessToken(0, secret, 15)

	tests := []struct {
		name    string
		token   string
		secret  string
		wantUID uint
		wantErr bool
	}{
		{"valid token", token, secret, userID, false},
		{"wrong secret", token, "wrong-secret", 0, true},
		{"invalid token", "invalid.token.here", secret, 0, true},
		{"empty token", "", secret, 0, true},
		{"zero user id", zeroUser, secret, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseAccessToken(tt.token, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseAccessToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && claims.UserID != tt.wantUID {
				t.Errorf("ParseAccessToken() UserID = %v, want %v", claims.UserID, tt.wantUID)
			}
		})
	}
}

func TestParseAccessToken_Expired(t *testing.T) {
	secret := "test-secret"
	token, err := GenerateAccessToken(1, secret, -1)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseAccessToken(token, secret)
	if err == nil {
		t.Error("ParseAccessToken() should return error for expired token")
	}
	if claims != nil {
		t.Error("ParseAccessToken() should return nil claims for expired token")
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"bearer header", "Bearer abc", "", "abc"},
		{"lowercase bearer", "bearer abc", "", "abc"},
		{"query param", "", "access_token=xyz", "xyz"},
		{"header wins", "Bearer abc", "access_token=xyz", "abc"},
		{"none", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/hub?"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := TokenFromRequest(r); got != tt.want {
				t.Errorf("TokenFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	secret := "s3cret"
	resolver := stubResolver{ids: map[uint]Identity{7: {UserID: 7, DisplayName: "Grace", CanTeach: true}}}

	r := gin.New()
	r.GET("/me", AuthMiddleware(secret, resolver), func(c *gin.Context) {
		c.JSON(http.StatusOK, GetIdentity(c))
	})

	good, _ := GenerateAccessToken(7, secret, 5)
	unknown, _ := GenerateAccessToken(8, secret, 5)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"valid", good, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "nope", http.StatusUnauthorized},
		{"unknown user", unknown, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}
