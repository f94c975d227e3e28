package util

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims cmi5 launch 会话令牌的声明
type SessionClaims struct {
	SessionID    string `json:"session_id"`
	Registration string `json:"registration"`
	ActorMbox    string `json:"actor_mbox"`
	jwt.RegisteredClaims
}

func GenerateSessionToken(sessionID, registration, actorMbox, secret string, expiration time.Duration) (string, error) {
	expirationTime := time.Now().Add(expiration)

	claims := &SessionClaims{
		SessionID:    sessionID,
		Registration: registration,
		ActorMbox:    actorMbox,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseSessionToken(tokenString, secret string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, err
}

func GetSessionFromContext(c *gin.Context) *SessionClaims {
	session, exists := c.Get("session")
	if !exists {
		return nil
	}
	claims, ok := session.(*SessionClaims)
	if !ok {
		return nil
	}
	return claims
}
