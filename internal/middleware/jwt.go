package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"storefront_back_end/internal/models"
)

const principalKey = "principal"

// Claims : contenu du token émis par le service d'identité.
type Claims struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Role    string `json:"role,omitempty"`
	IsStaff bool   `json:"is_staff,omitempty"`
	jwt.RegisteredClaims
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": msg})
}

// AuthRequired valide le bearer token HS256 et place le Principal dans le
// contexte Gin.
func AuthRequired(secret []byte, log *zap.Logger) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("méthode de signature inattendue: %v", token.Header["alg"])
		}
		return secret, nil
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "Token manquant")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(c, "Format Authorization invalide")
			return
		}

		var claims Claims
		token, err := parser.ParseWithClaims(parts[1], &claims, keyFunc)
		if err != nil || !token.Valid {
			log.Debug("❌ JWT rejeté", zap.Error(err))
			unauthorized(c, "Token invalide")
			return
		}
		if claims.UserID == "" {
			unauthorized(c, "user_id manquant")
			return
		}

		SetPrincipal(c, models.Principal{
			ID:      claims.UserID,
			Email:   claims.Email,
			Role:    claims.Role,
			IsStaff: claims.IsStaff,
		})
		c.Next()
	}
}

func SetPrincipal(c *gin.Context, p models.Principal) {
	c.Set(principalKey, p)
	c.Set("user_id", p.ID)
}

// PrincipalFrom renvoie l'appelant posé par AuthRequired.
func PrincipalFrom(c *gin.Context) (models.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return models.Principal{}, false
	}
	p, ok := v.(models.Principal)
	return p, ok
}

// RequireStaff réserve la route au personnel. À monter après AuthRequired.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			unauthorized(c, "Utilisateur non authentifié")
			return
		}
		if !p.CanManageOrders() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Accès réservé au personnel",
			})
			return
		}
		c.Next()
	}
}
