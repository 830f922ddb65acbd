package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/garyjia/crm-workflow/internal/application/service"
	"github.com/garyjia/crm-workflow/internal/domain/workflow"
)

const actorKey = "actor"

// Claims are the bearer token claims that identify the caller
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

var errMissingToken = errors.New("missing bearer token")

// authMiddleware resolves the actor from an HS256 bearer token and keeps
// the caller's profile current. Profile sync failures are logged only.
func authMiddleware(cfg AuthConfig, profiles service.ProfileService, logger Logger) gin.HandlerFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)
	secret := []byte(cfg.Secret)

	return func(c *gin.Context) {
		actor, err := parseActor(parser, secret, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Success: false, Error: err.Error()})
			return
		}

		if profiles != nil {
			if err := profiles.Sync(c.Request.Context(), actor); err != nil {
				logger.Error("Failed to sync profile", "error", err, "user_id", actor.ID)
			}
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

func parseActor(parser *jwt.Parser, secret []byte, header string) (workflow.Actor, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return workflow.Actor{}, errMissingToken
	}

	claims := &Claims{}
	_, err := parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return workflow.Actor{}, errors.New("invalid bearer token")
	}

	actor := workflow.Actor{
		ID:    strings.TrimSpace(claims.UserID),
		Name:  strings.TrimSpace(claims.Name),
		Role:  workflow.Role(strings.ToLower(strings.TrimSpace(claims.Role))),
		Email: strings.TrimSpace(claims.Email),
	}
	if actor.ID == "" {
		return workflow.Actor{}, errors.New("token has no user_id")
	}
	if !actor.Role.IsValid() {
		return workflow.Actor{}, errors.New("token has an unknown role")
	}
	return actor, nil
}

func actorFrom(c *gin.Context) (workflow.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return workflow.Actor{}, false
	}
	actor, ok := v.(workflow.Actor)
	return actor, ok
}
