package http

import (
	"github.com/plantify-account/internal/application/account"
	"github.com/plantify-account/internal/application/recovery"
	"github.com/plantify-account/internal/application/verification"
	jwtinfra "github.com/plantify-account/internal/infrastructure/jwt"
	"github.com/plantify-account/internal/pkg/password"
)

// Deps holds the services the router exposes.
type Deps struct {
	Accounts     account.Service
	Verification verification.Service
	Recovery     recovery.Service
	Policy       *password.Policy
	JWTProvider  *jwtinfra.Provider
}
