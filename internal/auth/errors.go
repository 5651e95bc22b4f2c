package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrAccountInactive     = errors.New("account inactive")
	ErrInvalidAPIKey       = errors.New("invalid api key")
	ErrAPIKeyExpired       = errors.New("api key expired")
	ErrAPIKeyRevoked       = errors.New("api key revoked")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrBadRequest          = errors.New("bad request")
	ErrInvalidInput        = errors.New("invalid input")

	// ErrLastOwner is returned by member stores when a write would leave a
	// store without an ACTIVE OWNER.
	ErrLastOwner = fmt.Errorf("%w: a store must keep at least one active owner", ErrBadRequest)
)

// ForbiddenError reports which roles or permissions the caller lacked.
type ForbiddenError struct {
	RequiredRoles       []Role
	RequiredPermissions []Permission
	ActualRole          Role
	Reason              string
}

func (e *ForbiddenError) Error() string {
	switch {
	case e.Reason != "":
		return "forbidden: " + e.Reason
	case len(e.RequiredRoles) > 0:
		roles := make([]string, len(e.RequiredRoles))
		for i, r := range e.RequiredRoles {
			roles[i] = string(r)
		}
		return fmt.Sprintf("forbidden: requires one of roles [%s]", strings.Join(roles, ", "))
	case len(e.RequiredPermissions) > 0:
		perms := make([]string, len(e.RequiredPermissions))
		for i, p := range e.RequiredPermissions {
			perms[i] = string(p)
		}
		return fmt.Sprintf("forbidden: requires permissions [%s]", strings.Join(perms, ", "))
	default:
		return ErrForbidden.Error()
	}
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }
