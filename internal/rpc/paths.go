package rpc

// REST routes for the same messages.
const (
	PathHealth   = "/health"
	PathPrelogin = "/api/accounts/prelogin"
	PathRegister = "/api/accounts/register"
	PathLogin    = "/api/accounts/login"
	PathKdf      = "/api/accounts/kdf"
)
