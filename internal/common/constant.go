package common

// AuthorizationHeaderName carries the bearer access token.
const AuthorizationHeaderName = "Authorization"

// InternalKeyHeaderName carries the shared key for internal-only endpoints.
const InternalKeyHeaderName = "X-Internal-Key"
