package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the access
// token on inbound admin RPCs. HTTP requests use the Authorization header.
const AccessTokenHeaderName = "access_token"

// LoginPath is where browser-style requests are sent when their session is
// no longer usable.
const LoginPath = "/auth/login"
