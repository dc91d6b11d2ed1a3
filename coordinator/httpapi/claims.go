package httpapi

import "github.com/hwrig/testbed/pkg/jwt"

// controllerClaims is the payload of the access token a Controller process
// authenticates its WebSocket and output-upload requests with.
type controllerClaims struct {
	jwt.StandardClaims
	ControllerID int64 `json:"controller_id"`
}
