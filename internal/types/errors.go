package types

// API error codes returned in ErrorBody.Code.
const (
	CodeBadRequest       = "REQUEST_400"
	CodeUnauthorized     = "AUTH_401"
	CodeUnknownSymbol    = "PARAM_404"
	CodeValidation       = "PARAM_422"
	CodeTransport        = "BACKEND_502"
	CodeTransportTimeout = "BACKEND_504"
	CodeNotReady         = "SESSION_503"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
