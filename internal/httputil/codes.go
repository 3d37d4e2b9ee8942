package httputil

// Machine-readable error codes.
const (
	CodeInternalError      = "INTERNAL_ERROR"
	CodeInvalidRequestBody = "INVALID_REQUEST_BODY"
	CodeRequestTooLarge    = "REQUEST_TOO_LARGE"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
	CodeCooldownActive     = "COOLDOWN_ACTIVE"
	CodeNotFound           = "NOT_FOUND"

	CodeEmailAlreadyExists = "EMAIL_ALREADY_EXISTS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountDisabled    = "ACCOUNT_DISABLED"

	CodeMissingAuth        = "MISSING_AUTH"
	CodeInvalidAuthHeader  = "INVALID_AUTH_HEADER"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeInvalidTokenUserID = "INVALID_TOKEN_USER_ID"

	CodeRefreshTokenRequired = "REFRESH_TOKEN_REQUIRED"
	CodeInvalidRefreshToken  = "INVALID_REFRESH_TOKEN"
	CodeRefreshTokenExpired  = "REFRESH_TOKEN_EXPIRED"
	CodeRefreshTokenReused   = "REFRESH_TOKEN_REUSED"

	CodeInvalidResetToken = "INVALID_RESET_TOKEN"
	CodeResetTokenExpired = "RESET_TOKEN_EXPIRED"
	CodeResetTokenUsed    = "RESET_TOKEN_USED"
)
