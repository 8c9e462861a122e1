package flows

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Account endpoints relative to the API base URL.
const (
	PathMe             = "/auth/me"
	PathChangePassword = "/auth/change-password"
	PathSetupPassword  = "/auth/setup-password"
)

type updateEmailRequest struct {
	Email string `json:"email"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type setupPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// RunUpdateEmail changes the signed-in user's email.
func RunUpdateEmail(ctx context.Context, email string, deps CallDeps) CallResult {
	email = strings.TrimSpace(email)
	if email == "" {
		return CallResult{Failure: CallFailureEncode, Err: errors.New("email is required")}
	}
	return RunCall(ctx, CallInput{Method: http.MethodPut, Path: PathMe, Body: updateEmailRequest{Email: email}}, deps)
}

// RunChangePassword rotates the signed-in user's password.
func RunChangePassword(ctx context.Context, current, next string, deps CallDeps) CallResult {
	if current == "" || next == "" {
		return CallResult{Failure: CallFailureEncode, Err: errors.New("current and new password are required")}
	}
	return RunCall(ctx, CallInput{
		Method: http.MethodPost,
		Path:   PathChangePassword,
		Body:   changePasswordRequest{CurrentPassword: current, NewPassword: next},
	}, deps)
}

// RunSetupPassword redeems a setup token (sent out of band) for a first password.
func RunSetupPassword(ctx context.Context, token, password string, deps CallDeps) CallResult {
	if token == "" || password == "" {
		return CallResult{Failure: CallFailureEncode, Err: errors.New("token and password are required")}
	}
	return RunCall(ctx, CallInput{
		Method: http.MethodPost,
		Path:   PathSetupPassword,
		Body:   setupPasswordRequest{Token: token, Password: password},
	}, deps)
}

// RunDeleteAccount deletes the signed-in user.
func RunDeleteAccount(ctx context.Context, deps CallDeps) CallResult {
	return RunCall(ctx, CallInput{Method: http.MethodDelete, Path: PathMe}, deps)
}
