package flows

import "context"

// Service is the centralized flow runner built once by the root client.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Login.Client != nil && s.deps.Refresh.Client != nil
}

func (s Service) Login(ctx context.Context, in LoginInput) LoginResult {
	return RunLogin(ctx, in, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Identity(ctx context.Context) IdentityResult {
	return RunIdentity(ctx, s.deps.Identity)
}

func (s Service) Call(ctx context.Context, in CallInput) CallResult {
	return RunCall(ctx, in, s.deps.Account)
}

func (s Service) UpdateEmail(ctx context.Context, email string) CallResult {
	return RunUpdateEmail(ctx, email, s.deps.Account)
}

func (s Service) ChangePassword(ctx context.Context, current, next string) CallResult {
	return RunChangePassword(ctx, current, next, s.deps.Account)
}

func (s Service) SetupPassword(ctx context.Context, token, password string) CallResult {
	return RunSetupPassword(ctx, token, password, s.deps.Account)
}

func (s Service) DeleteAccount(ctx context.Context) CallResult {
	return RunDeleteAccount(ctx, s.deps.Account)
}
