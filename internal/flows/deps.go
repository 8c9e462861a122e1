package flows

// Deps groups flow dependency sets. The root client builds this once and
// delegates operations to the matching flow.
type Deps struct {
	Login    LoginDeps
	Refresh  RefreshDeps
	Identity IdentityDeps
	Account  CallDeps
}
