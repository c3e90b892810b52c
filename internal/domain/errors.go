package domain

import "fmt"

// AuthError signals that credentials for an account are missing,
// rejected, or irrecoverably expired. It is terminal for the current
// sync attempt and is never retried by the connectivity policy.
type AuthError struct {
	Provider ProviderKind
	Address  string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s account %s: %s", e.Provider, e.Address, e.Reason)
}
