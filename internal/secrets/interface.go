package secrets

// Store resolves BMC credentials by service-scoped lookup without
// exposing where or how they are kept. Secrets never transit logs or
// the server inventory.
type Store interface {
	Get(server, username string) (string, error)
	Set(server, username, secret string) error
	Delete(server, username string) error
}
