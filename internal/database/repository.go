package database

// AccountRepository is the persistence surface the relay needs: identities
// only. Message history is in-memory and owned by the history store.
type AccountRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
}
