package auth

// Operator is a console account together with its team_mate role.
type Operator struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	IsActive     bool
	// Role is the raw team_mate.role value; empty when the account has no
	// team_mate row.
	Role string
}
