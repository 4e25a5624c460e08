package domain

// Identity is the subject/company/role triple carried by a credential.
type Identity struct {
	SubjectID int64 `json:"user_id"`
	CompanyID int64 `json:"comp_id"`
	IsAdmin   bool  `json:"is_admin"`
	IsAgent   bool  `json:"is_agent"`
}

// IdentityOf returns the credential claims for a user.
func IdentityOf(u *User) Identity {
	return Identity{SubjectID: u.ID, CompanyID: u.CompanyID, IsAdmin: u.IsAdmin, IsAgent: u.IsAgent}
}
