package waitlist

type Role string

const (
	RoleAnonymous Role = ""
	RoleStaff     Role = "staff"
	RoleParty     Role = "party"
)

// Actor is the authenticated caller of a service operation. For staff the
// subject is the user id, for a party it is the entry id its token was issued for.
type Actor struct {
	Role    Role
	Subject string
}

func Staff(userID string) Actor { return Actor{Role: RoleStaff, Subject: userID} }

func Party(entryID string) Actor { return Actor{Role: RoleParty, Subject: entryID} }

func (a Actor) IsStaff() bool { return a.Role == RoleStaff }

// Owns reports whether the actor is the party the entry belongs to.
func (a Actor) Owns(entryID string) bool {
	return a.Role == RoleParty && a.Subject != "" && a.Subject == entryID
}
