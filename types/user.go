package types

// User represents an account holder of the iPulse app.
type User struct {
	// ID is assigned by the store on insert.
	ID int `json:"id" db:"id"`

	// Name is the display name entered at registration.
	Name string `json:"name" db:"name"`

	// Email is the lookup key for login and password recovery.
	// Uniqueness is only enforced in hardened mode.
	Email string `json:"email" db:"email"`

	// Password holds whatever the credential strategy stored: the raw
	// password in legacy mode or a bcrypt digest in hardened mode. It is
	// cleared before a hardened response is written.
	Password string `json:"password,omitempty" db:"password"`
}

// NewUser carries the fields accepted by registration.
type NewUser struct {
	Name     string
	Email    string
	Password string
}
