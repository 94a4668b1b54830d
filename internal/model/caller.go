package model

// Role is the role claimed by an authenticated caller.
type Role string

const (
	RoleStudent     Role = "student"
	RoleInvigilator Role = "invigilator"
)

// Caller is the authenticated identity passed explicitly into every operation.
type Caller struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// IsStudent reports whether the caller claims the student role.
func (c Caller) IsStudent() bool { return c.Role == RoleStudent }

// IsInvigilator reports whether the caller claims the invigilator role.
func (c Caller) IsInvigilator() bool { return c.Role == RoleInvigilator }
