package worklist

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/restrack/restrack/internal/domain/order"
)

type WorkList struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Role is a subscriber's access level on a worklist. It is recorded but
// not enforced.
type Role string

const (
	RoleDeny  Role = "DENY"
	RoleRead  Role = "READ"
	RoleWrite Role = "WRITE"
	RoleAdmin Role = "ADMIN"
)

// ParseRole matches case-insensitively. An empty string yields RoleRead.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RoleRead, nil
	}
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleDeny, RoleRead, RoleWrite, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Subscription links a user to a worklist. At most one per pair.
type Subscription struct {
	UserID     int64 `json:"user_id"`
	WorklistID int64 `json:"worklist_id"`
	Role       Role  `json:"role"`
}

// Membership places a warehouse order on a worklist with its local
// annotations. At most one per (order, worklist).
type Membership struct {
	OrderID    int64  `json:"order_id"`
	WorklistID int64  `json:"worklist_id"`
	Status     string `json:"status"`
	Priority   int    `json:"priority"`
	UserNote   string `json:"user_note"`
}

// defaultMembership is what an order carries when it is placed on a
// worklist without copied metadata.
func defaultMembership(worklistID, orderID int64) Membership {
	return Membership{OrderID: orderID, WorklistID: worklistID}
}

// OrderView pairs warehouse orders with their local annotations. Entries
// are matched by order_id.
type OrderView struct {
	Orders   []*order.Order `json:"orders"`
	Statuses []Membership   `json:"statuses"`
}

// Stats is serialised as [order_count, patient_count].
type Stats struct {
	OrderCount   int
	PatientCount int
}

func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{s.OrderCount, s.PatientCount})
}
