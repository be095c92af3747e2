package order

import (
	"encoding/json"
	"time"
)

// Order is one investigation order as held by the clinical warehouse. The
// service never writes these rows.
type Order struct {
	OrderID       int64      `db:"order_id" json:"order_id"`
	PatientID     int64      `db:"patient_id" json:"patient_id"`
	ProcName      string     `db:"proc_name" json:"proc_name"`
	OrderDatetime *time.Time `db:"order_datetime" json:"order_datetime"`
	EventDatetime *time.Time `db:"event_datetime" json:"event_datetime"`
	InProgress    *time.Time `db:"in_progress" json:"in_progress"`
	Partial       *time.Time `db:"partial" json:"partial"`
	Complete      *time.Time `db:"complete" json:"complete"`
	Cancelled     *time.Time `db:"cancelled" json:"cancelled"`
}

// Active reports whether the order has not been cancelled.
func (o *Order) Active() bool {
	return o.Cancelled == nil
}

// Progress returns the furthest lifecycle stage the order has reached.
func (o *Order) Progress() string {
	switch {
	case !o.Active():
		return "cancelled"
	case o.Complete != nil:
		return "complete"
	case o.Partial != nil:
		return "partial"
	case o.InProgress != nil:
		return "in progress"
	default:
		return "ordered"
	}
}

// MarshalJSON adds the derived progress label.
func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	return json.Marshal(struct {
		plain
		Progress string `json:"progress"`
	}{plain(o), o.Progress()})
}
