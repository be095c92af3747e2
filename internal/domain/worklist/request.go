package worklist

import (
	"errors"
)

// validator is implemented by every request body.
type validator interface {
	validate() error
}

func checkOrderIDs(ids []int64) error {
	for _, id := range ids {
		if id <= 0 {
			return errors.New("order_ids must be positive integers")
		}
	}
	return nil
}

func checkID(name string, id int64) error {
	if id <= 0 {
		return errors.New(name + " must be a positive integer")
	}
	return nil
}

type createRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	CreatedBy   int64   `json:"created_by"`
}

func (r *createRequest) validate() error {
	if r.Name == "" {
		return ErrEmptyName
	}
	return nil
}

type updateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (r *updateRequest) validate() error {
	if r.Name != nil && *r.Name == "" {
		return ErrEmptyName
	}
	return nil
}

type subscriptionRequest struct {
	UserID     int64 `json:"user_id"`
	WorklistID int64 `json:"worklist_id"`
	Role       Role  `json:"role,omitempty"`
}

func (r *subscriptionRequest) validate() error {
	if err := checkID("user_id", r.UserID); err != nil {
		return err
	}
	return checkID("worklist_id", r.WorklistID)
}

type ordersRequest struct {
	WorklistID int64   `json:"worklist_id"`
	OrderIDs   []int64 `json:"order_ids"`
}

func (r *ordersRequest) validate() error {
	if err := checkID("worklist_id", r.WorklistID); err != nil {
		return err
	}
	return checkOrderIDs(r.OrderIDs)
}

type statusRequest struct {
	Action   string  `json:"action"`
	OrderIDs []int64 `json:"order_ids"`
}

func (r *statusRequest) validate() error { return checkOrderIDs(r.OrderIDs) }

type priorityRequest struct {
	Priority int     `json:"priority"`
	OrderIDs []int64 `json:"order_ids"`
}

func (r *priorityRequest) validate() error { return checkOrderIDs(r.OrderIDs) }

type noteRequest struct {
	NoteText   string  `json:"note_text"`
	WorklistID int64   `json:"worklist_id"`
	OrderIDs   []int64 `json:"order_ids"`
}

func (r *noteRequest) validate() error {
	if err := checkID("worklist_id", r.WorklistID); err != nil {
		return err
	}
	return checkOrderIDs(r.OrderIDs)
}

type copyOrdersRequest struct {
	Source   int64   `json:"source_worklist_id"`
	Target   int64   `json:"target_worklist_id"`
	OrderIDs []int64 `json:"order_ids"`
}

func (r *copyOrdersRequest) validate() error {
	if err := checkID("source_worklist_id", r.Source); err != nil {
		return err
	}
	if err := checkID("target_worklist_id", r.Target); err != nil {
		return err
	}
	return checkOrderIDs(r.OrderIDs)
}

// copyWorklistRequest keeps the field names older clients send.
type copyWorklistRequest struct {
	Source int64 `json:"worklist_to_copy_from"`
	Target int64 `json:"current_worklist"`
}

func (r *copyWorklistRequest) validate() error {
	if err := checkID("worklist_to_copy_from", r.Source); err != nil {
		return err
	}
	return checkID("current_worklist", r.Target)
}
