package worklist

import "errors"

var (
	ErrEmptyName           = errors.New("WorkList name cannot be empty")
	ErrDuplicateName       = errors.New("WorkList with this name already exists")
	ErrNotFound            = errors.New("WorkList not found")
	ErrDeleteNotFound      = errors.New("Worklist not found")
	ErrUserNotFound        = errors.New("User not found")
	ErrSubscriptionMissing = errors.New("Subscription not found")
	ErrSubscriptionFailed  = errors.New("Subscription failed to create")
	ErrOrdersNotInWorklist = errors.New("Orders not found in worklist")
	ErrPatientNotFound     = errors.New("Patient not found")
	ErrNoInvestigations    = errors.New("There are no investigations recorded for this patient")
	ErrInvalidRole         = errors.New("invalid role")
)

// errNoMembership is returned by MembershipRepository.Get for an absent row.
var errNoMembership = errors.New("membership not found")
