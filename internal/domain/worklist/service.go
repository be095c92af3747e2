package worklist

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/restrack/restrack/internal/domain/order"
	"github.com/restrack/restrack/internal/platform/metrics"
)

// Transactor runs fn as one atomic unit of work.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserDirectory answers the identity questions the worklist service needs.
type UserDirectory interface {
	UserExists(ctx context.Context, id int64) (bool, error)
}

type Service struct {
	tx          Transactor
	worklists   WorklistRepository
	subs        SubscriptionRepository
	memberships MembershipRepository
	users       UserDirectory
	orders      order.Source
	log         zerolog.Logger
}

func NewService(tx Transactor, wl WorklistRepository, subs SubscriptionRepository, members MembershipRepository,
	users UserDirectory, orders order.Source, logger zerolog.Logger) *Service {
	return &Service{
		tx:          tx,
		worklists:   wl,
		subs:        subs,
		memberships: members,
		users:       users,
		orders:      orders,
		log:         logger,
	}
}

// mutate runs fn in a transaction and counts the outcome under op.
func (s *Service) mutate(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := s.tx.InTx(ctx, fn)
	metrics.WorklistMutation(op, err)
	return err
}

// -- Worklists --

// CreateWorklist stores the worklist and subscribes its owner in the same
// transaction.
func (s *Service) CreateWorklist(ctx context.Context, name string, description *string, ownerID int64) (*WorkList, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	wl := &WorkList{Name: name, Description: description, CreatedBy: ownerID}
	err := s.mutate(ctx, "create_worklist", func(ctx context.Context) error {
		if err := s.ensureNameFree(ctx, name, 0); err != nil {
			return err
		}
		if err := s.worklists.Create(ctx, wl); err != nil {
			return err
		}
		return s.subs.Add(ctx, &Subscription{UserID: ownerID, WorklistID: wl.ID, Role: RoleRead})
	})
	if err != nil {
		return nil, err
	}
	return wl, nil
}

// ensureNameFree fails with ErrDuplicateName if another worklist holds name.
func (s *Service) ensureNameFree(ctx context.Context, name string, selfID int64) error {
	existing, err := s.worklists.GetByName(ctx, name)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != selfID:
		return ErrDuplicateName
	}
	return nil
}

func (s *Service) GetWorklist(ctx context.Context, id int64) (*WorkList, error) {
	return s.worklists.GetByID(ctx, id)
}

// UpdateWorklist renames and/or redescribes a worklist. Nil fields are left as they are.
func (s *Service) UpdateWorklist(ctx context.Context, id int64, name, description *string) (*WorkList, error) {
	if name != nil && *name == "" {
		return nil, ErrEmptyName
	}
	var wl *WorkList
	err := s.mutate(ctx, "update_worklist", func(ctx context.Context) error {
		var err error
		wl, err = s.worklists.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if name != nil && *name != wl.Name {
			if err := s.ensureNameFree(ctx, *name, id); err != nil {
				return err
			}
			wl.Name = *name
		}
		if description != nil {
			wl.Description = description
		}
		return s.worklists.Update(ctx, wl)
	})
	if err != nil {
		return nil, err
	}
	return wl, nil
}

func (s *Service) ListAll(ctx context.Context, limit, offset int) ([]*WorkList, int, error) {
	return s.worklists.ListAll(ctx, limit, offset)
}

func (s *Service) ListSubscribed(ctx context.Context, userID int64) ([]*WorkList, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.worklists.ListSubscribed(ctx, userID)
}

func (s *Service) ListUnsubscribed(ctx context.Context, userID int64) ([]*WorkList, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.worklists.ListUnsubscribed(ctx, userID)
}

func (s *Service) requireUser(ctx context.Context, userID int64) error {
	ok, err := s.users.UserExists(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}

// DeleteWorklist removes subscriptions, memberships and the worklist in one
// transaction. Nothing is removed if the worklist does not exist.
func (s *Service) DeleteWorklist(ctx context.Context, id int64) error {
	return s.mutate(ctx, "delete_worklist", func(ctx context.Context) error {
		if _, err := s.subs.DeleteByWorklist(ctx, id); err != nil {
			return err
		}
		if _, err := s.memberships.DeleteByWorklist(ctx, id); err != nil {
			return err
		}
		return s.worklists.Delete(ctx, id)
	})
}

// Stats reports distinct orders and distinct active patients. It never
// fails: a warehouse error degrades the patient count to 1 and a local
// error yields zeros.
func (s *Service) Stats(ctx context.Context, id int64) Stats {
	members, err := s.memberships.ListByWorklist(ctx, id)
	if err != nil {
		s.log.Error().Err(err).Int64("worklist_id", id).Msg("worklist stats: local query failed")
		return Stats{}
	}
	ids := distinctOrderIDs(members)
	if len(ids) == 0 {
		return Stats{}
	}
	patients, err := s.orders.CountActivePatients(ctx, ids)
	if err != nil {
		s.log.Warn().Err(err).Int64("worklist_id", id).Msg("worklist stats: warehouse unavailable, patient count degraded")
		return Stats{OrderCount: len(ids), PatientCount: 1}
	}
	if patients == 0 {
		return Stats{}
	}
	return Stats{OrderCount: len(ids), PatientCount: patients}
}

func distinctOrderIDs(members []Membership) []int64 {
	seen := make(map[int64]bool, len(members))
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if !seen[m.OrderID] {
			seen[m.OrderID] = true
			ids = append(ids, m.OrderID)
		}
	}
	return ids
}

// -- Subscriptions --

// Subscribe is idempotent: an existing subscription is left as it is.
func (s *Service) Subscribe(ctx context.Context, userID, worklistID int64, role Role) error {
	if role == "" {
		role = RoleRead
	}
	return s.mutate(ctx, "subscribe", func(ctx context.Context) error {
		if _, err := s.worklists.GetByID(ctx, worklistID); err != nil {
			return err
		}
		if err := s.requireUser(ctx, userID); err != nil {
			return err
		}
		if err := s.subs.Add(ctx, &Subscription{UserID: userID, WorklistID: worklistID, Role: role}); err != nil {
			return err
		}
		if _, err := s.subs.Get(ctx, userID, worklistID); err != nil {
			if errors.Is(err, ErrSubscriptionMissing) {
				return ErrSubscriptionFailed
			}
			return err
		}
		return nil
	})
}

func (s *Service) Unsubscribe(ctx context.Context, userID, worklistID int64) (*Subscription, error) {
	var sub *Subscription
	err := s.mutate(ctx, "unsubscribe", func(ctx context.Context) error {
		var err error
		sub, err = s.subs.Remove(ctx, userID, worklistID)
		return err
	})
	return sub, err
}

// -- Memberships --

// AddOrders places each order on the worklist with default metadata. Orders
// already present are untouched. Any failure rolls back the whole batch.
func (s *Service) AddOrders(ctx context.Context, worklistID int64, orderIDs []int64) error {
	return s.mutate(ctx, "add_orders", func(ctx context.Context) error {
		for _, id := range orderIDs {
			if err := s.memberships.AddIfAbsent(ctx, defaultMembership(worklistID, id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) RemoveOrders(ctx context.Context, worklistID int64, orderIDs []int64) ([]Membership, error) {
	var removed []Membership
	err := s.mutate(ctx, "remove_orders", func(ctx context.Context) error {
		var err error
		removed, err = s.memberships.Remove(ctx, worklistID, orderIDs)
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			return ErrOrdersNotInWorklist
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// CopyOrders writes each order into target with the status, priority and
// note it has in source, overwriting target's metadata. Orders absent from
// source land with defaults.
func (s *Service) CopyOrders(ctx context.Context, sourceID, targetID int64, orderIDs []int64) error {
	return s.mutate(ctx, "copy_orders", func(ctx context.Context) error {
		for _, id := range orderIDs {
			m := defaultMembership(targetID, id)
			src, err := s.memberships.Get(ctx, sourceID, id)
			switch {
			case errors.Is(err, errNoMembership):
			case err != nil:
				return err
			default:
				m.Status, m.Priority, m.UserNote = src.Status, src.Priority, src.UserNote
			}
			if err := s.memberships.Upsert(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// CopyWorklist adds every order of source that target lacks, carrying its
// metadata. Orders already in target keep theirs.
func (s *Service) CopyWorklist(ctx context.Context, sourceID, targetID int64) error {
	return s.mutate(ctx, "copy_worklist", func(ctx context.Context) error {
		members, err := s.memberships.ListByWorklist(ctx, sourceID)
		if err != nil {
			return err
		}
		for _, m := range members {
			m.WorklistID = targetID
			if err := s.memberships.AddIfAbsent(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetStatus updates the status of each order on every worklist holding it.
func (s *Service) SetStatus(ctx context.Context, orderIDs []int64, status string) error {
	return s.mutate(ctx, "set_status", func(ctx context.Context) error {
		return s.memberships.SetStatus(ctx, orderIDs, status)
	})
}

// SetPriority updates the priority of each order on every worklist holding it.
func (s *Service) SetPriority(ctx context.Context, orderIDs []int64, priority int) error {
	return s.mutate(ctx, "set_priority", func(ctx context.Context) error {
		return s.memberships.SetPriority(ctx, orderIDs, priority)
	})
}

// SetNote changes the note only within worklistID.
func (s *Service) SetNote(ctx context.Context, worklistID int64, orderIDs []int64, note string) error {
	return s.mutate(ctx, "set_note", func(ctx context.Context) error {
		return s.memberships.SetNote(ctx, worklistID, orderIDs, note)
	})
}

// -- Order views --

// OrdersForWorklist returns the worklist's active warehouse orders with all
// of its memberships. An empty worklist skips the warehouse.
func (s *Service) OrdersForWorklist(ctx context.Context, worklistID int64) (*OrderView, error) {
	members, err := s.memberships.ListByWorklist(ctx, worklistID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return &OrderView{Orders: []*order.Order{}, Statuses: []Membership{}}, nil
	}
	orders, err := s.orders.ListActiveByIDs(ctx, distinctOrderIDs(members))
	if err != nil {
		return nil, err
	}
	return &OrderView{Orders: orders, Statuses: members}, nil
}

// OrdersForPatient returns the patient's active orders, newest event first,
// each paired with its first local membership or empty defaults.
func (s *Service) OrdersForPatient(ctx context.Context, patientID int64) (*OrderView, error) {
	exists, err := s.orders.PatientExists(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrPatientNotFound
	}
	orders, err := s.orders.ListActiveByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ErrNoInvestigations
	}

	ids := make([]int64, len(orders))
	for i, o := range orders {
		ids[i] = o.OrderID
	}
	first, err := s.memberships.FirstByOrders(ctx, ids)
	if err != nil {
		return nil, err
	}
	statuses := make([]Membership, len(orders))
	for i, o := range orders {
		m, ok := first[o.OrderID]
		if !ok {
			m = Membership{OrderID: o.OrderID}
		}
		statuses[i] = m
	}
	return &OrderView{Orders: orders, Statuses: statuses}, nil
}
