package worklist

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/restrack/restrack/internal/domain/identity"
	"github.com/restrack/restrack/internal/domain/order"
)

type memberKey struct{ worklistID, orderID int64 }
type subKey struct{ userID, worklistID int64 }

// memState is the whole local store. The mock transactor snapshots it and
// restores it when a unit of work fails.
type memState struct {
	worklists map[int64]WorkList
	subs      map[subKey]Subscription
	members   map[memberKey]Membership
	nextID    int64
}

func (s memState) clone() memState {
	out := memState{
		worklists: make(map[int64]WorkList, len(s.worklists)),
		subs:      make(map[subKey]Subscription, len(s.subs)),
		members:   make(map[memberKey]Membership, len(s.members)),
		nextID:    s.nextID,
	}
	for k, v := range s.worklists {
		out.worklists[k] = v
	}
	for k, v := range s.subs {
		out.subs[k] = v
	}
	for k, v := range s.members {
		out.members[k] = v
	}
	return out
}

type memStore struct {
	mu    sync.Mutex
	state memState
	// failAddOrder makes AddIfAbsent and Upsert fail for that order id.
	failAddOrder int64
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		worklists: map[int64]WorkList{},
		subs:      map[subKey]Subscription{},
		members:   map[memberKey]Membership{},
	}}
}

var errInjected = errors.New("injected failure")

// -- Transactor --

type memTx struct{ store *memStore }

func (t memTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.store.mu.Lock()
	snapshot := t.store.state.clone()
	t.store.mu.Unlock()

	if err := fn(ctx); err != nil {
		t.store.mu.Lock()
		t.store.state = snapshot
		t.store.mu.Unlock()
		return err
	}
	return nil
}

// -- WorklistRepository --

type memWorklists struct{ *memStore }

func (m memWorklists) Create(_ context.Context, wl *WorkList) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.state.worklists {
		if existing.Name == wl.Name {
			return ErrDuplicateName
		}
	}
	m.state.nextID++
	wl.ID = m.state.nextID
	wl.CreatedAt = time.Now()
	wl.UpdatedAt = wl.CreatedAt
	m.state.worklists[wl.ID] = *wl
	return nil
}

func (m memWorklists) GetByID(_ context.Context, id int64) (*WorkList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wl, ok := m.state.worklists[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &wl, nil
}

func (m memWorklists) GetByName(_ context.Context, name string) (*WorkList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, wl := range m.state.worklists {
		if wl.Name == name {
			cp := wl
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m memWorklists) Update(_ context.Context, wl *WorkList) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.worklists[wl.ID]; !ok {
		return ErrNotFound
	}
	wl.UpdatedAt = time.Now()
	m.state.worklists[wl.ID] = *wl
	return nil
}

func (m memWorklists) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.worklists[id]; !ok {
		return ErrDeleteNotFound
	}
	delete(m.state.worklists, id)
	return nil
}

func (m memWorklists) sorted(keep func(WorkList) bool) []*WorkList {
	out := []*WorkList{}
	for _, wl := range m.state.worklists {
		if keep(wl) {
			cp := wl
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m memWorklists) ListAll(_ context.Context, limit, offset int) ([]*WorkList, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(func(WorkList) bool { return true })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m memWorklists) ListSubscribed(_ context.Context, userID int64) ([]*WorkList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(wl WorkList) bool {
		_, ok := m.state.subs[subKey{userID, wl.ID}]
		return ok
	}), nil
}

func (m memWorklists) ListUnsubscribed(_ context.Context, userID int64) ([]*WorkList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(wl WorkList) bool {
		_, ok := m.state.subs[subKey{userID, wl.ID}]
		return !ok
	}), nil
}

// -- SubscriptionRepository --

type memSubs struct{ *memStore }

func (m memSubs) Add(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := subKey{sub.UserID, sub.WorklistID}
	if _, ok := m.state.subs[k]; !ok {
		m.state.subs[k] = *sub
	}
	return nil
}

func (m memSubs) Get(_ context.Context, userID, worklistID int64) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state.subs[subKey{userID, worklistID}]
	if !ok {
		return nil, ErrSubscriptionMissing
	}
	return &s, nil
}

func (m memSubs) Remove(_ context.Context, userID, worklistID int64) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := subKey{userID, worklistID}
	s, ok := m.state.subs[k]
	if !ok {
		return nil, ErrSubscriptionMissing
	}
	delete(m.state.subs, k)
	return &s, nil
}

func (m memSubs) DeleteByWorklist(_ context.Context, worklistID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.state.subs {
		if k.worklistID == worklistID {
			delete(m.state.subs, k)
			n++
		}
	}
	return n, nil
}

// -- MembershipRepository --

type memMembers struct{ *memStore }

func (m memMembers) AddIfAbsent(_ context.Context, mb Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAddOrder != 0 && mb.OrderID == m.failAddOrder {
		return errInjected
	}
	k := memberKey{mb.WorklistID, mb.OrderID}
	if _, ok := m.state.members[k]; !ok {
		m.state.members[k] = mb
	}
	return nil
}

func (m memMembers) Upsert(_ context.Context, mb Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAddOrder != 0 && mb.OrderID == m.failAddOrder {
		return errInjected
	}
	m.state.members[memberKey{mb.WorklistID, mb.OrderID}] = mb
	return nil
}

func (m memMembers) Get(_ context.Context, worklistID, orderID int64) (*Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.state.members[memberKey{worklistID, orderID}]
	if !ok {
		return nil, errNoMembership
	}
	return &mb, nil
}

func (m memMembers) filtered(keep func(Membership) bool) []Membership {
	out := []Membership{}
	for _, mb := range m.state.members {
		if keep(mb) {
			out = append(out, mb)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderID != out[j].OrderID {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].WorklistID < out[j].WorklistID
	})
	return out
}

func (m memMembers) ListByWorklist(_ context.Context, worklistID int64) ([]Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filtered(func(mb Membership) bool { return mb.WorklistID == worklistID }), nil
}

func (m memMembers) FirstByOrders(_ context.Context, orderIDs []int64) (map[int64]Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := toSet(orderIDs)
	out := map[int64]Membership{}
	for _, mb := range m.filtered(func(mb Membership) bool { return want[mb.OrderID] }) {
		if _, ok := out[mb.OrderID]; !ok {
			out[mb.OrderID] = mb
		}
	}
	return out, nil
}

func (m memMembers) Remove(_ context.Context, worklistID int64, orderIDs []int64) ([]Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := toSet(orderIDs)
	removed := m.filtered(func(mb Membership) bool { return mb.WorklistID == worklistID && want[mb.OrderID] })
	for _, mb := range removed {
		delete(m.state.members, memberKey{mb.WorklistID, mb.OrderID})
	}
	return removed, nil
}

func (m memMembers) DeleteByWorklist(_ context.Context, worklistID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.state.members {
		if k.worklistID == worklistID {
			delete(m.state.members, k)
			n++
		}
	}
	return n, nil
}

func (m memMembers) update(keep func(memberKey) bool, apply func(*Membership)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, mb := range m.state.members {
		if keep(k) {
			apply(&mb)
			m.state.members[k] = mb
		}
	}
}

func (m memMembers) SetStatus(_ context.Context, orderIDs []int64, status string) error {
	want := toSet(orderIDs)
	m.update(func(k memberKey) bool { return want[k.orderID] }, func(mb *Membership) { mb.Status = status })
	return nil
}

func (m memMembers) SetPriority(_ context.Context, orderIDs []int64, priority int) error {
	want := toSet(orderIDs)
	m.update(func(k memberKey) bool { return want[k.orderID] }, func(mb *Membership) { mb.Priority = priority })
	return nil
}

func (m memMembers) SetNote(_ context.Context, worklistID int64, orderIDs []int64, note string) error {
	want := toSet(orderIDs)
	m.update(func(k memberKey) bool { return k.worklistID == worklistID && want[k.orderID] },
		func(mb *Membership) { mb.UserNote = note })
	return nil
}

func toSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// -- UserDirectory --

type fakeUsers map[int64]string

func (f fakeUsers) UserExists(_ context.Context, id int64) (bool, error) {
	_, ok := f[id]
	return ok, nil
}

func (f fakeUsers) UserIDByUsername(_ context.Context, username string) (int64, error) {
	for id, name := range f {
		if name == username {
			return id, nil
		}
	}
	return 0, identity.ErrNotFound
}

// -- order.Source --

type fakeWarehouse struct {
	orders []*order.Order
	err    error
	calls  int
}

func (w *fakeWarehouse) ListActiveByIDs(_ context.Context, ids []int64) ([]*order.Order, error) {
	w.calls++
	if w.err != nil {
		return nil, w.err
	}
	want := toSet(ids)
	out := []*order.Order{}
	for _, o := range w.orders {
		if want[o.OrderID] && o.Active() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (w *fakeWarehouse) PatientExists(_ context.Context, patientID int64) (bool, error) {
	w.calls++
	if w.err != nil {
		return false, w.err
	}
	for _, o := range w.orders {
		if o.PatientID == patientID {
			return true, nil
		}
	}
	return false, nil
}

func (w *fakeWarehouse) ListActiveByPatient(_ context.Context, patientID int64) ([]*order.Order, error) {
	w.calls++
	if w.err != nil {
		return nil, w.err
	}
	out := []*order.Order{}
	for _, o := range w.orders {
		if o.PatientID == patientID && o.Active() {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EventDatetime.After(*out[j].EventDatetime)
	})
	return out, nil
}

func (w *fakeWarehouse) CountActivePatients(_ context.Context, ids []int64) (int, error) {
	w.calls++
	if w.err != nil {
		return 0, w.err
	}
	want := toSet(ids)
	patients := map[int64]bool{}
	for _, o := range w.orders {
		if want[o.OrderID] && o.Active() {
			patients[o.PatientID] = true
		}
	}
	return len(patients), nil
}

func (w *fakeWarehouse) Ping(context.Context) error { return w.err }
