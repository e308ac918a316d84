// Package memory реализует хранилище реферальной системы в памяти процесса.
//
// Транзакции сериализуются одной блокировкой и работают над копией состояния,
// которая публикуется при фиксации и отбрасывается при откате. Используется
// в режиме разработки без PostgreSQL и в тестах.
//
// Внутри WithinTx нельзя обращаться к Store.Users и Store.Purchases: блокировка
// уже удерживается транзакцией.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/referral-system/internal/model"
	"github.com/mmeshcher/referral-system/internal/repository"
)

type state struct {
	users     map[string]model.User
	byEmail   map[string]string
	byCode    map[string]string
	purchases []model.Purchase
}

func newState() *state {
	return &state{
		users:   make(map[string]model.User),
		byEmail: make(map[string]string),
		byCode:  make(map[string]string),
	}
}

func (s *state) clone() *state {
	c := &state{
		users:     make(map[string]model.User, len(s.users)),
		byEmail:   make(map[string]string, len(s.byEmail)),
		byCode:    make(map[string]string, len(s.byCode)),
		purchases: append([]model.Purchase(nil), s.purchases...),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.byEmail {
		c.byEmail[k] = v
	}
	for k, v := range s.byCode {
		c.byCode[k] = v
	}
	return c
}

// Store хранит пользователей и покупки в памяти.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		state: newState(),
		now:   time.Now,
	}
}

// Close ничего не делает и существует для совместимости с repository.Store.
func (s *Store) Close() error {
	return nil
}

// Users возвращает реестр пользователей, читающий только зафиксированное состояние.
func (s *Store) Users() repository.UserLedger {
	return &users{view: s.committedView()}
}

// Purchases возвращает журнал покупок, читающий только зафиксированное состояние.
func (s *Store) Purchases() repository.PurchaseLedger {
	return &purchases{view: s.committedView()}
}

// WithinTx выполняет fn над копией состояния. Копия публикуется, только если fn вернула nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Unit) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	v := &view{
		now:  s.now,
		with: func(f func(st *state) error) error { return f(work) },
	}

	if err := fn(ctx, txUnit{view: v}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.state = work
	return nil
}

func (s *Store) committedView() *view {
	return &view{
		now: s.now,
		with: func(f func(st *state) error) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			return f(s.state)
		},
	}
}

// view задаёт, над каким состоянием выполняются операции и как оно защищено.
type view struct {
	now  func() time.Time
	with func(f func(st *state) error) error
}

type txUnit struct {
	view *view
}

func (u txUnit) Users() repository.UserLedger {
	return &users{view: u.view}
}

func (u txUnit) Purchases() repository.PurchaseLedger {
	return &purchases{view: u.view}
}

type users struct {
	view *view
}

func (r *users) find(lookup func(st *state) (string, bool)) (*model.User, error) {
	var found model.User
	err := r.view.with(func(st *state) error {
		id, ok := lookup(st)
		if !ok {
			return repository.ErrUserNotFound
		}
		u, ok := st.users[id]
		if !ok {
			return repository.ErrUserNotFound
		}
		found = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &found, nil
}

func (r *users) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.find(func(st *state) (string, bool) { return id, true })
}

// FindByIDForUpdate совпадает с FindByID: транзакция и так владеет всем состоянием.
func (r *users) FindByIDForUpdate(ctx context.Context, id string) (*model.User, error) {
	return r.FindByID(ctx, id)
}

func (r *users) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.find(func(st *state) (string, bool) {
		id, ok := st.byEmail[email]
		return id, ok
	})
}

func (r *users) FindByReferralCode(ctx context.Context, code string) (*model.User, error) {
	return r.find(func(st *state) (string, bool) {
		id, ok := st.byCode[code]
		return id, ok
	})
}

func (r *users) FindByReferralCodeForUpdate(ctx context.Context, code string) (*model.User, error) {
	return r.FindByReferralCode(ctx, code)
}

func (r *users) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.view.with(func(st *state) error {
		_, exists = st.byCode[code]
		return nil
	})
	return exists, err
}

func (r *users) Create(ctx context.Context, u *model.User) error {
	return r.view.with(func(st *state) error {
		if _, ok := st.byEmail[u.Email]; ok {
			return fmt.Errorf("%w: %s", repository.ErrUserExists, u.Email)
		}
		if _, ok := st.byCode[u.ReferralCode]; ok {
			return fmt.Errorf("%w: %s", repository.ErrReferralCodeTaken, u.ReferralCode)
		}
		if u.ID == "" {
			u.ID = uuid.NewString()
		}

		now := r.view.now()
		u.CreatedAt = now
		u.UpdatedAt = now

		st.users[u.ID] = *u
		st.byEmail[u.Email] = u.ID
		st.byCode[u.ReferralCode] = u.ID
		return nil
	})
}

func (r *users) Save(ctx context.Context, u *model.User) error {
	return r.view.with(func(st *state) error {
		stored, ok := st.users[u.ID]
		if !ok {
			return repository.ErrUserNotFound
		}
		if u.Credits < 0 {
			return fmt.Errorf("update user %s: negative credits", u.ID)
		}

		stored.Credits = u.Credits
		stored.HasConverted = stored.HasConverted || u.HasConverted
		stored.UpdatedAt = r.view.now()
		st.users[u.ID] = stored
		return nil
	})
}

func (r *users) CountReferred(ctx context.Context, code string) (int64, error) {
	return r.count(func(u model.User) bool { return u.ReferredBy == code })
}

func (r *users) CountConvertedReferred(ctx context.Context, code string) (int64, error) {
	return r.count(func(u model.User) bool { return u.ReferredBy == code && u.HasConverted })
}

func (r *users) count(match func(u model.User) bool) (int64, error) {
	var n int64
	err := r.view.with(func(st *state) error {
		for _, u := range st.users {
			if match(u) {
				n++
			}
		}
		return nil
	})
	return n, err
}

type purchases struct {
	view *view
}

func (r *purchases) Create(ctx context.Context, p *model.Purchase) error {
	return r.view.with(func(st *state) error {
		if _, ok := st.users[p.UserID]; !ok {
			return fmt.Errorf("%w: %s", repository.ErrUserNotFound, p.UserID)
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if !repository.ValidAmount(p.Amount) {
			p.Amount = 0
		}
		p.Amount = math.Round(p.Amount*100) / 100
		p.CreatedAt = r.view.now()
		st.purchases = append(st.purchases, *p)
		return nil
	})
}

func (r *purchases) ListByUser(ctx context.Context, userID string) ([]model.Purchase, error) {
	var res []model.Purchase
	err := r.view.with(func(st *state) error {
		for i := len(st.purchases) - 1; i >= 0; i-- {
			if st.purchases[i].UserID == userID {
				res = append(res, st.purchases[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}
