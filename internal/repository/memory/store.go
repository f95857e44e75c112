// Package memory is an in-process inventory store with the same semantics as
// the PostgreSQL store. Transactions are serialised by one mutex and applied
// to a copy of the state, so a failed transaction leaves nothing behind.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kkkkikiki/burnpromo/internal/model"
	"github.com/kkkkikiki/burnpromo/internal/repository"
)

// Store implements repository.Store in memory
type Store struct {
	mu    sync.Mutex
	state *state
}

var _ repository.Store = (*Store)(nil)

type state struct {
	codes       map[uuid.UUID]model.PromoCode
	hashes      map[string]uuid.UUID
	redemptions []model.Redemption
	byTx        map[string]int
	audit       []model.AuditEntry
}

// New creates an empty store
func New() *Store {
	return &Store{state: &state{
		codes:  make(map[uuid.UUID]model.PromoCode),
		hashes: make(map[string]uuid.UUID),
		byTx:   make(map[string]int),
	}}
}

func (s *state) clone() *state {
	c := &state{
		codes:       make(map[uuid.UUID]model.PromoCode, len(s.codes)),
		hashes:      make(map[string]uuid.UUID, len(s.hashes)),
		redemptions: append([]model.Redemption(nil), s.redemptions...),
		byTx:        make(map[string]int, len(s.byTx)),
		audit:       append([]model.AuditEntry(nil), s.audit...),
	}
	for k, v := range s.codes {
		c.codes[k] = v
	}
	for k, v := range s.hashes {
		c.hashes[k] = v
	}
	for k, v := range s.byTx {
		c.byTx[k] = v
	}
	return c
}

// InTx runs fn against a private copy of the state and publishes it when fn
// succeeds
func (s *Store) InTx(ctx context.Context, fn func(tx repository.InventoryTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(&memTx{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

type memTx struct {
	state *state
}

func (t *memTx) SelectAvailableCode(_ context.Context, campaign string, now time.Time) (*model.PromoCode, error) {
	var candidates []model.PromoCode
	for _, code := range t.state.codes {
		if code.Selectable(now) && code.InCampaign(campaign) {
			candidates = append(candidates, code)
		}
	}
	if len(candidates) == 0 {
		return nil, repository.ErrNoAvailableCode
	}
	sortCodes(candidates)
	code := candidates[0]
	return &code, nil
}

func (t *memTx) UpdateCodeUsage(_ context.Context, id uuid.UUID, prevUsed, used int, status model.CodeStatus, now time.Time) error {
	code, ok := t.state.codes[id]
	if !ok || code.UsedCount != prevUsed {
		return repository.ErrConflict
	}
	if used > code.MaxUses {
		return fmt.Errorf("used_count %d exceeds max_uses %d", used, code.MaxUses)
	}
	code.UsedCount = used
	code.Status = status
	code.UpdatedAt = now
	t.state.codes[id] = code
	return nil
}

func (t *memTx) InsertRedemption(_ context.Context, r *model.Redemption) error {
	if _, ok := t.state.byTx[r.TxHash]; ok {
		return repository.ErrDuplicateTxHash
	}
	t.state.byTx[r.TxHash] = len(t.state.redemptions)
	t.state.redemptions = append(t.state.redemptions, *r)
	return nil
}

func (t *memTx) DeactivateCode(_ context.Context, id uuid.UUID, now time.Time) error {
	code, ok := t.state.codes[id]
	if !ok {
		return repository.ErrNotFound
	}
	code.IsActive = false
	code.UpdatedAt = now
	t.state.codes[id] = code
	return nil
}

func (t *memTx) AppendAudit(_ context.Context, e *model.AuditEntry) error {
	t.state.audit = append(t.state.audit, *e)
	return nil
}

func (s *Store) LatestRedemption(_ context.Context, wallet string) (*model.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.latest(func(r *model.Redemption) bool { return r.WalletAddress == wallet })
}

func (s *Store) RedemptionByTxHash(_ context.Context, txHash string) (*model.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.state.byTx[txHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	r := s.state.redemptions[i]
	return &r, nil
}

func (s *Store) InsertCode(_ context.Context, code *model.PromoCode) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.hashes[code.CodeHash]; ok {
		return false, nil
	}
	if code.MaxUses < 1 || code.UsedCount > code.MaxUses {
		return false, fmt.Errorf("invalid usage bounds %d/%d", code.UsedCount, code.MaxUses)
	}
	s.state.codes[code.ID] = *code
	s.state.hashes[code.CodeHash] = code.ID
	return true, nil
}

func (s *Store) AppendAudit(_ context.Context, e *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.audit = append(s.state.audit, *e)
	return nil
}

func (s *Store) GetCode(_ context.Context, id uuid.UUID) (*model.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.state.codes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &code, nil
}

func (s *Store) CountCodesByStatus(_ context.Context) (map[model.CodeStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[model.CodeStatus]int64)
	for _, code := range s.state.codes {
		counts[code.Status]++
	}
	return counts, nil
}

func (s *Store) CountRedemptions(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.state.redemptions)), nil
}

func (s *Store) ListRedemptions(_ context.Context, offset, limit int) ([]model.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := append([]model.Redemption(nil), s.state.redemptions...)
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() > all[j].ID.String()
	})
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *Store) ListCodes(_ context.Context, offset, limit int) ([]model.CodeReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]model.PromoCode, 0, len(s.state.codes))
	for _, code := range s.state.codes {
		all = append(all, code)
	}
	sortCodes(all)
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	reports := make([]model.CodeReport, 0, end-offset)
	for _, code := range all[offset:end] {
		code.EncryptedCode = ""
		report := model.CodeReport{PromoCode: code}
		var first *model.Redemption
		for i := range s.state.redemptions {
			r := &s.state.redemptions[i]
			if r.PromoCodeID == code.ID && (first == nil || r.CreatedAt.Before(first.CreatedAt)) {
				first = r
			}
		}
		if first != nil {
			wallet, at := first.WalletAddress, first.CreatedAt
			report.RedeemedBy = &wallet
			report.RedeemedAt = &at
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (s *Store) SearchRedemption(_ context.Context, query string) (*model.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.latest(func(r *model.Redemption) bool {
		return r.WalletAddress == query || r.TxHash == query
	})
}

func (s *Store) ExpireCodes(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, code := range s.state.codes {
		if code.Status == model.StatusAvailable && code.ExpiresAt != nil && !code.ExpiresAt.After(now) {
			code.Status = model.StatusExpired
			code.UpdatedAt = now
			s.state.codes[id] = code
			n++
		}
	}
	return n, nil
}

func (s *Store) ResolveLegacyAllocated(_ context.Context, policy repository.LegacyPolicy, now time.Time) (int64, error) {
	if policy != repository.LegacyAsRedeemed && policy != repository.LegacyAsAvailable {
		return 0, fmt.Errorf("unknown legacy policy %q", policy)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, code := range s.state.codes {
		if code.Status != model.StatusAllocated {
			continue
		}
		switch {
		case policy == repository.LegacyAsRedeemed:
			code.Status = model.StatusRedeemed
			code.UsedCount = code.MaxUses
		case code.UsedCount >= code.MaxUses:
			code.Status = model.StatusRedeemed
		default:
			code.Status = model.StatusAvailable
		}
		code.UpdatedAt = now
		s.state.codes[id] = code
		n++
	}
	return n, nil
}

// Redemptions returns a copy of every redemption in insertion order
func (s *Store) Redemptions() []model.Redemption {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]model.Redemption(nil), s.state.redemptions...)
}

// Audit returns a copy of the audit log
func (s *Store) Audit() []model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]model.AuditEntry(nil), s.state.audit...)
}

// PutCode stores a code as-is, bypassing import checks. Intended for tests
// that need legacy or inconsistent rows.
func (s *Store) PutCode(code model.PromoCode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.codes[code.ID] = code
	s.state.hashes[code.CodeHash] = code.ID
}

func (s *Store) latest(match func(r *model.Redemption) bool) (*model.Redemption, error) {
	var found *model.Redemption
	for i := range s.state.redemptions {
		r := &s.state.redemptions[i]
		if !match(r) {
			continue
		}
		if found == nil || !r.CreatedAt.Before(found.CreatedAt) {
			found = r
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	out := *found
	return &out, nil
}

func sortCodes(codes []model.PromoCode) {
	sort.Slice(codes, func(i, j int) bool {
		if !codes[i].CreatedAt.Equal(codes[j].CreatedAt) {
			return codes[i].CreatedAt.Before(codes[j].CreatedAt)
		}
		return strings.Compare(codes[i].ID.String(), codes[j].ID.String()) < 0
	})
}
