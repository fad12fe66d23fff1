package romaneio

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps romaneios in process memory. Transactions work on a
// private copy that replaces the shared state only when fn succeeds.
type MemoryStore struct {
	mu   sync.Mutex
	data memoryData
}

type memoryData struct {
	romaneios map[int64]Romaneio
	items     map[int64][]Item
	logs      map[int64][]Log
	nextID    int64
}

type memoryTx struct {
	data *memoryData
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: memoryData{
		romaneios: make(map[int64]Romaneio),
		items:     make(map[int64][]Item),
		logs:      make(map[int64][]Log),
	}}
}

func (d memoryData) clone() memoryData {
	out := memoryData{
		romaneios: make(map[int64]Romaneio, len(d.romaneios)),
		items:     make(map[int64][]Item, len(d.items)),
		logs:      make(map[int64][]Log, len(d.logs)),
		nextID:    d.nextID,
	}
	for id, r := range d.romaneios {
		out.romaneios[id] = r
	}
	for id, items := range d.items {
		out.items[id] = append([]Item(nil), items...)
	}
	for id, logs := range d.logs {
		out.logs[id] = append([]Log(nil), logs...)
	}
	return out
}

func (d *memoryData) next() int64 {
	d.nextID++
	return d.nextID
}

// WithTx serialises transactions and discards the copy when fn fails.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.data.clone()
	if err := fn(ctx, &memoryTx{data: &work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (Romaneio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.romaneios[id]
	if !ok {
		return Romaneio{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) GetByPurchaseOrder(ctx context.Context, purchaseOrder string) (Romaneio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.data.romaneios {
		if r.PurchaseOrder == purchaseOrder {
			return r, nil
		}
	}
	return Romaneio{}, ErrNotFound
}

func (s *MemoryStore) ListEligible(ctx context.Context) ([]Romaneio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Romaneio
	for _, r := range s.data.romaneios {
		if r.Status != StatusFinalized {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]Romaneio, int, error) {
	filter = filter.normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []Romaneio
	for _, r := range s.data.romaneios {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.PurchaseOrder != "" && !strings.Contains(r.PurchaseOrder, filter.PurchaseOrder) {
			continue
		}
		if filter.InvoiceNumber != "" && !strings.Contains(r.InvoiceNumber, filter.InvoiceNumber) {
			continue
		}
		matches = append(matches, r)
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})
	total := len(matches)
	start := filter.offset()
	if start > total {
		start = total
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

func (s *MemoryStore) Items(ctx context.Context, romaneioID int64) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Item(nil), s.data.items[romaneioID]...), nil
}

func (s *MemoryStore) Logs(ctx context.Context, romaneioID int64) ([]Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	logs := s.data.logs[romaneioID]
	out := make([]Log, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		out = append(out, logs[i])
	}
	return out, nil
}

func (s *MemoryStore) AppendLog(ctx context.Context, log Log) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memoryTx{data: &s.data}).InsertLog(ctx, log)
}

func (s *MemoryStore) Stats(ctx context.Context, maxAttempts int) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Stats{ByStatus: make(map[Status]int, len(Statuses))}
	for _, r := range s.data.romaneios {
		stats.Total++
		stats.ByStatus[r.Status]++
		if r.AttemptCount >= maxAttempts {
			stats.MaxAttemptsReached++
		}
	}
	return stats, nil
}

func (tx *memoryTx) LockRomaneio(ctx context.Context, id int64) (Romaneio, error) {
	r, ok := tx.data.romaneios[id]
	if !ok {
		return Romaneio{}, ErrNotFound
	}
	return r, nil
}

func (tx *memoryTx) Items(ctx context.Context, romaneioID int64) ([]Item, error) {
	return append([]Item(nil), tx.data.items[romaneioID]...), nil
}

func (tx *memoryTx) InsertRomaneio(ctx context.Context, r Romaneio) (int64, error) {
	for _, existing := range tx.data.romaneios {
		if existing.PurchaseOrder == r.PurchaseOrder {
			return 0, ErrDuplicatePurchaseOrder
		}
	}
	r.ID = tx.data.next()
	tx.data.romaneios[r.ID] = r
	return r.ID, nil
}

func (tx *memoryTx) UpdateRomaneio(ctx context.Context, r Romaneio) error {
	existing, ok := tx.data.romaneios[r.ID]
	if !ok {
		return ErrNotFound
	}
	existing.ExternalID = copyInt64(r.ExternalID)
	existing.Status = r.Status
	existing.AttemptCount = r.AttemptCount
	existing.UpdatedAt = r.UpdatedAt
	tx.data.romaneios[r.ID] = existing
	return nil
}

func (tx *memoryTx) DeleteRomaneio(ctx context.Context, id int64) error {
	if _, ok := tx.data.romaneios[id]; !ok {
		return ErrNotFound
	}
	delete(tx.data.romaneios, id)
	delete(tx.data.items, id)
	delete(tx.data.logs, id)
	return nil
}

func (tx *memoryTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	for _, existing := range tx.data.items[item.RomaneioID] {
		if existing.Code == item.Code {
			return 0, ErrValidation
		}
	}
	item.ID = tx.data.next()
	tx.data.items[item.RomaneioID] = append(tx.data.items[item.RomaneioID], item)
	return item.ID, nil
}

func (tx *memoryTx) UpdateItem(ctx context.Context, item Item) error {
	items := tx.data.items[item.RomaneioID]
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			return nil
		}
	}
	return ErrNotFound
}

func (tx *memoryTx) InsertLog(ctx context.Context, log Log) (int64, error) {
	if _, ok := tx.data.romaneios[log.RomaneioID]; !ok {
		return 0, ErrNotFound
	}
	log.ID = tx.data.next()
	tx.data.logs[log.RomaneioID] = append(tx.data.logs[log.RomaneioID], log)
	return log.ID, nil
}
