package position

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stakedex/pkg/app/core/state"
)

var (
	ErrNotFound     = errors.New("position: not found")
	ErrUnauthorized = errors.New("position: caller is not owner")
	ErrZeroAddress  = errors.New("position: zero address")
)

// Store holds position records and the ownership registry. Ownership is
// enumerable per owner; ids start at 1 and are never reused.
type Store struct {
	j       *state.Journal
	records map[uint64]Position
	owners  map[uint64]common.Address
	owned   map[common.Address][]uint64
	slot    map[uint64]int
	nextID  uint64
}

func NewStore(j *state.Journal) *Store {
	return &Store{
		j:       j,
		records: make(map[uint64]Position),
		owners:  make(map[uint64]common.Address),
		owned:   make(map[common.Address][]uint64),
		slot:    make(map[uint64]int),
		nextID:  1,
	}
}

// Mint stores p under a fresh id owned by p.Owner and returns the id.
func (s *Store) Mint(p Position) (uint64, error) {
	if p.Owner == (common.Address{}) {
		return 0, ErrZeroAddress
	}
	id := s.nextID
	state.Assign(s.j, &s.nextID, id+1)
	p.ID = id
	state.Set(s.j, s.records, id, p.Clone())
	s.addOwned(p.Owner, id)
	return id, nil
}

// Get returns a copy of the stored record.
func (s *Store) Get(id uint64) (Position, error) {
	p, ok := s.records[id]
	if !ok {
		return Position{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return p.Clone(), nil
}

// Put replaces an existing record.
func (s *Store) Put(p Position) error {
	if _, ok := s.records[p.ID]; !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, p.ID)
	}
	p.Owner = s.owners[p.ID]
	state.Set(s.j, s.records, p.ID, p.Clone())
	return nil
}

// Burn removes the record and its ownership entry.
func (s *Store) Burn(id uint64) error {
	owner, ok := s.owners[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	s.removeOwned(owner, id)
	state.Delete(s.j, s.records, id)
	return nil
}

func (s *Store) OwnerOf(id uint64) (common.Address, error) {
	owner, ok := s.owners[id]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return owner, nil
}

// Authorize returns the record if caller owns it.
func (s *Store) Authorize(caller common.Address, id uint64) (Position, error) {
	owner, err := s.OwnerOf(id)
	if err != nil {
		return Position{}, err
	}
	if owner != caller {
		return Position{}, fmt.Errorf("%w: %d", ErrUnauthorized, id)
	}
	return s.Get(id)
}

// Transfer moves ownership of id from from to to.
func (s *Store) Transfer(from, to common.Address, id uint64) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if _, err := s.Authorize(from, id); err != nil {
		return err
	}
	s.removeOwned(from, id)
	s.addOwned(to, id)
	p := s.records[id].Clone()
	p.Owner = to
	state.Set(s.j, s.records, id, p)
	return nil
}

func (s *Store) BalanceOf(owner common.Address) int {
	return len(s.owned[owner])
}

// TokenOfOwnerByIndex returns the index-th position id owned by owner.
func (s *Store) TokenOfOwnerByIndex(owner common.Address, index int) (uint64, error) {
	ids := s.owned[owner]
	if index < 0 || index >= len(ids) {
		return 0, fmt.Errorf("%w: owner %s index %d", ErrNotFound, owner.Hex(), index)
	}
	return ids[index], nil
}

// IDsOf lists the ids owned by owner in ascending order.
func (s *Store) IDsOf(owner common.Address) []uint64 {
	ids := append([]uint64(nil), s.owned[owner]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// All returns every live record ordered by id.
func (s *Store) All() []Position {
	out := make([]Position, 0, len(s.records))
	for _, p := range s.records {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextID is the id the next Mint will assign.
func (s *Store) NextID() uint64 { return s.nextID }

// Restore loads a record outside any journal snapshot.
func (s *Store) Restore(p Position, nextID uint64) {
	s.records[p.ID] = p.Clone()
	s.owners[p.ID] = p.Owner
	s.slot[p.ID] = len(s.owned[p.Owner])
	s.owned[p.Owner] = append(s.owned[p.Owner], p.ID)
	if nextID > s.nextID {
		s.nextID = nextID
	}
}

// RestoreNextID moves the id counter forward, never back.
func (s *Store) RestoreNextID(nextID uint64) {
	if nextID > s.nextID {
		s.nextID = nextID
	}
}

func (s *Store) addOwned(owner common.Address, id uint64) {
	ids := append(append([]uint64(nil), s.owned[owner]...), id)
	state.Set(s.j, s.slot, id, len(ids)-1)
	state.Set(s.j, s.owned, owner, ids)
	state.Set(s.j, s.owners, id, owner)
}

// removeOwned swaps the last id into the removed slot.
func (s *Store) removeOwned(owner common.Address, id uint64) {
	ids := append([]uint64(nil), s.owned[owner]...)
	i := s.slot[id]
	last := len(ids) - 1
	if i != last {
		moved := ids[last]
		ids[i] = moved
		state.Set(s.j, s.slot, moved, i)
	}
	ids = ids[:last]
	if len(ids) == 0 {
		state.Delete(s.j, s.owned, owner)
	} else {
		state.Set(s.j, s.owned, owner, ids)
	}
	state.Delete(s.j, s.slot, id)
	state.Delete(s.j, s.owners, id)
}
