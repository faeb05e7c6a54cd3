// Copyright (c) 2026 brainelectronics. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package registers holds the responder-side data model: four
// independently addressed register banks, each a sparse set of
// registered address ranges with optional access hooks.
package registers

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Bank identifies one of the four Modbus data tables.
type Bank int

const (
	Coils Bank = iota
	DiscreteInputs
	HoldingRegisters
	InputRegisters

	numBanks
)

func (b Bank) String() string {
	switch b {
	case Coils:
		return "coils"
	case DiscreteInputs:
		return "discrete_inputs"
	case HoldingRegisters:
		return "holding_registers"
	case InputRegisters:
		return "input_registers"
	default:
		return fmt.Sprintf("bank(%d)", int(b))
	}
}

// BitAddressed reports whether the bank stores single bits rather than
// 16-bit words. Bit banks keep their values as 0 or 1.
func (b Bank) BitAddressed() bool {
	return b == Coils || b == DiscreteInputs
}

var (
	// ErrOutOfRange is returned when an address range is not fully
	// contained in exactly one registered entry. The dispatcher maps it
	// to exception code 02.
	ErrOutOfRange = errors.New("registers: address range not registered")

	// ErrBadValue is returned for values a bank cannot hold, e.g. a bit
	// value other than 0 or 1. Maps to exception code 03.
	ErrBadValue = errors.New("registers: invalid value for bank")

	// ErrOverlap is returned when a registration would overlap an
	// existing entry of the same bank.
	ErrOverlap = errors.New("registers: address range overlaps existing entry")
)

// Hook observes a register access. on-get hooks run immediately before
// a read is served, on-set hooks immediately after a write is applied.
// Hooks run synchronously inside the dispatch; a blocking hook stalls
// the responder's frame turnaround. A hook error is reported to the
// remote side as exception code 04.
type Hook func(bank Bank, address uint16, values []uint16) error

type entry struct {
	address uint16
	values  []uint16
	onGet   Hook
	onSet   Hook
}

func (e *entry) length() uint16 {
	return uint16(len(e.values))
}

func (e *entry) contains(address, quantity uint16) bool {
	return address >= e.address && uint32(address)+uint32(quantity) <= uint32(e.address)+uint32(e.length())
}

// Store is the register bank data model shared by all responder tasks.
// It is safe for concurrent use; every access is atomic with respect to
// other dispatches.
type Store struct {
	mu    sync.RWMutex
	banks [numBanks][]*entry // sorted by address, non-overlapping
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Option configures a registered entry.
type Option func(*entry)

// WithOnGet attaches an on-get hook to the entry.
func WithOnGet(h Hook) Option {
	return func(e *entry) { e.onGet = h }
}

// WithOnSet attaches an on-set hook to the entry.
func WithOnSet(h Hook) Option {
	return func(e *entry) { e.onSet = h }
}

// Add registers a contiguous range of values starting at address.
// Ranges within one bank must not overlap.
func (s *Store) Add(bank Bank, address uint16, values []uint16, opts ...Option) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: empty range at address '%v'", ErrBadValue, address)
	}
	if uint32(address)+uint32(len(values)) > 0x10000 {
		return fmt.Errorf("%w: range at address '%v' exceeds address space", ErrOutOfRange, address)
	}
	stored := make([]uint16, len(values))
	for i, v := range values {
		if bank.BitAddressed() && v > 1 {
			return fmt.Errorf("%w: bit value '%v' at offset '%v'", ErrBadValue, v, i)
		}
		stored[i] = v
	}

	e := &entry{address: address, values: stored}
	for _, opt := range opts {
		opt(e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.banks[bank]
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].address > address
	})
	if i > 0 && entries[i-1].contains(address, 1) {
		return fmt.Errorf("%w: %s at '%v'", ErrOverlap, bank, address)
	}
	if i < len(entries) && e.contains(entries[i].address, 1) {
		return fmt.Errorf("%w: %s at '%v'", ErrOverlap, bank, address)
	}

	entries = append(entries, nil)
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	s.banks[bank] = entries
	return nil
}

// SetHooks attaches hooks to the registered entry starting at address.
// A nil hook leaves the respective slot unchanged.
func (s *Store) SetHooks(bank Bank, address uint16, onGet, onSet Hook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.find(bank, address, 1)
	if e == nil || e.address != address {
		return fmt.Errorf("%w: %s entry at '%v'", ErrOutOfRange, bank, address)
	}
	if onGet != nil {
		e.onGet = onGet
	}
	if onSet != nil {
		e.onSet = onSet
	}
	return nil
}

// Read returns quantity values starting at address, lowest address
// first. The range must resolve entirely inside one registered entry.
// The entry's on-get hook runs before the values are read, so it may
// refresh them through Set.
func (s *Store) Read(bank Bank, address, quantity uint16) ([]uint16, error) {
	if quantity == 0 {
		return nil, fmt.Errorf("%w: zero quantity", ErrBadValue)
	}

	s.mu.RLock()
	e := s.find(bank, address, quantity)
	var onGet Hook
	if e != nil {
		onGet = e.onGet
	}
	s.mu.RUnlock()
	if e == nil {
		return nil, fmt.Errorf("%w: %s '%v'+%v", ErrOutOfRange, bank, address, quantity)
	}

	if onGet != nil {
		if err := onGet(bank, address, s.snapshot(e, address, quantity)); err != nil {
			return nil, fmt.Errorf("registers: on_get hook for %s '%v': %w", bank, address, err)
		}
	}

	return s.snapshot(e, address, quantity), nil
}

// Write stores values starting at address and then runs the entry's
// on-set hook. The range must resolve entirely inside one registered
// entry.
func (s *Store) Write(bank Bank, address uint16, values []uint16) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: zero quantity", ErrBadValue)
	}
	for _, v := range values {
		if bank.BitAddressed() && v > 1 {
			return fmt.Errorf("%w: bit value '%v'", ErrBadValue, v)
		}
	}

	s.mu.Lock()
	e := s.find(bank, address, uint16(len(values)))
	if e == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s '%v'+%v", ErrOutOfRange, bank, address, len(values))
	}
	copy(e.values[address-e.address:], values)
	onSet := e.onSet
	s.mu.Unlock()

	if onSet != nil {
		if err := onSet(bank, address, append([]uint16(nil), values...)); err != nil {
			return fmt.Errorf("registers: on_set hook for %s '%v': %w", bank, address, err)
		}
	}
	return nil
}

// Set updates stored values without invoking hooks. It is the entry
// point for instrumentation and hooks that compute fresh values, and
// unlike Write it may target read-only banks.
func (s *Store) Set(bank Bank, address uint16, values []uint16) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: zero quantity", ErrBadValue)
	}
	for _, v := range values {
		if bank.BitAddressed() && v > 1 {
			return fmt.Errorf("%w: bit value '%v'", ErrBadValue, v)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.find(bank, address, uint16(len(values)))
	if e == nil {
		return fmt.Errorf("%w: %s '%v'+%v", ErrOutOfRange, bank, address, len(values))
	}
	copy(e.values[address-e.address:], values)
	return nil
}

// find returns the entry fully containing the range, or nil.
// Caller must hold the mutex.
func (s *Store) find(bank Bank, address, quantity uint16) *entry {
	entries := s.banks[bank]
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].address > address
	})
	if i == 0 {
		return nil
	}
	if e := entries[i-1]; e.contains(address, quantity) {
		return e
	}
	return nil
}

func (s *Store) snapshot(e *entry, address, quantity uint16) []uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]uint16, quantity)
	copy(out, e.values[address-e.address:])
	return out
}
