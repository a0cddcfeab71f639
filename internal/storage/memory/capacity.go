package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

type cell struct {
	mu   sync.Mutex
	slot waitlist.CapacitySlot
}

// Capacity is an in-process availability.CapacityStore. Each slot key has its
// own mutex; the map lock is only held to find or create a cell.
type Capacity struct {
	mu    sync.RWMutex
	cells map[waitlist.SlotKey]*cell
	now   func() time.Time
}

func NewCapacity() *Capacity {
	return &Capacity{
		cells: make(map[waitlist.SlotKey]*cell),
		now:   time.Now,
	}
}

func (c *Capacity) lookup(key waitlist.SlotKey) *cell {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cells[key]
}

func (c *Capacity) lookupOrCreate(key waitlist.SlotKey) *cell {
	if cl := c.lookup(key); cl != nil {
		return cl
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.cells[key]; ok {
		return cl
	}
	cl := &cell{slot: waitlist.CapacitySlot{Key: key}}
	c.cells[key] = cl
	return cl
}

func (c *Capacity) Reserve(_ context.Context, key waitlist.SlotKey, guests int) (bool, error) {
	cl := c.lookup(key)
	if cl == nil {
		return false, nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.slot.TotalSeats-cl.slot.ReservedSeats < guests {
		return false, nil
	}
	cl.slot.ReservedSeats += guests
	cl.slot.UpdatedAt = c.now().UTC()
	return true, nil
}

func (c *Capacity) Release(_ context.Context, key waitlist.SlotKey, guests int) error {
	cl := c.lookup(key)
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()

	cl.slot.ReservedSeats -= guests
	if cl.slot.ReservedSeats < 0 {
		cl.slot.ReservedSeats = 0
	}
	cl.slot.UpdatedAt = c.now().UTC()
	return nil
}

func (c *Capacity) Get(_ context.Context, key waitlist.SlotKey) (waitlist.CapacitySlot, error) {
	cl := c.lookup(key)
	if cl == nil {
		return waitlist.CapacitySlot{Key: key}, nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.slot, nil
}

func (c *Capacity) SetTotal(_ context.Context, key waitlist.SlotKey, total int) (waitlist.CapacitySlot, error) {
	const op = "memory.Capacity.SetTotal"

	cl := c.lookupOrCreate(key)
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if total < cl.slot.ReservedSeats {
		return cl.slot, fmt.Errorf("%s: %w: %d seats already reserved", op, waitlist.ErrValidation, cl.slot.ReservedSeats)
	}
	cl.slot.TotalSeats = total
	cl.slot.UpdatedAt = c.now().UTC()
	return cl.slot, nil
}

func (c *Capacity) ListByDate(_ context.Context, date string) ([]waitlist.CapacitySlot, error) {
	c.mu.RLock()
	cells := make([]*cell, 0, len(c.cells))
	for k, cl := range c.cells {
		if k.Date == date {
			cells = append(cells, cl)
		}
	}
	c.mu.RUnlock()

	out := make([]waitlist.CapacitySlot, 0, len(cells))
	for _, cl := range cells {
		cl.mu.Lock()
		out = append(out, cl.slot)
		cl.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.TimeSlot != out[j].Key.TimeSlot {
			return out[i].Key.TimeSlot < out[j].Key.TimeSlot
		}
		return out[i].Key.Section < out[j].Key.Section
	})
	return out, nil
}
