package merge

import (
	"sort"

	"github.com/gmcnew/migrate-chests/internal/world/store"
)

// SlotCount is the number of slots in every container kind.
const SlotCount = 27

// FreeSlots returns the unused slot indexes of c sorted from highest to
// lowest, so popping from the end yields the lowest free slot first.
func FreeSlots(c *store.TileEntity) []int {
	used := make(map[int]bool, len(c.Items))
	for _, it := range c.Items {
		used[it.Slot] = true
	}
	free := make([]int, 0, SlotCount)
	for slot := 0; slot < SlotCount; slot++ {
		if !used[slot] {
			free = append(free, slot)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(free)))
	return free
}

// Fill moves items from the end of pending into the free slots of c, lowest
// slot first, and returns how many were moved along with what is left of
// pending.
func Fill(c *store.TileEntity, pending []store.Item) (int, []store.Item) {
	free := FreeSlots(c)
	moved := 0
	for len(pending) > 0 && len(free) > 0 {
		it := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		it.Slot = free[len(free)-1]
		free = free[:len(free)-1]

		Normalize(&it)
		c.Items = append(c.Items, it)
		moved++
	}
	return moved, pending
}
