package merge

import "github.com/gmcnew/migrate-chests/internal/world/store"

// Item ids and damage values of the world format.
const (
	ItemStoneSlab       = 44
	ItemWoodSlab        = 126
	ItemLeaves          = 18
	ItemLeaves2         = 161
	ItemStickyPiston    = 29
	DamageStoneWoodSlab = 2
	DamageNoDecay       = 4
)

// Normalize applies the item fixups performed when an item lands in its new
// container. Items of other kinds are left alone.
func Normalize(it *store.Item) {
	switch it.ID {
	case ItemStoneSlab:
		// Petrified oak slabs become plain oak slabs.
		if it.Damage == DamageStoneWoodSlab {
			it.ID = ItemWoodSlab
			it.Damage = 0
		}
	case ItemLeaves, ItemLeaves2:
		if it.Damage >= DamageNoDecay {
			it.Damage %= DamageNoDecay
		}
	case ItemStickyPiston:
		it.Damage = 0
	}
}
