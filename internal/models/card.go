// internal/models/card.go
package models

import "github.com/google/uuid"

// CreatureType enumerates the eight creatures in the deck.
type CreatureType string

const (
	CreatureBat       CreatureType = "bat"
	CreatureFly       CreatureType = "fly"
	CreatureToad      CreatureType = "toad"
	CreatureRat       CreatureType = "rat"
	CreatureScorpion  CreatureType = "scorpion"
	CreatureSpider    CreatureType = "spider"
	CreatureStinkbug  CreatureType = "stinkbug"
	CreatureCockroach CreatureType = "cockroach"
)

// Creatures lists every creature type in deal order. The full deck is
// CopiesPerCreature of each.
var Creatures = []CreatureType{
	CreatureBat, CreatureFly, CreatureToad, CreatureRat,
	CreatureScorpion, CreatureSpider, CreatureStinkbug, CreatureCockroach,
}

// CopiesPerCreature is the number of copies of each creature in a fresh deck.
const CopiesPerCreature = 8

// DeckSize is the fixed total card count for a session.
const DeckSize = CopiesPerCreature * 8

// IsValidCreature reports whether s names a creature in the deck.
func IsValidCreature(s string) bool {
	for _, c := range Creatures {
		if string(c) == s {
			return true
		}
	}
	return false
}

// Card is a single physical card. Ownership is tracked by whichever hand,
// penalty pile, or in-flight round currently holds the pointer; cards are
// never copied between containers.
type Card struct {
	ID       uuid.UUID    `json:"id"`
	Creature CreatureType `json:"creature"`
}
