package conversation

// Trust returns how an NPC regards the player, from the relationship rank
// and the number of conversations they have had.
func Trust(rank, conversationCount int) string {
	switch {
	case rank == 4:
		return "a lover"
	case rank > 0:
		return "a friend"
	case rank < 0:
		return "an enemy"
	case conversationCount < 1:
		return "a stranger"
	case conversationCount < 10:
		return "an acquaintance"
	case conversationCount < 50:
		return "a friend"
	default:
		return "a close friend"
	}
}
