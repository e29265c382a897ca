package feed

// Reaction types accepted by ToggleReaction.
const (
	ReactionLike  = "like"
	ReactionLove  = "love"
	ReactionLaugh = "laugh"
	ReactionWow   = "wow"
	ReactionSad   = "sad"
	ReactionAngry = "angry"
)

var reactionTypes = map[string]bool{
	ReactionLike: true, ReactionLove: true, ReactionLaugh: true,
	ReactionWow: true, ReactionSad: true, ReactionAngry: true,
}

func IsReactionType(t string) bool {
	return reactionTypes[t]
}

// reactionTransition is the change a toggle applies to a user's reaction on a post.
// Next is empty when the reaction is removed.
type reactionTransition struct {
	Next       string
	LikesDelta int64
	Decrement  string
	Increment  string
}

// transitionFor decides the toggle outcome from the current reaction ("" for none).
// likes counts reacting users, so switching types leaves it unchanged.
func transitionFor(current, requested string) reactionTransition {
	switch current {
	case "":
		return reactionTransition{Next: requested, LikesDelta: 1, Increment: requested}
	case requested:
		return reactionTransition{LikesDelta: -1, Decrement: current}
	default:
		return reactionTransition{Next: requested, Decrement: current, Increment: requested}
	}
}

type ReactionResult struct {
	Reacted    bool   `json:"reacted"`
	Type       string `json:"type,omitempty"`
	LikesCount int64  `json:"likesCount"`

	added bool
}
