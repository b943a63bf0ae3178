package conversation

// transitions lists the stages reachable from each stage. Stages only move
// forward by one step or stay where they are; multiplayer is terminal.
var transitions = map[Stage][]Stage{
	StageInit:         {StageInit, StageFoundation},
	StageFoundation:   {StageFoundation, StageSinglePlayer},
	StageSinglePlayer: {StageSinglePlayer, StageMultiPlayer},
	StageMultiPlayer:  {StageMultiPlayer},
}

// CanTransition reports whether moving from one stage to another is allowed.
func CanTransition(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next returns the stage that follows s on success, or s itself when s is terminal.
func (s Stage) Next() Stage {
	switch s {
	case StageInit:
		return StageFoundation
	case StageFoundation:
		return StageSinglePlayer
	case StageSinglePlayer:
		return StageMultiPlayer
	default:
		return s
	}
}

func (s Stage) String() string {
	return string(s)
}
