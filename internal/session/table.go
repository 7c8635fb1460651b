package session

// Action is the work the bot performs for an event in a given stage.
type Action int

const (
	ActionShowMenu Action = iota + 1
	ActionPromptQuery
	ActionSearch
	ActionSelect
	ActionCancel
	ActionHelp
	ActionStats
	ActionAdminStats
	ActionHint
	ActionRejectSelection
)

func (a Action) String() string {
	switch a {
	case ActionShowMenu:
		return "show_menu"
	case ActionPromptQuery:
		return "prompt_query"
	case ActionSearch:
		return "search"
	case ActionSelect:
		return "select"
	case ActionCancel:
		return "cancel"
	case ActionHelp:
		return "help"
	case ActionStats:
		return "stats"
	case ActionAdminStats:
		return "admin_stats"
	case ActionHint:
		return "hint"
	case ActionRejectSelection:
		return "reject_selection"
	default:
		return "unknown"
	}
}

// Transition says what to run and which stage to enter afterwards.
type Transition struct {
	Action    Action
	OnSuccess Stage
	OnFailure Stage
}

type key struct {
	stage Stage
	kind  EventKind
}

// table lists the stage-specific transitions. Events missing here fall back to
// the stage-independent rules in Lookup.
var table = map[key]Transition{
	{Idle, EventSearchSubmitted}: {ActionHint, Idle, Idle},
	{Idle, EventSelectionMade}:   {ActionRejectSelection, Idle, Idle},

	{AwaitingQuery, EventSearchSubmitted}: {ActionSearch, AwaitingSelection, Idle},
	{AwaitingQuery, EventSelectionMade}:   {ActionRejectSelection, Idle, Idle},

	{AwaitingSelection, EventSearchSubmitted}: {ActionSearch, AwaitingSelection, Idle},
	{AwaitingSelection, EventSelectionMade}:   {ActionSelect, Idle, Idle},
}

// Lookup returns the transition for kind in stage. Start, Cancel and
// SearchRequested restart the flow from any stage; informational events leave
// the stage unchanged.
func Lookup(stage Stage, kind EventKind) Transition {
	if tr, ok := table[key{stage, kind}]; ok {
		return tr
	}
	switch kind {
	case EventStart:
		return Transition{ActionShowMenu, Idle, Idle}
	case EventCancel:
		return Transition{ActionCancel, Idle, Idle}
	case EventSearchRequested:
		return Transition{ActionPromptQuery, AwaitingQuery, Idle}
	case EventHelpRequested:
		return Transition{ActionHelp, stage, stage}
	case EventStatsRequested:
		return Transition{ActionStats, stage, stage}
	case EventAdminStatsRequested:
		return Transition{ActionAdminStats, stage, stage}
	default:
		return Transition{ActionHint, Idle, Idle}
	}
}
