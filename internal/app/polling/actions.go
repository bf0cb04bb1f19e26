package polling

import "fmt"

// Action is a moderator lifecycle command. The control surface sends a free-form
// string; it is mapped onto this closed set server-side and anything else is
// rejected with ErrUnknownAction.
type Action string

const (
	ActionGoLive   Action = "go_live"
	ActionClose    Action = "close"
	ActionReveal   Action = "reveal"
	ActionHide     Action = "hide"
	ActionFreeze   Action = "freeze"
	ActionUnfreeze Action = "unfreeze"
	ActionReset    Action = "reset"
)

func ParseAction(name string) (Action, error) {
	switch Action(name) {
	case ActionGoLive, ActionClose, ActionReveal, ActionHide, ActionFreeze, ActionUnfreeze, ActionReset:
		return Action(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
}
