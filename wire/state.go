package wire

import "fmt"

// State is the position of a session in the command/response sequence.
// The protocol has no request ids, so exactly one exchange is in flight at a time:
//
//	Connecting -> AwaitGreeting -> Greeted -> AwaitCommandResponse
//	AwaitCommandResponse <-> StreamingPayload <-> AwaitNext
//	any -> Closing -> Closed
type State int8

const (
	StateConnecting State = iota
	StateAwaitGreeting
	StateGreeted
	StateAwaitCommandResponse
	StateStreamingPayload
	StateAwaitNext
	StateClosing
	StateClosed
)

var stateNames = map[State]string{
	StateConnecting:           "Connecting",
	StateAwaitGreeting:        "AwaitGreeting",
	StateGreeted:              "Greeted",
	StateAwaitCommandResponse: "AwaitCommandResponse",
	StateStreamingPayload:     "StreamingPayload",
	StateAwaitNext:            "AwaitNext",
	StateClosing:              "Closing",
	StateClosed:               "Closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int8(s))
}

var transitions = map[State][]State{
	StateConnecting:           {StateAwaitGreeting},
	StateAwaitGreeting:        {StateGreeted},
	StateGreeted:              {StateAwaitCommandResponse},
	StateAwaitCommandResponse: {StateAwaitCommandResponse, StateStreamingPayload, StateAwaitNext},
	StateStreamingPayload:     {StateAwaitCommandResponse, StateAwaitNext},
	StateAwaitNext:            {StateAwaitCommandResponse, StateStreamingPayload},
	StateClosing:              {StateClosed},
}

func canTransition(from, to State) bool {
	if from == StateClosed {
		return false
	}
	if to == StateClosing || to == StateClosed {
		return from != StateClosing || to == StateClosed
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
