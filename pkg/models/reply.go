package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Expression is the closed set of facial expressions an actor reply
// may carry.
type Expression string

const (
	ExpressionNeutral   Expression = "neutral"
	ExpressionSmile     Expression = "smile"
	ExpressionSerious   Expression = "serious"
	ExpressionConfused  Expression = "confused"
	ExpressionSurprised Expression = "surprised"
	ExpressionSad       Expression = "sad"
)

// Action is the closed set of gestures an actor reply may carry.
type Action string

const (
	ActionNone  Action = "none"
	ActionNod   Action = "nod"
	ActionShake Action = "shake"
	ActionWave  Action = "wave"
	ActionJump  Action = "jump"
	ActionPoint Action = "point"
)

var validExpressions = map[Expression]bool{
	ExpressionNeutral:   true,
	ExpressionSmile:     true,
	ExpressionSerious:   true,
	ExpressionConfused:  true,
	ExpressionSurprised: true,
	ExpressionSad:       true,
}

var validActions = map[Action]bool{
	ActionNone:  true,
	ActionNod:   true,
	ActionShake: true,
	ActionWave:  true,
	ActionJump:  true,
	ActionPoint: true,
}

// EmaReply is the structured reply payload: the only sanctioned
// terminal output shape of a run. It is produced by the privileged
// reply tool and delivered to subscribers, never re-appended to
// history.
type EmaReply struct {
	Think      string     `json:"think"`
	Expression Expression `json:"expression"`
	Action     Action     `json:"action"`
	Response   string     `json:"response"`
}

// Validate checks the closed enum sets and the trimmed-non-empty
// requirements on Think and Response.
func (r *EmaReply) Validate() error {
	if strings.TrimSpace(r.Think) == "" {
		return fmt.Errorf("ema reply: think must be non-empty")
	}
	if strings.TrimSpace(r.Response) == "" {
		return fmt.Errorf("ema reply: response must be non-empty")
	}
	if !validExpressions[r.Expression] {
		return fmt.Errorf("ema reply: invalid expression %q", r.Expression)
	}
	if !validActions[r.Action] {
		return fmt.Errorf("ema reply: invalid action %q", r.Action)
	}
	return nil
}

// ParseEmaReply decodes and validates a structured reply payload.
func ParseEmaReply(data []byte) (*EmaReply, error) {
	var reply EmaReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("ema reply: decode: %w", err)
	}
	if err := reply.Validate(); err != nil {
		return nil, err
	}
	return &reply, nil
}
