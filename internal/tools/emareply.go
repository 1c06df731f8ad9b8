package tools

import (
	"context"
	"encoding/json"

	"github.com/emachat/ema/pkg/models"
)

// EmaReplyName is the name of the structured-reply tool. The agent
// loop treats calls to this tool specially: the result content is
// parsed, broadcast to subscribers, and withheld from history.
const EmaReplyName = "ema_reply"

var emaReplySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"think": {
			"type": "string",
			"description": "Your internal reasoning before replying. Not shown to the user."
		},
		"expression": {
			"type": "string",
			"enum": ["neutral", "smile", "serious", "confused", "surprised", "sad"],
			"description": "Facial expression to display while delivering the response."
		},
		"action": {
			"type": "string",
			"enum": ["none", "nod", "shake", "wave", "jump", "point"],
			"description": "Body action to perform while delivering the response."
		},
		"response": {
			"type": "string",
			"description": "The message shown to the user."
		}
	},
	"required": ["think", "expression", "action", "response"]
}`)

// EmaReplyTool is the structured-reply tool. Execute validates the
// reply shape and returns its canonical JSON as the result content.
type EmaReplyTool struct{}

// NewEmaReplyTool returns the structured-reply tool.
func NewEmaReplyTool() *EmaReplyTool {
	return &EmaReplyTool{}
}

func (t *EmaReplyTool) Name() string {
	return EmaReplyName
}

func (t *EmaReplyTool) Description() string {
	return "Deliver your reply to the user, with the expression and action to perform. Call this exactly once per reply."
}

func (t *EmaReplyTool) Schema() json.RawMessage {
	return emaReplySchema
}

// Execute validates the arguments as a structured reply and returns
// its canonical JSON encoding.
func (t *EmaReplyTool) Execute(ctx context.Context, args map[string]any) models.ToolResult {
	payload, err := json.Marshal(args)
	if err != nil {
		return models.FailedResult("encode reply: " + err.Error())
	}

	reply, err := models.ParseEmaReply(payload)
	if err != nil {
		return models.FailedResult("invalid reply: " + err.Error())
	}

	canonical, err := json.Marshal(reply)
	if err != nil {
		return models.FailedResult("encode reply: " + err.Error())
	}
	return models.SucceededResult(string(canonical))
}
