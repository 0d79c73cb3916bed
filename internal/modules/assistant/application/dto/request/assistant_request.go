package request

import "DeskPilot/internal/modules/assistant/domain/assistant"

// AssistantInputRequest 用户输入一轮对话；Context 由前端原样回传上一轮返回的值
type AssistantInputRequest struct {
	Text    string                 `json:"text"`
	Context *assistant.TurnContext `json:"context,omitempty"`
}
