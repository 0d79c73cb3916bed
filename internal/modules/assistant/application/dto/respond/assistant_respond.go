package respond

import (
	"DeskPilot/internal/modules/assistant/domain/assistant"
	"DeskPilot/internal/modules/assistant/domain/memory"
)

// AssistantInputRespond Context 需要前端在下一轮原样带回
type AssistantInputRespond struct {
	Result  *assistant.IntentResult `json:"result"`
	Context *assistant.TurnContext  `json:"context"`
}

type HistoryRespond struct {
	Turns  []memory.Turn        `json:"turns"`
	Recent memory.RecentContext `json:"recent"`
}
