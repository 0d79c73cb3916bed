package service

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"DeskPilot/internal/modules/assistant/domain/memory"
	"DeskPilot/internal/modules/assistant/domain/repository"
	"DeskPilot/pkg/zlog"

	"go.uber.org/zap"
)

// ContextMemoryService 短期对话记忆（每用户最近 5 轮）
type ContextMemoryService interface {
	PushMessage(ctx context.Context, userID string, turn memory.Turn)
	GetRecentContext(ctx context.Context, userID string) memory.RecentContext
	GetConversationHistory(ctx context.Context, userID string) []memory.Turn
	Reset(ctx context.Context, userID string)
}

type contextMemoryServiceImpl struct {
	repo repository.MemoryRepository
	mu   sync.Mutex
	now  func() time.Time
}

func NewContextMemoryService(repo repository.MemoryRepository) ContextMemoryService {
	return &contextMemoryServiceImpl{repo: repo, now: time.Now}
}

// load 读取失败或不存在时返回新建的空状态
func (s *contextMemoryServiceImpl) load(ctx context.Context, userID string) *memory.ShortTermMemory {
	m, err := s.repo.Get(ctx, userID)
	if err != nil {
		zlog.Warn("load short-term memory failed", zap.String("user_id", userID), zap.Error(err))
	}
	if m == nil {
		m = &memory.ShortTermMemory{UserID: userID}
	}
	return m
}

func (s *contextMemoryServiceImpl) PushMessage(ctx context.Context, userID string, turn memory.Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.load(ctx, userID)
	m.Append(turn)
	if err := s.repo.Put(ctx, userID, m); err != nil {
		zlog.Warn("save short-term memory failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *contextMemoryServiceImpl) GetConversationHistory(ctx context.Context, userID string) []memory.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.load(ctx, userID)
	out := make([]memory.Turn, len(m.Conversations))
	copy(out, m.Conversations)
	return out
}

func (s *contextMemoryServiceImpl) Reset(ctx context.Context, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.Delete(ctx, userID); err != nil {
		zlog.Warn("reset short-term memory failed", zap.String("user_id", userID), zap.Error(err))
	}
}

var (
	customerMentionRe = regexp.MustCompile(`(?i)\b(?:customer|client)s?\b(?:\s+(?:named|called))?\s+([\p{L}][\p{L}'\-]*)(?:\s+([\p{L}][\p{L}'\-]*))?`)
	isoDateRe         = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	relativeDateRe    = regexp.MustCompile(`(?i)\b(today|tomorrow|tonight|monday|tuesday|wednesday|thursday|friday|saturday|sunday|next week)\b`)
)

// topicKeywords 按优先级排列，第一个命中的作为话题
var topicKeywords = []struct {
	topic    string
	keywords []string
}{
	{"appointment", []string{"appointment", "meeting", "schedule", "calendar", "visit"}},
	{"listing", []string{"listing", "property", "apartment", "house", "villa"}},
	{"notification", []string{"notification", "alert", "reminder"}},
	{"archive", []string{"archive", "history", "old record"}},
	{"customer", []string{"customer", "client", "lead"}},
}

// customerStopWords 关键词后面紧跟的这些词不是客户名
var customerStopWords = map[string]bool{
	"list": true, "page": true, "screen": true, "named": true, "called": true, "with": true,
	"for": true, "the": true, "a": true, "an": true, "and": true, "to": true, "details": true,
}

// dateTimeWords 日期时间相关的词，出现在关键词后面时也不是客户名
var dateTimeWords = map[string]bool{
	"at": true, "on": true, "by": true, "in": true, "this": true, "next": true, "noon": true,
	"morning": true, "afternoon": true, "evening": true, "am": true, "pm": true,
}

func isNameWord(w string) bool {
	l := strings.ToLower(w)
	return !customerStopWords[l] && !dateTimeWords[l] && !relativeDateRe.MatchString(l)
}

// trimName 去掉名字末尾误带的日期时间词
func trimName(name string) string {
	words := strings.Fields(name)
	for len(words) > 0 && !isNameWord(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

// GetRecentContext 从最近 3 条用户消息里用固定关键词推断上下文，新消息优先
func (s *contextMemoryServiceImpl) GetRecentContext(ctx context.Context, userID string) memory.RecentContext {
	history := s.GetConversationHistory(ctx, userID)

	var out memory.RecentContext
	scanned := 0
	for i := len(history) - 1; i >= 0 && scanned < memory.ContextScanTurns; i-- {
		turn := history[i]
		if turn.Role != memory.RoleUser {
			continue
		}
		scanned++
		text := turn.Text
		lower := strings.ToLower(text)

		if out.LastCustomer == "" {
			out.LastCustomer = extractCustomerName(text)
		}
		if out.LastTopic == "" {
			for _, t := range topicKeywords {
				if containsAny(lower, t.keywords) {
					out.LastTopic = t.topic
					break
				}
			}
		}
		if out.LastDate == "" {
			if d := isoDateRe.FindString(text); d != "" {
				out.LastDate = d
			} else if d := relativeDateRe.FindString(lower); d != "" {
				out.LastDate = d
			}
		}
	}
	return out
}

// extractCustomerName 取关键词后的第一个词；两个词都大写开头时视为全名
func extractCustomerName(text string) string {
	for _, m := range customerMentionRe.FindAllStringSubmatch(text, -1) {
		first := m[1]
		if !isNameWord(first) {
			continue
		}
		if m[2] != "" && startsUpper(first) && startsUpper(m[2]) && isNameWord(m[2]) {
			return first + " " + m[2]
		}
		return first
	}
	return ""
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
