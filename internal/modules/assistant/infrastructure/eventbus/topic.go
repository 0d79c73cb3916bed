package eventbus

import (
	"reflect"
	"sync"

	"DeskPilot/pkg/zlog"

	"go.uber.org/zap"
)

// Subscriber 订阅者。去重按接口值相等判断，因此请使用指针类型实现
type Subscriber[T any] interface {
	Handle(event T)
}

type funcSubscriber[T any] struct {
	fn func(T)
}

func (s *funcSubscriber[T]) Handle(event T) {
	s.fn(event)
}

// Func 把函数包装成订阅者；返回值即订阅身份，重复订阅同一个返回值不会重复投递
func Func[T any](fn func(T)) Subscriber[T] {
	return &funcSubscriber[T]{fn: fn}
}

// Topic 强类型主题，同步按订阅顺序投递
type Topic[T any] struct {
	name string
	mu   sync.RWMutex
	regs []*registration[T]
}

// registration 一次订阅；取消时按登记本身移除，不依赖订阅者可比较
type registration[T any] struct {
	sub Subscriber[T]
}

func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{name: name}
}

func (t *Topic[T]) Name() string {
	return t.name
}

// Subscribe 注册订阅者并返回取消函数；同一订阅者重复注册为空操作，取消函数依然有效。
// 不可比较的订阅者无法判重，每次注册都是独立的一份
func (t *Topic[T]) Subscribe(s Subscriber[T]) func() {
	if s == nil {
		return func() {}
	}
	t.mu.Lock()
	reg := t.find(s)
	if reg == nil {
		reg = &registration[T]{sub: s}
		t.regs = append(t.regs, reg)
	}
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, r := range t.regs {
			if r == reg {
				t.regs = append(t.regs[:i:i], t.regs[i+1:]...)
				return
			}
		}
	}
}

func (t *Topic[T]) find(s Subscriber[T]) *registration[T] {
	typ := reflect.TypeOf(s)
	if !typ.Comparable() {
		return nil
	}
	for _, r := range t.regs {
		if reflect.TypeOf(r.sub) == typ && r.sub == s {
			return r
		}
	}
	return nil
}

// Publish 同步投递；单个订阅者 panic 不影响其他订阅者
func (t *Topic[T]) Publish(event T) {
	t.mu.RLock()
	regs := make([]*registration[T], len(t.regs))
	copy(regs, t.regs)
	t.mu.RUnlock()

	for _, r := range regs {
		t.deliver(r.sub, event)
	}
}

func (t *Topic[T]) deliver(s Subscriber[T], event T) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error("event subscriber panicked", zap.String("topic", t.name), zap.Any("panic", r))
		}
	}()
	s.Handle(event)
}

// Len 当前订阅者数量
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.regs)
}
