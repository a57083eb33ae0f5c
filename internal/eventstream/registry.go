package eventstream

import "sort"

// subscriber 一次注册；以指针作为身份，同一个函数重复注册也互不影响。
type subscriber struct {
	cb Callback
}

// registry topic -> 非空回调列表。不是并发安全的，由 Client.mu 保护。
type registry struct {
	topics map[string][]*subscriber
}

func newRegistry() *registry {
	return &registry{topics: make(map[string][]*subscriber)}
}

// add 追加回调；返回该 topic 是否是新建的（需要发送 subscribe）
func (r *registry) add(topic string, s *subscriber) bool {
	list, ok := r.topics[topic]
	r.topics[topic] = append(list, s)
	return !ok
}

// remove 移除回调；返回 topic 是否因此变空并被删除（需要发送 unsubscribe）
func (r *registry) remove(topic string, s *subscriber) bool {
	list, ok := r.topics[topic]
	if !ok {
		return false
	}
	idx := -1
	for i, cur := range list {
		if cur == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	next := make([]*subscriber, 0, len(list)-1)
	next = append(next, list[:idx]...)
	next = append(next, list[idx+1:]...)
	if len(next) == 0 {
		delete(r.topics, topic)
		return true
	}
	r.topics[topic] = next
	return false
}

// subscribers 回调快照
func (r *registry) subscribers(topic string) []*subscriber {
	list := r.topics[topic]
	out := make([]*subscriber, len(list))
	copy(out, list)
	return out
}

// drop 删除整个 topic 并返回其回调
func (r *registry) drop(topic string) []*subscriber {
	list := r.topics[topic]
	delete(r.topics, topic)
	return list
}

// all 所有回调（按 topic 排序）
func (r *registry) all() []targeted {
	var out []targeted
	for _, topic := range r.names() {
		for _, s := range r.topics[topic] {
			out = append(out, targeted{topic: topic, sub: s})
		}
	}
	return out
}

func (r *registry) names() []string {
	names := make([]string, 0, len(r.topics))
	for t := range r.topics {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

func (r *registry) has(topic string) bool {
	_, ok := r.topics[topic]
	return ok
}

type targeted struct {
	topic string
	sub   *subscriber
}
