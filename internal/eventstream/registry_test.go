package eventstream

import "testing"

func TestRegistryAddRemove(t *testing.T) {
	r := newRegistry()
	a := &subscriber{cb: func(Event) {}}
	b := &subscriber{cb: func(Event) {}}

	if !r.add("book/m1", a) {
		t.Fatalf("第一个回调应新建 topic")
	}
	if r.add("book/m1", b) {
		t.Fatalf("第二个回调不应新建 topic")
	}
	if got := len(r.subscribers("book/m1")); got != 2 {
		t.Fatalf("期望 2 个回调，得到 %d", got)
	}

	if r.remove("book/m1", a) {
		t.Fatalf("移除一个回调后 topic 不应为空")
	}
	if r.remove("book/m1", a) {
		t.Fatalf("重复移除应为 no-op")
	}
	if !r.remove("book/m1", b) {
		t.Fatalf("移除最后一个回调后 topic 应被删除")
	}
	if r.has("book/m1") {
		t.Fatalf("topic 应已删除")
	}
	if r.remove("book/unknown", a) {
		t.Fatalf("未知 topic 移除应返回 false")
	}
}

func TestRegistryAllIsSortedByTopic(t *testing.T) {
	r := newRegistry()
	s1 := &subscriber{cb: func(Event) {}}
	s2 := &subscriber{cb: func(Event) {}}
	r.add("wallet/k", s1)
	r.add("book/m", s2)
	all := r.all()
	if len(all) != 2 || all[0].topic != "book/m" || all[1].topic != "wallet/k" {
		t.Fatalf("unexpected order: %+v", all)
	}
}

func TestChannelTopicsAreDistinct(t *testing.T) {
	if OrderBook("x").Topic() == Wallet("x").Topic() {
		t.Fatalf("不同类型的频道不能共享 topic")
	}
	if OrderBook("x").Topic() != "book/x" {
		t.Fatalf("unexpected topic %s", OrderBook("x").Topic())
	}
}
