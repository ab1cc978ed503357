package realtime

import (
	"testing"
)

func TestDispatcher_SuppressesBookkeepingFrames(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	d.AddListener(func(f *EventFrame) { calls++ })

	d.Dispatch(&EventFrame{Type: EventHeartbeat})
	d.Dispatch(&EventFrame{Type: EventConnected})
	if calls != 0 {
		t.Fatalf("bookkeeping frames reached listeners: %d calls", calls)
	}

	d.Dispatch(&EventFrame{Type: EventNewMessage})
	if calls != 1 {
		t.Fatalf("expected 1 call for new_message, got %d", calls)
	}
}

func TestDispatcher_FanOutInRegistrationOrder(t *testing.T) {
	d := NewDispatcher()
	var order []string

	first := func(f *EventFrame) { order = append(order, "first") }
	second := func(f *EventFrame) { order = append(order, "second") }
	third := func(f *EventFrame) { order = append(order, "third") }

	d.AddListener(first)
	d.AddListener(second)
	d.AddListener(third)

	d.Dispatch(&EventFrame{Type: EventNewMessage})

	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("unexpected invocation order: %v", order)
	}
}

func TestDispatcher_HandleSemantics(t *testing.T) {
	d := NewDispatcher()
	calls := 0

	if h := d.AddListener(nil); h != nil {
		t.Fatalf("nil listener registered: %+v", h)
	}

	h := d.AddListener(func(f *EventFrame) { calls++ })
	d.RemoveListener(nil)
	if d.Len() != 1 {
		t.Fatalf("removing nil handle changed set, len=%d", d.Len())
	}

	d.Dispatch(&EventFrame{Type: EventNewMessage})
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}

	d.RemoveListener(h)
	d.RemoveListener(h)
	d.Dispatch(&EventFrame{Type: EventNewMessage})
	if calls != 1 || d.Len() != 0 {
		t.Fatalf("removed listener still registered: calls=%d len=%d", calls, d.Len())
	}
}

// 方法值只携带代码指针：两个订阅各自注册 HandleFrame，
// 必须作为两个独立的监听者存在，互不顶替、互不连带注销。
func TestDispatcher_MethodValuesOnDistinctReceivers(t *testing.T) {
	d := NewDispatcher()

	recA := &subRecorder{}
	invA, _ := recA.hooks()
	recB := &subRecorder{}
	invB, _ := recB.hooks()

	subA := NewSubscription(Scope{ID: "userX"}, "userA", invA, nil)
	subB := NewSubscription(Scope{ID: "userY"}, "userB", invB, nil)

	hA := d.AddListener(subA.HandleFrame)
	d.AddListener(subB.HandleFrame)
	if d.Len() != 2 {
		t.Fatalf("expected 2 listeners, got %d", d.Len())
	}

	d.Dispatch(directMessage("userC", "某人", "userD", "晚上开会"))
	if recA.invalidated != 1 || recB.invalidated != 1 {
		t.Fatalf("fan-out missed a subscription: a=%d b=%d", recA.invalidated, recB.invalidated)
	}

	d.RemoveListener(hA)
	d.Dispatch(directMessage("userC", "某人", "userD", "改到明早"))
	if recA.invalidated != 1 || recB.invalidated != 2 {
		t.Fatalf("removing one subscription affected the other: a=%d b=%d", recA.invalidated, recB.invalidated)
	}
}

func TestDispatcher_ListenerUnregistersItselfMidDispatch(t *testing.T) {
	d := NewDispatcher()
	var got []string

	var self *ListenerHandle
	self = d.AddListener(func(f *EventFrame) {
		got = append(got, "self")
		d.RemoveListener(self)
	})
	d.AddListener(func(f *EventFrame) { got = append(got, "after") })

	d.Dispatch(&EventFrame{Type: EventNewMessage})
	if len(got) != 2 || got[1] != "after" {
		t.Fatalf("self-unregister broke fan-out: %v", got)
	}

	got = nil
	d.Dispatch(&EventFrame{Type: EventNewMessage})
	if len(got) != 1 || got[0] != "after" {
		t.Fatalf("unregistered listener still invoked: %v", got)
	}
}

func TestDispatcher_PanickingListenerIsIsolated(t *testing.T) {
	d := NewDispatcher()
	reached := false

	d.AddListener(func(f *EventFrame) { panic("boom") })
	d.AddListener(func(f *EventFrame) { reached = true })

	d.Dispatch(&EventFrame{Type: EventNewMessage})
	if !reached {
		t.Fatalf("listener after panicking one was not invoked")
	}
}
