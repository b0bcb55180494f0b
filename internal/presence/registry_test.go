package presence

import (
	"context"
	"testing"

	"github.com/teamspace/huddle/internal/domain"
)

type nopConn struct{ sent [][]byte }

func (c *nopConn) TrySend(b []byte) error { c.sent = append(c.sent, b); return nil }
func (c *nopConn) Close()                 {}

func user(id domain.UserID) *domain.User {
	return &domain.User{ID: id, Name: string(id), Role: domain.RoleMember}
}

func TestBindGetUnbind(t *testing.T) {
	r := NewRegistry()
	conn := &nopConn{}
	r.Bind("s1", user("u1"), conn, nil)

	sess, ok := r.Get("s1")
	if !ok || sess.User.ID != "u1" || sess.RoomID != "" {
		t.Fatalf("unexpected session: %+v ok=%v", sess, ok)
	}

	r.Unbind("s1")
	if _, ok := r.Get("s1"); ok {
		t.Fatal("session survived unbind")
	}
}

func TestRoomSubscription(t *testing.T) {
	r := NewRegistry()
	r.Bind("s1", user("u1"), &nopConn{}, nil)
	r.Bind("s2", user("u2"), &nopConn{}, nil)
	r.Bind("s3", user("u3"), &nopConn{}, nil)

	r.SetRoom("s1", "room-a")
	r.SetRoom("s2", "room-a")
	r.SetRoom("s3", "room-b")

	if got := len(r.MembersOf("room-a")); got != 2 {
		t.Fatalf("room-a members = %d, want 2", got)
	}

	sess, ok := r.ByUser("room-a", "u2")
	if !ok || sess.SID != "s2" {
		t.Fatalf("ByUser lookup failed: %+v ok=%v", sess, ok)
	}
	if _, ok := r.ByUser("room-a", "u3"); ok {
		t.Fatal("found u3 in a room it never joined")
	}

	// Clearing the subscription makes the user invisible to the relay.
	r.SetRoom("s2", "")
	if _, ok := r.ByUser("room-a", "u2"); ok {
		t.Fatal("cleared subscription still visible")
	}
}

func TestSetRoomUnknownSession(t *testing.T) {
	r := NewRegistry()
	if r.SetRoom("ghost", "room-a") {
		t.Fatal("SetRoom succeeded for unknown session")
	}
}

func TestCancelFiresContext(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	r.Bind("s1", user("u1"), &nopConn{}, cancel)

	if !r.Cancel("s1") {
		t.Fatal("Cancel returned false for bound session")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("cancel func did not fire")
	}
	if r.Cancel("ghost") {
		t.Fatal("Cancel returned true for unknown session")
	}
}
