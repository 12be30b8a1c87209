package roomserver

import (
	"errors"
	"testing"
)

func member(id, user string) Member {
	return Member{Conn: &Connection{ID: id}, User: user, Avatar: user + "@example.com"}
}

func TestRegistry_JoinUntilFull(t *testing.T) {
	r := NewRegistry()

	got, err := r.Join(1, member("a", "Ada"))
	if err != nil || len(got) != 1 {
		t.Fatalf("first Join = %d members, err %v", len(got), err)
	}
	got, err = r.Join(1, member("b", "Bo"))
	if err != nil || len(got) != 2 {
		t.Fatalf("second Join = %d members, err %v", len(got), err)
	}
	if got[0].User != "Ada" || got[1].User != "Bo" {
		t.Errorf("members out of join order: %q, %q", got[0].User, got[1].User)
	}

	_, err = r.Join(1, member("c", "Cy"))
	if !errors.Is(err, ErrRoomFull) {
		t.Fatalf("third Join err = %v, want ErrRoomFull", err)
	}
}

func TestRegistry_RejoinSameRoomIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Join(1, member("a", "Ada"))

	got, err := r.Join(1, member("a", "Ada"))
	if err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("members = %d, want 1", len(got))
	}
}

func TestRegistry_PartnersAndLeave(t *testing.T) {
	r := NewRegistry()
	r.Join(7, member("a", "Ada"))
	r.Join(7, member("b", "Bo"))

	partners := r.Partners("a")
	if len(partners) != 1 || partners[0].User != "Bo" {
		t.Fatalf("Partners(a) = %+v", partners)
	}

	left, roomID, rest, ok := r.Leave("a")
	if !ok {
		t.Fatal("Leave(a) reported not in room")
	}
	if left.User != "Ada" || roomID != 7 {
		t.Errorf("Leave(a) = %q in room %d", left.User, roomID)
	}
	if len(rest) != 1 || rest[0].User != "Bo" {
		t.Errorf("rest = %+v", rest)
	}

	if _, _, _, ok := r.Leave("a"); ok {
		t.Error("second Leave(a) should report not in room")
	}

	r.Leave("b")
	if r.Len() != 0 {
		t.Errorf("Len() = %d after everyone left, want 0", r.Len())
	}
}
