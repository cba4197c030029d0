package store

import (
	"errors"
	"testing"
)

func appendText(t *testing.T, db *DB, accountID int64, peer string, state MessageState, ts int64, body, stanzaID string) *Message {
	t.Helper()
	msg, outcome, err := db.AppendItem(AppendParams{
		AccountID: accountID, Peer: peer, State: state,
		Timestamp: ts, Body: body, StanzaID: stanzaID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != AppendInserted {
		t.Fatalf("outcome = %v, want AppendInserted", outcome)
	}
	return msg
}

// Appending the same message twice within the dedup window must yield
// exactly one stored row.
func TestAppendDedupIdempotence(t *testing.T) {
	db := testDB(t)
	a := testAccount(t, db, "user@example.org")

	p := AppendParams{
		AccountID: a.ID, Peer: "b@example.org", State: StateIncomingUnread,
		Timestamp: 1_000_000, Body: "hello", StanzaID: "s1",
	}
	if _, outcome, err := db.AppendItem(p); err != nil || outcome != AppendInserted {
		t.Fatalf("first append: outcome=%v err=%v", outcome, err)
	}

	_, _, err := db.AppendItem(p)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second append err = %v, want ErrDuplicate", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM chat_history`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("stored rows = %d, want 1", count)
	}
}

func TestAppendDedupWindows(t *testing.T) {
	db := testDB(t)
	a := testAccount(t, db, "user@example.org")
	base := int64(10_000_000)

	appendText(t, db, a.ID, "b@example.org", StateIncoming, base, "hello", "")

	// Same payload, no stanza id, 4 minutes later: inside ±5 min window.
	_, _, err := db.AppendItem(AppendParams{
		AccountID: a.ID, Peer: "b@example.org", State: StateIncoming,
		Timestamp: base + 4*60*1000, Body: "hello",
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("4 min replay err = %v, want ErrDuplicate", err)
	}

	// 6 minutes later: outside the no-stanza-id window, accepted.
	if _, outcome, err := db.AppendItem(AppendParams{
		AccountID: a.ID, Peer: "b@example.org", State: StateIncoming,
		Timestamp: base + 6*60*1000, Body: "hello",
	}); err != nil || outcome != AppendInserted {
		t.Errorf("6 min replay: outcome=%v err=%v, want insert", outcome, err)
	}

	// With a stanza id the window stretches to ±60 min: archive replay
	// of a stanza 30 minutes later is absorbed.
	appendText(t, db, a.ID, "c@example.org", StateIncoming, base, "archived", "stanza-1")
	_, _, err = db.AppendItem(AppendParams{
		AccountID: a.ID, Peer: "c@example.org", State: StateIncoming,
		Timestamp: base + 30*60*1000, Body: "archived", StanzaID: "stanza-1",
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("30 min archive replay err = %v, want ErrDuplicate", err)
	}
}

func TestAppendDedupRespectsDirection(t *testing.T) {
	db := testDB(t)
	a := testAccount(t, db, "user@example.org")

	appendText(t, db, a.ID, "b@example.org", StateIncoming, 1000, "ping", "")

	// Same payload and timestamp but the opposite direction is a
	// different message (echo of our own reply).
	if _, outcome, err := db.AppendItem(AppendParams{
		AccountID: a.ID, Peer: "b@example.org", State: StateOutgoing,
		Timestamp: 1000, Body: "ping",
	}); err != nil || outcome != AppendInserted {
		t.Errorf("opposite direction: outcome=%v err=%v, want insert", outcome, err)
	}
}

func TestAppendCorrelatesDeliveryReport(t *testing.T) {
	db := testDB(t)
	a := testAccount(t, db, "user@example.org")

	sent := appendText(t, db, a.ID, "b@example.org", StateOutgoing, 1000, "hi there", "msg-42")

	msg, outcome, err := db.AppendItem(AppendParams{
		AccountID: a.ID, Peer: "b@example.org", State: StateOutgoingDelivered,
		Timestamp: 2000, StanzaID: "msg-42",
	})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != AppendCorrelated {
		t.Fatalf("outcome = %v, want AppendCorrelated", outcome)
	}
	if msg.ID != sent.ID {
		t.Errorf("correlated id = %d, want %d", msg.ID, sent.ID)
	}

	got, err := db.GetMessage(sent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StateOutgoingDelivered {
		t.Errorf("state = %v, want outgoing-delivered", got.State)
	}

	// No extra row was inserted.
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM chat_history`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}
}

func TestAppendCorrelatesErrorReport(t *testing.T) {
	db := testDB(t)
	a := testAccount(t, db, "user@example.org")

	sent := appendText(t, db, a.ID, "b@example.org", StateOutgoing, 1000, "hi", "msg-7")

	msg, outcome, err := db.AppendItem(AppendParams{
		AccountID: a.ID, Peer: "b@example.org", State: StateOutgoingError,
		Timestamp: 2000, StanzaID: "msg-7", ErrorText: "recipient-unavailable",
	})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != AppendCorrelated || msg.ID != sent.ID {
		t.Fatalf("outcome=%v id=%d, want correlated %d", outcome, msg.ID, sent.ID)
	}

	got, _ := db.GetMessage(sent.ID)
	if got.State != StateOutgoingError || got.ErrorText != "recipient-unavailable" {
		t.Errorf("got state=%v error=%q", got.State, got.ErrorText)
	}
}

func TestReadMarkerNotDowngradedByDelivered(t *testing.T) {
	db := testDB(t)
	a := testAccount(t, db, "user@example.org")

	sent := appendText(t, db, a.ID, "b@example.org", StateOutgoing, 1000, "hi", "msg-9")
	if ok, err := db.UpdateItemState(sent.ID, nil, StateOutgoingRead, nil); err != nil || !ok {
		t.Fatal(err)
	}

	// A late delivery receipt must not regress the read state.
	if _, outcome, err := db.AppendItem(AppendParams{
		AccountID: a.ID, Peer: "b@example.org", State: StateOutgoingDelivered,
		Timestamp: 2000, StanzaID: "msg-9",
	}); err != nil || outcome != AppendCorrelated {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}

	got, _ := db.GetMessage(sent.ID)
	if got.State != StateOutgoingRead {
		t.Errorf("state = %v, want outgoing-read preserved", got.State)
	}
}

// A precondition mismatch is a lost race: no change, no error.
func TestUpdateItemStatePrecondition(t *testing.T) {
	db := testDB(t)
	a := testAccount(t, db, "user@example.org")

	msg := appendText(t, db, a.ID, "b@example.org", StateOutgoing, 1000, "hi", "")

	from := StateIncomingUnread
	ok, err := db.UpdateItemState(msg.ID, &from, StateIncoming, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("transition should have been a no-op")
	}

	got, _ := db.GetMessage(msg.ID)
	if got.State != StateOutgoing {
		t.Errorf("state = %v, want outgoing unchanged", got.State)
	}

	// Matching precondition applies, and the supplied timestamp wins.
	from = StateOutgoing
	ts := int64(5000)
	ok, err = db.UpdateItemState(msg.ID, &from, StateOutgoingDelivered, &ts)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v, want applied", ok, err)
	}
	got, _ = db.GetMessage(msg.ID)
	if got.State != StateOutgoingDelivered || got.Timestamp != 5000 {
		t.Errorf("got state=%v ts=%d", got.State, got.Timestamp)
	}
}

func TestMarkAsReadBulk(t *testing.T) {
	db := testDB(t)
	a := testAccount(t, db, "user@example.org")
	peer := "b@example.org"

	appendText(t, db, a.ID, peer, StateIncomingUnread, 1000, "one", "")
	appendText(t, db, a.ID, peer, StateIncomingUnread, 2000, "two", "")
	appendText(t, db, a.ID, peer, StateIncomingUnread, 3000, "three", "")
	appendText(t, db, a.ID, peer, StateIncomingErrorUnread, 4000, "broken", "")
	// A read incoming row and another conversation stay untouched.
	appendText(t, db, a.ID, peer, StateIncoming, 5000, "already read", "")
	appendText(t, db, a.ID, "c@example.org", StateIncomingUnread, 6000, "elsewhere", "")

	n, err := db.MarkAsRead(a.ID, peer, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("first MarkAsRead = %d, want 4", n)
	}

	n, err = db.MarkAsRead(a.ID, peer, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second MarkAsRead = %d, want 0", n)
	}

	// The other conversation is still unread.
	n, err = db.MarkAsRead(a.ID, "c@example.org", nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("other conversation MarkAsRead = %d, want 1", n)
	}
}

func TestMarkAsReadBounded(t *testing.T) {
	db := testDB(t)
	a := testAccount(t, db, "user@example.org")
	peer := "b@example.org"

	appendText(t, db, a.ID, peer, StateIncomingUnread, 1000, "old", "")
	appendText(t, db, a.ID, peer, StateIncomingUnread, 9000, "new", "")

	before := int64(5000)
	n, err := db.MarkAsRead(a.ID, peer, &before)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("bounded MarkAsRead = %d, want 1", n)
	}
}

func TestHistoryPagination(t *testing.T) {
	db := testDB(t)
	a := testAccount(t, db, "user@example.org")
	peer := "b@example.org"

	var ids []int64
	for i := 0; i < 10; i++ {
		msg := appendText(t, db, a.ID, peer, StateIncoming, int64(1_000_000+i*600_000), "msg", "")
		ids = append(ids, msg.ID)
	}

	// Newest page first.
	page, err := db.History(a.ID, peer, nil, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 || page[0].ID != ids[9] || page[2].ID != ids[7] {
		t.Fatalf("unexpected newest page: %+v", page)
	}

	// Load older relative to the oldest row of the first page.
	anchor := ids[7]
	older, err := db.History(a.ID, peer, &anchor, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 3 || older[0].ID != ids[7] || older[2].ID != ids[5] {
		t.Fatalf("unexpected older page: %+v", older)
	}
}

// Inserting a newer message must not shift the page returned for a
// held anchor: the offset is a count of newer rows, not a row index.
func TestHistoryPaginationStability(t *testing.T) {
	db := testDB(t)
	a := testAccount(t, db, "user@example.org")
	peer := "b@example.org"

	var ids []int64
	for i := 0; i < 6; i++ {
		msg := appendText(t, db, a.ID, peer, StateIncoming, int64(1_000_000+i*600_000), "msg", "")
		ids = append(ids, msg.ID)
	}

	anchor := ids[3]
	before, err := db.History(a.ID, peer, &anchor, 3)
	if err != nil {
		t.Fatal(err)
	}

	// A new message arrives while the caller holds the anchor.
	appendText(t, db, a.ID, peer, StateIncomingUnread, 9_000_000, "fresh", "")

	after, err := db.History(a.ID, peer, &anchor, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != len(after) {
		t.Fatalf("page sizes differ: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID {
			t.Errorf("row %d: id %d became %d", i, before[i].ID, after[i].ID)
		}
	}
}

func TestUnsentCount(t *testing.T) {
	db := testDB(t)
	a := testAccount(t, db, "user@example.org")

	appendText(t, db, a.ID, "b@example.org", StateOutgoingUnsent, 1000, "stuck one", "")
	appendText(t, db, a.ID, "c@example.org", StateOutgoingUnsent, 2000, "stuck two", "")
	appendText(t, db, a.ID, "b@example.org", StateOutgoing, 3000, "fine", "")

	n, err := db.UnsentCount(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("unsent count = %d, want 2", n)
	}
}

func TestDeleteHistoryCascadesPreviews(t *testing.T) {
	db := testDB(t)
	a := testAccount(t, db, "user@example.org")

	msg := appendText(t, db, a.ID, "b@example.org", StateIncoming, 1000, "with preview", "")
	if err := db.AttachPreview(&Preview{MessageID: msg.ID, URL: "https://example.org", Title: "Example"}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteHistory(a.ID, "b@example.org"); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM previews`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("dangling previews = %d, want 0", count)
	}
	p, err := db.GetPreview(msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Error("preview still reachable after history delete")
	}
}
