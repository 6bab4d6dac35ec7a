package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + room summary)", result.Version)
	}
}

// TestMigrateRebuildsCacheKeepsClient verifies the cache-rebuild policy: a
// schema generation bump drops every cache table but keeps the client identity
// and resets its pagination cursor, forcing the next sync to start fresh.
func TestMigrateRebuildsCacheKeepsClient(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.MigrateTo(1); err != nil {
		t.Fatal(err)
	}

	// Populate a generation-1 store: client with a cursor plus cached rows.
	if err := db.SaveClient(&Client{Name: "main", UserID: "@me:hs", PrevBatch: "s100"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO rooms (room_id, membership) VALUES ('!r:hs', 'join')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO events (event_id, room_id) VALUES ('$e1', '!r:hs')`); err != nil {
		t.Fatal(err)
	}

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Version != 2 {
		t.Fatalf("version = %d, want 2", result.Version)
	}

	// Cache tables rebuilt empty.
	var rooms, events int
	if err := db.QueryRow(`SELECT COUNT(*) FROM rooms`).Scan(&rooms); err != nil {
		t.Fatal(err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&events); err != nil {
		t.Fatal(err)
	}
	if rooms != 0 || events != 0 {
		t.Errorf("cache rows after rebuild = %d rooms, %d events, want 0, 0", rooms, events)
	}

	// Client identity survives with a reset cursor.
	c, err := db.GetClient("main")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("client row lost during rebuild")
	}
	if c.UserID != "@me:hs" {
		t.Errorf("user_id = %q, want @me:hs", c.UserID)
	}
	if c.PrevBatch != "" {
		t.Errorf("prev_batch = %q, want empty after rebuild", c.PrevBatch)
	}
}

func TestClientSaveAndGet(t *testing.T) {
	db := testDB(t)

	c := &Client{
		Name:           "main",
		AccessToken:    "tok",
		Homeserver:     "https://hs",
		UserID:         "@me:hs",
		DeviceID:       "DEV1",
		DeviceName:     "laptop",
		PrevBatch:      "s42",
		ServerVersions: []string{"v1.10", "v1.11"},
		LazyLoading:    true,
	}
	if err := db.SaveClient(c); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetClient("main")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("client not found")
	}
	if got.AccessToken != "tok" || got.DeviceID != "DEV1" || got.PrevBatch != "s42" {
		t.Errorf("got %+v", got)
	}
	if len(got.ServerVersions) != 2 || got.ServerVersions[1] != "v1.11" {
		t.Errorf("server versions = %v", got.ServerVersions)
	}
	if !got.LazyLoading {
		t.Error("lazy_loading not persisted")
	}

	// Credential refresh overwrites.
	c.AccessToken = "tok2"
	if err := db.SaveClient(c); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetClient("main")
	if got.AccessToken != "tok2" {
		t.Errorf("access_token = %q, want tok2", got.AccessToken)
	}
}

func TestGetClientMissingMeansLoggedOut(t *testing.T) {
	db := testDB(t)

	c, err := db.GetClient("nobody")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("expected nil client for missing row, got %+v", c)
	}
}

func TestDeleteClientClearsEverything(t *testing.T) {
	db := testDB(t)

	if err := db.SaveClient(&Client{Name: "main", UserID: "@me:hs"}); err != nil {
		t.Fatal(err)
	}
	err := db.WithTxn(func(tx *Txn) error {
		if err := tx.EnsureRoom("!r:hs", MembershipJoin); err != nil {
			return err
		}
		if err := tx.UpsertEvent(&Event{ID: "$e1", RoomID: "!r:hs", Status: StatusSynced}); err != nil {
			return err
		}
		return tx.UpsertPresence("@a:hs", `{"presence":"online"}`)
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteClient("main"); err != nil {
		t.Fatal(err)
	}

	c, _ := db.GetClient("main")
	if c != nil {
		t.Error("client row still present")
	}
	r, _ := db.GetRoom("!r:hs")
	if r != nil {
		t.Error("room row still present")
	}
	pres, _ := db.PresenceMap()
	if len(pres) != 0 {
		t.Errorf("presences = %v, want empty", pres)
	}
}

func TestEnsureRoomIsLazyAndIdempotent(t *testing.T) {
	db := testDB(t)

	err := db.WithTxn(func(tx *Txn) error {
		if err := tx.EnsureRoom("!r:hs", MembershipInvite); err != nil {
			return err
		}
		// Second sight must not clobber the existing row.
		return tx.EnsureRoom("!r:hs", MembershipJoin)
	})
	if err != nil {
		t.Fatal(err)
	}

	r, err := db.GetRoom("!r:hs")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil {
		t.Fatal("room not created")
	}
	if r.Membership != MembershipInvite {
		t.Errorf("membership = %q, want invite (initial tag preserved)", r.Membership)
	}
}

func TestApplyRoomPatchSparse(t *testing.T) {
	db := testDB(t)

	err := db.WithTxn(func(tx *Txn) error {
		if err := tx.EnsureRoom("!r:hs", MembershipJoin); err != nil {
			return err
		}
		return tx.ApplyRoomPatch(&RoomPatch{
			ID:          "!r:hs",
			Membership:  MembershipJoin,
			JoinedCount: intPtr(5),
			Heroes:      []string{"@a:hs", "@b:hs"},
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	// A later patch without summary fields must leave them untouched.
	err = db.WithTxn(func(tx *Txn) error {
		return tx.ApplyRoomPatch(&RoomPatch{
			ID:                "!r:hs",
			Membership:        MembershipJoin,
			NotificationCount: 3,
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	r, err := db.GetRoom("!r:hs")
	if err != nil {
		t.Fatal(err)
	}
	if r.NotificationCount != 3 {
		t.Errorf("notification_count = %d, want 3", r.NotificationCount)
	}
	if r.JoinedCount != 5 {
		t.Errorf("joined_count = %d, want 5 (absent field preserved)", r.JoinedCount)
	}
	if len(r.Heroes) != 2 || r.Heroes[0] != "@a:hs" {
		t.Errorf("heroes = %v, want [@a:hs @b:hs]", r.Heroes)
	}
}

func TestApplyRoomPatchCursor(t *testing.T) {
	db := testDB(t)

	err := db.WithTxn(func(tx *Txn) error {
		if err := tx.EnsureRoom("!r:hs", MembershipJoin); err != nil {
			return err
		}
		return tx.ApplyRoomPatch(&RoomPatch{ID: "!r:hs", Membership: MembershipJoin, PrevBatch: strPtr("t123")})
	})
	if err != nil {
		t.Fatal(err)
	}

	r, _ := db.GetRoom("!r:hs")
	if r.PrevBatch != "t123" {
		t.Errorf("prev_batch = %q, want t123", r.PrevBatch)
	}
}

func TestListRoomsFilters(t *testing.T) {
	db := testDB(t)

	seed := []struct {
		id         string
		membership string
		joined     int
		invited    int
	}{
		{"!direct:hs", MembershipJoin, 2, 0},
		{"!group:hs", MembershipJoin, 5, 1},
		{"!gone:hs", MembershipLeave, 2, 0},
	}
	err := db.WithTxn(func(tx *Txn) error {
		for _, s := range seed {
			if err := tx.EnsureRoom(s.id, s.membership); err != nil {
				return err
			}
			if err := tx.ApplyRoomPatch(&RoomPatch{
				ID:           s.id,
				Membership:   s.membership,
				JoinedCount:  intPtr(s.joined),
				InvitedCount: intPtr(s.invited),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		filter RoomFilter
		want   []string
	}{
		{"not left", RoomFilter{}, []string{"!direct:hs", "!group:hs"}},
		{"left", RoomFilter{Left: true}, []string{"!gone:hs"}},
		{"direct only", RoomFilter{DirectOnly: true}, []string{"!direct:hs"}},
		{"group only", RoomFilter{GroupOnly: true}, []string{"!group:hs"}},
		{"both filters yield nothing", RoomFilter{DirectOnly: true, GroupOnly: true}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rooms, err := db.ListRooms(tc.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(rooms) != len(tc.want) {
				t.Fatalf("got %d rooms, want %d", len(rooms), len(tc.want))
			}
			for i, id := range tc.want {
				if rooms[i].ID != id {
					t.Errorf("rooms[%d] = %q, want %q", i, rooms[i].ID, id)
				}
			}
		})
	}
}

func TestStateEntryLatestWins(t *testing.T) {
	db := testDB(t)

	contents := []string{
		`{"name":"one"}`,
		`{"name":"two"}`,
		`{"name":"three"}`,
	}
	err := db.WithTxn(func(tx *Txn) error {
		for i, c := range contents {
			if err := tx.UpsertStateEntry(&StateEntry{
				RoomID:    "!r:hs",
				StateKey:  "",
				Type:      "m.room.name",
				EventID:   "$e" + string(rune('1'+i)),
				Timestamp: int64(1000 + i),
				Content:   c,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	entries, err := db.RoomStateEntries("!r:hs")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d state rows, want 1", len(entries))
	}
	if entries[0].Content != `{"name":"three"}` {
		t.Errorf("content = %q, want last applied", entries[0].Content)
	}
}

func TestAccountDataAndPresenceMaps(t *testing.T) {
	db := testDB(t)

	err := db.WithTxn(func(tx *Txn) error {
		if err := tx.UpsertAccountData("m.direct", `{"v":1}`); err != nil {
			return err
		}
		if err := tx.UpsertAccountData("m.direct", `{"v":2}`); err != nil {
			return err
		}
		if err := tx.UpsertPresence("@a:hs", `{"presence":"online"}`); err != nil {
			return err
		}
		return tx.UpsertPresence("@a:hs", `{"presence":"offline"}`)
	})
	if err != nil {
		t.Fatal(err)
	}

	ad, err := db.AccountDataMap()
	if err != nil {
		t.Fatal(err)
	}
	if len(ad) != 1 || ad["m.direct"] != `{"v":2}` {
		t.Errorf("account data = %v, want one latest value", ad)
	}

	pres, err := db.PresenceMap()
	if err != nil {
		t.Fatal(err)
	}
	if len(pres) != 1 || pres["@a:hs"] != `{"presence":"offline"}` {
		t.Errorf("presences = %v, want one latest value", pres)
	}
}

func TestRoomAccountData(t *testing.T) {
	db := testDB(t)

	err := db.WithTxn(func(tx *Txn) error {
		if err := tx.UpsertRoomAccountData("m.fully_read", "!r:hs", `{"event_id":"$a"}`); err != nil {
			return err
		}
		return tx.UpsertRoomAccountData("m.fully_read", "!r:hs", `{"event_id":"$b"}`)
	})
	if err != nil {
		t.Fatal(err)
	}

	content, err := db.GetRoomAccountData("m.fully_read", "!r:hs")
	if err != nil {
		t.Fatal(err)
	}
	if content != `{"event_id":"$b"}` {
		t.Errorf("content = %q, want latest", content)
	}

	missing, err := db.GetRoomAccountData("m.tag", "!r:hs")
	if err != nil {
		t.Fatal(err)
	}
	if missing != "" {
		t.Errorf("missing content = %q, want empty", missing)
	}
}

func TestNotificationRefs(t *testing.T) {
	db := testDB(t)

	id1, err := db.AddNotificationRef("!r:hs", "$e1")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := db.AddNotificationRef("!r:hs", "$e2")
	if err != nil {
		t.Fatal(err)
	}
	if id2 <= id1 {
		t.Errorf("ids not increasing: %d then %d", id1, id2)
	}
	if _, err := db.AddNotificationRef("!other:hs", "$e3"); err != nil {
		t.Fatal(err)
	}

	refs, err := db.NotificationRefs("!r:hs")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2", len(refs))
	}

	cleared, err := db.ClearNotificationRefs("!r:hs")
	if err != nil {
		t.Fatal(err)
	}
	if cleared != 2 {
		t.Errorf("cleared = %d, want 2", cleared)
	}
	refs, _ = db.NotificationRefs("!r:hs")
	if len(refs) != 0 {
		t.Errorf("got %d refs after clear, want 0", len(refs))
	}
	other, _ := db.NotificationRefs("!other:hs")
	if len(other) != 1 {
		t.Errorf("other room refs = %d, want 1 (untouched)", len(other))
	}
}

// TestRollbackLeavesCommittedState verifies a failed scope does not leak
// partial writes: the batch either commits whole or not at all.
func TestRollbackLeavesCommittedState(t *testing.T) {
	db := testDB(t)

	err := db.WithTxn(func(tx *Txn) error {
		return tx.UpsertEvent(&Event{ID: "$keep", RoomID: "!r:hs", Status: StatusSynced})
	})
	if err != nil {
		t.Fatal(err)
	}

	boom := db.WithTxn(func(tx *Txn) error {
		if err := tx.UpsertEvent(&Event{ID: "$lost", RoomID: "!r:hs", Status: StatusSynced}); err != nil {
			return err
		}
		return errTest
	})
	if boom == nil {
		t.Fatal("expected error from failing scope")
	}

	if e, _ := db.GetEvent("$lost", "!r:hs"); e != nil {
		t.Error("rolled-back write is visible")
	}
	if e, _ := db.GetEvent("$keep", "!r:hs"); e == nil {
		t.Error("previously committed write lost")
	}
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "test failure" }
