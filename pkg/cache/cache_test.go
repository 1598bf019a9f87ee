package cache

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/vehiclelink/vehiclelink/internal/dispatcher"
)

func testSessions(age int) []dispatcher.CacheEntry {
	var sessions []dispatcher.CacheEntry
	for domain := 1; domain <= 2; domain++ {
		sessions = append(sessions, dispatcher.CacheEntry{
			CreatedAt:   time.Time{}.Add(time.Duration(age) * time.Hour),
			Domain:      domain,
			SessionInfo: []byte{byte(age), byte(domain)},
		})
	}
	return sessions
}

func testVIN(i int) string {
	return fmt.Sprintf("5YJ%014d", i)
}

func TestUpdateAndGet(t *testing.T) {
	c := New(0)
	if err := c.Update(testVIN(1), testSessions(1)); err != nil {
		t.Fatal(err)
	}
	sessions, ok := c.GetEntry(testVIN(1))
	if !ok || len(sessions) != 2 {
		t.Fatalf("GetEntry returned (%v, %t)", sessions, ok)
	}
	if _, ok := c.GetEntry(testVIN(9)); ok {
		t.Error("GetEntry found uncached vehicle")
	}
}

func TestEvictsOldestVehicle(t *testing.T) {
	c := New(3)
	for i := 1; i <= 4; i++ {
		if err := c.Update(testVIN(i), testSessions(i)); err != nil {
			t.Fatal(err)
		}
	}
	if len(c.Vehicles) != 3 {
		t.Fatalf("cache holds %d vehicles, want 3", len(c.Vehicles))
	}
	if _, ok := c.GetEntry(testVIN(1)); ok {
		t.Error("oldest vehicle not evicted")
	}
	for i := 2; i <= 4; i++ {
		if _, ok := c.GetEntry(testVIN(i)); !ok {
			t.Errorf("vehicle %d evicted unexpectedly", i)
		}
	}
}

func TestUpdateReplacesSessions(t *testing.T) {
	c := New(0)
	if err := c.Update(testVIN(1), testSessions(1)); err != nil {
		t.Fatal(err)
	}
	if err := c.Update(testVIN(1), testSessions(7)); err != nil {
		t.Fatal(err)
	}
	sessions, ok := c.GetEntry(testVIN(1))
	if !ok || len(sessions) != 2 {
		t.Fatalf("GetEntry returned (%v, %t)", sessions, ok)
	}
	if sessions[0].SessionInfo[0] != 7 {
		t.Error("Update did not replace existing sessions")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	c := New(5)
	for i := 1; i <= 3; i++ {
		if err := c.Update(testVIN(i), testSessions(i)); err != nil {
			t.Fatal(err)
		}
	}
	var buffer bytes.Buffer
	if err := c.Export(&buffer); err != nil {
		t.Fatal(err)
	}
	restored, err := Import(&buffer)
	if err != nil {
		t.Fatal(err)
	}
	if len(restored.Vehicles) != 3 {
		t.Fatalf("restored cache holds %d vehicles, want 3", len(restored.Vehicles))
	}
	for i := 1; i <= 3; i++ {
		sessions, ok := restored.GetEntry(testVIN(i))
		if !ok {
			t.Errorf("vehicle %d missing after round trip", i)
			continue
		}
		for j, entry := range sessions {
			original := testSessions(i)[j]
			if entry.Domain != original.Domain || !bytes.Equal(entry.SessionInfo, original.SessionInfo) {
				t.Errorf("vehicle %d session %d changed after round trip", i, j)
			}
			if !entry.CreatedAt.Equal(original.CreatedAt) {
				t.Errorf("vehicle %d session %d timestamp changed after round trip", i, j)
			}
		}
	}
}

func TestImportEmpty(t *testing.T) {
	restored, err := Import(bytes.NewReader([]byte("{}")))
	if err != nil {
		t.Fatal(err)
	}
	// A cache imported from minimal JSON must still accept updates.
	if err := restored.Update(testVIN(1), testSessions(1)); err != nil {
		t.Fatal(err)
	}
}
