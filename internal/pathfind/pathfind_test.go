// File: internal/pathfind/pathfind_test.go
// Project: Coldport
// Description: Tests for BFS autopilot routing over a seeded warp graph
package pathfind

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// openGraph builds an in-memory sectors/sector_warps pair: the 1-10 ring
// that seed.sql also lays out, plus chords 9->2 and 2->6 that the seed does
// not have, every edge mirrored. The shortest 9->6 route here is 9->2->6.
func openGraph(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`CREATE TABLE sectors (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("failed to create sectors: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE sector_warps (from_sector INTEGER, to_sector INTEGER)`); err != nil {
		t.Fatalf("failed to create sector_warps: %v", err)
	}

	for i := 1; i <= 10; i++ {
		if _, err := db.Exec(`INSERT INTO sectors (id) VALUES (?)`, i); err != nil {
			t.Fatalf("failed to seed sector %d: %v", i, err)
		}
	}

	edges := [][2]int{
		{1, 2}, {2, 3}, {3, 4}, {4, 5}, {5, 6}, {6, 7}, {7, 8}, {8, 9}, {9, 10}, {10, 1},
		{9, 2}, {2, 6},
	}
	for _, e := range edges {
		if _, err := db.Exec(`INSERT INTO sector_warps (from_sector, to_sector) VALUES (?, ?)`, e[0], e[1]); err != nil {
			t.Fatalf("failed to seed warp %v: %v", e, err)
		}
		if _, err := db.Exec(`INSERT INTO sector_warps (from_sector, to_sector) VALUES (?, ?)`, e[1], e[0]); err != nil {
			t.Fatalf("failed to seed reverse warp %v: %v", e, err)
		}
	}
	return db
}

func TestFindPathShortestRoute(t *testing.T) {
	db := openGraph(t)
	ctx := context.Background()

	route, err := FindPath(ctx, db, 9, 6, nil)
	if err != nil {
		t.Fatalf("FindPath(9, 6) returned error: %v", err)
	}
	if route.Hops > 4 {
		t.Errorf("expected hop count <= 4 over the seeded ring, got %d (path=%v)", route.Hops, route.Path)
	}
	if route.FromSectorID != 9 || route.ToSectorID != 6 {
		t.Errorf("unexpected endpoints: from=%d to=%d", route.FromSectorID, route.ToSectorID)
	}
	if route.Path[0] != 9 || route.Path[len(route.Path)-1] != 6 {
		t.Errorf("path does not start/end at requested sectors: %v", route.Path)
	}
	if route.Hops != len(route.Path)-1 {
		t.Errorf("Hops (%d) does not match len(Path)-1 (%d)", route.Hops, len(route.Path)-1)
	}
}

func TestFindPathSameSectorIsZeroHops(t *testing.T) {
	db := openGraph(t)
	route, err := FindPath(context.Background(), db, 3, 3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.Hops != 0 || len(route.Path) != 1 || route.Path[0] != 3 {
		t.Errorf("unexpected same-sector route: %+v", route)
	}
	if route.FromSectorID != 3 {
		t.Errorf("FromSectorID must always be populated, got %d", route.FromSectorID)
	}
}

func TestFindPathRespectsAvoidSet(t *testing.T) {
	db := openGraph(t)
	// Force the direct chord closed; only the long way around the ring remains.
	route, err := FindPath(context.Background(), db, 9, 6, []int64{2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range route.Path {
		if s == 2 {
			t.Fatalf("path must not contain an avoided vertex: %v", route.Path)
		}
	}
}

func TestFindPathRefusesWhenUnreachable(t *testing.T) {
	db := openGraph(t)
	// Isolate sector 6 entirely by avoiding every one of its neighbors.
	_, err := FindPath(context.Background(), db, 9, 6, []int64{5, 7, 2})
	if err != ErrNoPath {
		t.Fatalf("expected ErrNoPath when every approach to the destination is avoided, got %v", err)
	}
}

func TestFindPathRefusesOutOfRangeSectors(t *testing.T) {
	db := openGraph(t)
	if _, err := FindPath(context.Background(), db, 9, 999, nil); err != ErrNoPath {
		t.Errorf("expected ErrNoPath for an out-of-range destination, got %v", err)
	}
	if _, err := FindPath(context.Background(), db, 0, 6, nil); err != ErrNoPath {
		t.Errorf("expected ErrNoPath for sector 0, got %v", err)
	}
}
