package lifecycle

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/Iron-Ham/zektor/internal/session"
)

// checkInvariants verifies the occupancy and lifecycle rules on one view.
func checkInvariants(t *testing.T, m *Manager) {
	t.Helper()
	v := m.View()

	seen := make(map[int]int)
	for _, slot := range v.Slots {
		if !slot.Occupied() {
			continue
		}
		if prev, dup := seen[slot.SessionID]; dup {
			t.Fatalf("session %d holds stages %d and %d", slot.SessionID, prev, slot.Stage)
		}
		seen[slot.SessionID] = slot.Stage

		sess, ok := v.Sessions[slot.SessionID]
		if !ok {
			t.Fatalf("stage %d references unknown session %d", slot.Stage, slot.SessionID)
		}
		if sess.Position != session.AtStage(slot.Stage) {
			t.Fatalf("session %d occupies stage %d but records %v", sess.ID, slot.Stage, sess.Position)
		}
	}

	active := make(map[int]bool)
	for _, sess := range v.Active {
		active[sess.ID] = true
		if _, ok := seen[sess.ID]; !ok {
			t.Fatalf("active session %d holds no stage", sess.ID)
		}
	}
	for _, sess := range v.Completed {
		if active[sess.ID] {
			t.Fatalf("session %d is both active and completed", sess.ID)
		}
		if _, ok := seen[sess.ID]; ok {
			t.Fatalf("completed session %d still holds a stage", sess.ID)
		}
		if !sess.Position.IsCompleted() {
			t.Fatalf("completed session %d records %v", sess.ID, sess.Position)
		}
	}
	for _, sess := range v.Unplaced {
		if !sess.Position.IsUnplaced() {
			t.Fatalf("unplaced session %d records %v", sess.ID, sess.Position)
		}
	}
	if got := len(v.Active) + len(v.Completed) + len(v.Unplaced); got != len(v.Sessions) {
		t.Fatalf("%d sessions but %d across the three lists", len(v.Sessions), got)
	}
	for id := range v.Sessions {
		if id >= v.NextID {
			t.Fatalf("session id %d is not below next id %d", id, v.NextID)
		}
	}
}

func TestRandomCommandsPreserveInvariants(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			ctx := context.Background()
			rng := rand.New(rand.NewSource(seed))
			p := &memPersister{}
			m, _ := newTestManager(t, 5, WithPersister(p))

			lastID := 0
			positions := make(map[int]session.Position)

			for step := 0; step < 400; step++ {
				switch rng.Intn(5) {
				case 0:
					res, err := m.Start(ctx, "")
					if err != nil {
						t.Fatal(err)
					}
					if res.ID <= lastID {
						t.Fatalf("id %d not greater than previous %d", res.ID, lastID)
					}
					lastID = res.ID
				case 1, 2:
					if lastID == 0 {
						continue
					}
					_, _ = m.Advance(ctx, rng.Intn(lastID)+1)
				case 3:
					if lastID == 0 {
						continue
					}
					_ = m.Place(ctx, rng.Intn(lastID)+1)
				case 4:
					if lastID == 0 {
						continue
					}
					_, _ = m.AdjustScore(ctx, rng.Intn(lastID)+1, rng.Intn(11)-5)
				}

				checkInvariants(t, m)

				// Positions only move forward one step at a time.
				for id, sess := range m.View().Sessions {
					prev, known := positions[id]
					cur := sess.Position
					if known && prev != cur {
						switch {
						case prev.IsUnplaced():
							if cur != session.AtStage(1) {
								t.Fatalf("session %d jumped from unplaced to %v", id, cur)
							}
						case prev.IsCompleted():
							t.Fatalf("session %d left completed for %v", id, cur)
						default:
							s, _ := prev.Stage()
							if s == 5 && !cur.IsCompleted() || s < 5 && cur != session.AtStage(s+1) {
								t.Fatalf("session %d moved from %v to %v", id, prev, cur)
							}
						}
					}
					positions[id] = cur
				}
			}

			// Round-trip the saved state.
			reopened, err := Open(ctx, 5, WithPersister(p))
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			checkInvariants(t, reopened)
		})
	}
}

func TestConcurrentCommands(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 5, WithPersister(&memPersister{}))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 100; i++ {
				switch rng.Intn(4) {
				case 0:
					_, _ = m.Start(ctx, "")
				case 1:
					_, _ = m.Advance(ctx, rng.Intn(20)+1)
				case 2:
					_, _, _ = m.AdjustScoreAt(ctx, rng.Intn(5)+1, 1)
				case 3:
					_ = m.View()
					_ = m.ListActive()
				}
			}
		}(int64(w))
	}
	wg.Wait()

	checkInvariants(t, m)
}
