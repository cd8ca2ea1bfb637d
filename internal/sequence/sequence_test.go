package sequence

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB creates a throwaway sqlite database for a single test.
// Connections are capped at one so concurrent callers serialize at the
// pool instead of tripping sqlite's busy handler.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access underlying connection: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&SequenceCounter{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	return db
}

func TestNextValueStartsAtOneAndIncrements(t *testing.T) {
	allocator := NewAllocator(newTestDB(t))

	for want := int64(1); want <= 5; want++ {
		got, err := allocator.NextValue("orders_2026-01-01")
		if err != nil {
			t.Fatalf("NextValue failed: %v", err)
		}
		if got != want {
			t.Errorf("NextValue = %d, want %d", got, want)
		}
	}
}

func TestNextValueIndependentKeys(t *testing.T) {
	allocator := NewAllocator(newTestDB(t))

	if _, err := allocator.NextValue("orders_2026-01-01"); err != nil {
		t.Fatalf("NextValue failed: %v", err)
	}
	if _, err := allocator.NextValue("orders_2026-01-01"); err != nil {
		t.Fatalf("NextValue failed: %v", err)
	}

	got, err := allocator.NextValue("orders_2026-01-02")
	if err != nil {
		t.Fatalf("NextValue failed: %v", err)
	}
	if got != 1 {
		t.Errorf("fresh key NextValue = %d, want 1", got)
	}
}

func TestNextValueEmptyKey(t *testing.T) {
	allocator := NewAllocator(newTestDB(t))

	if _, err := allocator.NextValue(""); err == nil {
		t.Fatal("expected error for empty sequence key")
	}
}

func TestNextValueConcurrent(t *testing.T) {
	allocator := NewAllocator(newTestDB(t))

	const callers = 20
	values := make(chan int64, callers)
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := allocator.NextValue("orders_2026-01-01")
			if err != nil {
				t.Errorf("NextValue failed: %v", err)
				return
			}
			values <- v
		}()
	}

	wg.Wait()
	close(values)

	seen := make(map[int64]bool)
	for v := range values {
		if seen[v] {
			t.Errorf("value %d handed out twice", v)
		}
		seen[v] = true
		if v < 1 || v > callers {
			t.Errorf("value %d outside expected range 1..%d", v, callers)
		}
	}
	if len(seen) != callers {
		t.Errorf("got %d distinct values, want %d", len(seen), callers)
	}
}

func TestDailyKey(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{
			name: "utc midday",
			at:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			want: "orders_2026-03-01",
		},
		{
			name: "local time normalized to utc",
			at:   time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("west", -5*3600)),
			want: "orders_2026-03-02",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DailyKey("orders", tt.at); got != tt.want {
				t.Errorf("DailyKey = %q, want %q", got, tt.want)
			}
		})
	}
}
