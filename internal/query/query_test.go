package query

import (
	"testing"
	"time"

	"nuha.dev/geolog/internal/device"
	"nuha.dev/geolog/internal/livecache"
	"nuha.dev/geolog/internal/seglog"
)

func newTestService(t *testing.T) (*Service, *livecache.Cache, *seglog.Manager) {
	t.Helper()
	m, err := seglog.NewManager(&seglog.Config{Dir: t.TempDir(), MaxPoints: 500})
	if err != nil {
		t.Fatal(err)
	}
	cache := livecache.New()
	return NewService(cache, m), cache, m
}

func TestLatestCanonicalizesInput(t *testing.T) {
	s, cache, _ := newTestService(t)
	cache.Put(device.Fix{DeviceID: device.Canonical("AA:BB:CC:DD:EE:FF"), Lat: 37.5, Lng: 22.4})

	fix, ok := s.Latest("aa-bb-cc-dd-ee-ff")
	if !ok {
		t.Fatal("expected a hit across separator styles")
	}
	if fix.Lat != 37.5 || fix.Lng != 22.4 {
		t.Errorf("got %+v", fix)
	}
}

func TestLatestUnknownDeviceIsNotFound(t *testing.T) {
	s, _, _ := newTestService(t)
	_, ok := s.Latest("aa:bb:cc:dd:ee:00")
	if ok {
		t.Error("expected not-found signal")
	}
}

func TestHistoryEmptyDayIsNotAnError(t *testing.T) {
	s, _, _ := newTestService(t)
	fixes, err := s.History("aa:bb:cc:dd:ee:ff", "2025-06-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(fixes) != 0 {
		t.Errorf("expected empty history, got %d", len(fixes))
	}
}

func TestHistoryRejectsBadDay(t *testing.T) {
	s, _, _ := newTestService(t)
	_, err := s.History("aa:bb:cc:dd:ee:ff", "06/01/2025")
	if err != ErrBadDay {
		t.Errorf("expected ErrBadDay, got %v", err)
	}
}

func TestHistoryReadsLoggedFixes(t *testing.T) {
	s, _, m := newTestService(t)
	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	id := device.Canonical("AA:BB:CC:DD:EE:FF")
	for i := 0; i < 3; i++ {
		_, err := m.Append(device.Fix{DeviceID: id, Lat: float64(i), Lng: float64(i), Time: ts.Add(time.Duration(i) * time.Second)})
		if err != nil {
			t.Fatal(err)
		}
	}
	fixes, err := s.History("aa-bb-cc-dd-ee-ff", "2025-06-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(fixes) != 3 {
		t.Fatalf("expected 3 fixes, got %d", len(fixes))
	}
	if fixes[0].Lat != 0 || fixes[2].Lat != 2 {
		t.Errorf("unexpected order: %+v", fixes)
	}
}
