package sublist

import (
	"strconv"
	"sync"

	"nuha.dev/geolog/internal/device"
)

// Subscriber receives encoded live-fix payloads for devices it follows.
// Push returns true when the subscriber is gone and should be pruned.
type Subscriber interface {
	Push(id device.ID, data []byte) bool
	Closed() bool
}

// SublistMap holds one Sublist per canonical device id.
type SublistMap struct {
	mu   sync.Mutex
	list map[device.ID]*Sublist
}

type Sublist struct {
	key  device.ID
	mu   sync.Mutex
	list map[Subscriber]bool
	data []byte
}

func NewSublistMap() *SublistMap {
	return &SublistMap{list: make(map[device.ID]*Sublist)}
}

func (m *SublistMap) GetSublist(key device.ID, create bool) (*Sublist, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.list[key]
	if ok {
		return s, true
	}
	if !create {
		return nil, false
	}
	s = &Sublist{key: key, list: make(map[Subscriber]bool)}
	m.list[key] = s
	return s, true
}

// Publish encodes fix and fans it out to every sublist subscriber for the
// fix's device. Devices nobody follows cost one map lookup.
func (m *SublistMap) Publish(fix device.Fix) {
	s, ok := m.GetSublist(fix.DeviceID, false)
	if !ok {
		return
	}
	s.SendLocation(fix)
}

// Subscribe registers sub and immediately pushes the last known payload so a
// fresh dashboard is not blank until the device moves.
func (s *Sublist) Subscribe(sub Subscriber) {
	s.mu.Lock()
	s.list[sub] = true
	if s.data != nil {
		sub.Push(s.key, s.data)
	}
	s.mu.Unlock()
}

func (s *Sublist) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	delete(s.list, sub)
	s.mu.Unlock()
}

func (s *Sublist) SendLocation(fix device.Fix) {
	data := encodeLocation(fix)
	s.mu.Lock()
	s.data = data
	for sub := range s.list {
		closed := sub.Push(s.key, data)
		if closed {
			delete(s.list, sub)
		}
	}
	s.mu.Unlock()
}

func encodeLocation(fix device.Fix) []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, []byte(`{"mac":"`)...)
	buf = append(buf, []byte(fix.DeviceID)...)
	buf = append(buf, []byte(`","lat":`)...)
	buf = strconv.AppendFloat(buf, fix.Lat, 'f', -1, 64)
	buf = append(buf, []byte(`,"lng":`)...)
	buf = strconv.AppendFloat(buf, fix.Lng, 'f', -1, 64)
	buf = append(buf, []byte(`,"ts":`)...)
	buf = strconv.AppendInt(buf, fix.Time.Unix(), 10)
	buf = append(buf, '}')
	return buf
}
