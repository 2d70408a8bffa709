package seglog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/geolog/internal/device"
)

const prefix = "gps_log_"

// Manager owns the append-only per-device-per-day segment files. A segment
// holds at most MaxPoints lines; writes past that rotate to the next index.
// Appends for the same (device,day) key are serialized on a keyed lock so
// that two writers cannot both decide segment N is non-full.
type Manager struct {
	dir       string
	maxPoints int
	log       log.Logger

	mu   sync.Mutex
	segs map[string]*segState
}

// segState caches the active index and line count for one (device,day) key.
// It is rebuilt from the directory listing on first use, so nothing here is
// state the filesystem cannot re-derive after a crash.
type segState struct {
	mu      sync.Mutex
	scanned bool
	index   int
	count   int
}

type Config struct {
	Dir       string
	MaxPoints int
}

func NewManager(config *Config) (*Manager, error) {
	err := os.MkdirAll(config.Dir, 0o755)
	if err != nil {
		return nil, err
	}
	m := &Manager{dir: config.Dir, maxPoints: config.MaxPoints, segs: make(map[string]*segState)}
	m.log = log.DefaultLogger
	m.log.Context = log.NewContext(nil).Str("module", "seglog").Value()
	return m, nil
}

func segmentName(id device.ID, day string, index int) string {
	return fmt.Sprintf("%s%s_%s_%d.txt", prefix, id, day, index)
}

func segmentPrefix(id device.ID, day string) string {
	return fmt.Sprintf("%s%s_%s_", prefix, id, day)
}

func segmentIndex(name, keyPrefix string) (int, bool) {
	rest := strings.TrimPrefix(name, keyPrefix)
	rest = strings.TrimSuffix(rest, ".txt")
	idx, err := strconv.Atoi(rest)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

func (m *Manager) state(key string) *segState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.segs[key]
	if !ok {
		st = &segState{}
		m.segs[key] = st
	}
	return st
}

// Append writes one fix to the active segment for (fix.DeviceID, day of
// fix.Time), rotating first if the segment is full. Returns the path written.
func (m *Manager) Append(fix device.Fix) (string, error) {
	day := device.Day(fix.Time)
	key := string(fix.DeviceID) + "_" + day
	st := m.state(key)

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.scanned {
		idx, count, err := m.scan(fix.DeviceID, day)
		if err != nil {
			return "", err
		}
		st.index, st.count, st.scanned = idx, count, true
	}

	if st.count >= m.maxPoints {
		st.index++
		st.count = 0
	}

	path := filepath.Join(m.dir, segmentName(fix.DeviceID, day, st.index))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	line := fmt.Sprintf("%s,%s,%s,%s\n",
		fix.Time.UTC().Format("2006-01-02 15:04:05"),
		device.FormatCoord(fix.Lat), device.FormatCoord(fix.Lng), fix.DeviceID)
	_, err = f.WriteString(line)
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	st.count++
	return path, nil
}

// scan derives the active segment index and its line count from the
// directory listing alone.
func (m *Manager) scan(id device.ID, day string) (int, int, error) {
	names, err := m.segmentNames(id, day)
	if err != nil {
		return 0, 0, err
	}
	if len(names) == 0 {
		return 0, 0, nil
	}
	keyPrefix := segmentPrefix(id, day)
	highest := 0
	for _, n := range names {
		if idx, ok := segmentIndex(n, keyPrefix); ok && idx > highest {
			highest = idx
		}
	}
	count, err := countLines(filepath.Join(m.dir, segmentName(id, day, highest)))
	if err != nil {
		if os.IsNotExist(err) {
			return highest, 0, nil
		}
		return 0, 0, err
	}
	return highest, count, nil
}

func (m *Manager) segmentNames(id device.ID, day string) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	keyPrefix := segmentPrefix(id, day)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if strings.HasPrefix(n, keyPrefix) && strings.HasSuffix(n, ".txt") {
			if _, ok := segmentIndex(n, keyPrefix); ok {
				names = append(names, n)
			}
		}
	}
	sort.Slice(names, func(i, j int) bool {
		a, _ := segmentIndex(names[i], keyPrefix)
		b, _ := segmentIndex(names[j], keyPrefix)
		return a < b
	})
	return names, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}

// ReadDay returns every fix logged for (id, day), oldest first, concatenated
// across segments in index order. Malformed lines are skipped, never fatal.
// A key with no segments yields an empty slice.
func (m *Manager) ReadDay(id device.ID, day string) ([]device.Fix, error) {
	names, err := m.segmentNames(id, day)
	if err != nil {
		return nil, err
	}
	fixes := make([]device.Fix, 0, len(names)*m.maxPoints)
	for _, n := range names {
		f, err := os.Open(filepath.Join(m.dir, n))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			fix, ok := parseLine(sc.Text())
			if !ok {
				m.log.Warn().Str("segment", n).Str("line", sc.Text()).Msg("skipping malformed log line")
				continue
			}
			fixes = append(fixes, fix)
		}
		err = sc.Err()
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	return fixes, nil
}

func parseLine(line string) (device.Fix, bool) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 4 {
		return device.Fix{}, false
	}
	ts, err := time.Parse("2006-01-02 15:04:05", parts[0])
	if err != nil {
		return device.Fix{}, false
	}
	lat, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return device.Fix{}, false
	}
	lng, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return device.Fix{}, false
	}
	return device.Fix{DeviceID: device.ID(parts[3]), Lat: lat, Lng: lng, Time: ts.UTC(), Logging: true}, true
}
