package storage

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps alerts in process with the same uniqueness and ordering
// guarantees as Store. It backs dry runs and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	nextID        int64
	alerts        map[int64]AlertRecord
	nonDetections map[nonDetectionKey]NonDetection
}

type nonDetectionKey struct {
	objectID string
	jd       float64
	fid      int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:        make(map[int64]AlertRecord),
		nonDetections: make(map[nonDetectionKey]NonDetection),
	}
}

// Upsert stores rec unless its alert_candid is already present.
func (m *MemoryStore) Upsert(ctx context.Context, rec AlertRecord, nonDetections []NonDetection) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Op: "insert alert", Candid: rec.AlertCandid, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.alerts[rec.AlertCandid]; ok {
		return ErrConflict
	}

	m.nextID++
	rec.ID = m.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.alerts[rec.AlertCandid] = rec

	for _, nd := range nonDetections {
		key := nonDetectionKey{objectID: nd.ObjectID, jd: nd.JD, fid: nd.Fid}
		if _, ok := m.nonDetections[key]; !ok {
			m.nonDetections[key] = nd
		}
	}
	return nil
}

// Lookup loads one alert by natural id.
func (m *MemoryStore) Lookup(_ context.Context, candid int64) (AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.alerts[candid]
	if !ok {
		return AlertRecord{}, ErrNotFound
	}
	return rec, nil
}

// History returns the other alerts within radiusArcsec of the given alert,
// newest first.
func (m *MemoryStore) History(ctx context.Context, candid int64, radiusArcsec float64) ([]AlertRecord, error) {
	origin, err := m.Lookup(ctx, candid)
	if err != nil {
		return nil, err
	}
	return m.Cone(ctx, ConeQuery{
		RA:            origin.RA,
		Dec:           origin.Dec,
		RadiusArcsec:  radiusArcsec,
		ExcludeCandid: candid,
	})
}

// Cone lists alerts around a position, newest first.
func (m *MemoryStore) Cone(_ context.Context, q ConeQuery) ([]AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AlertRecord, 0)
	for candid, rec := range m.alerts {
		if candid == q.ExcludeCandid {
			continue
		}
		if q.BeforeJD != nil && rec.JD >= *q.BeforeJD {
			continue
		}
		if AngularSeparationArcsec(q.RA, q.Dec, rec.RA, rec.Dec) > q.RadiusArcsec {
			continue
		}
		out = append(out, rec)
	}
	sortNewestFirst(out)
	return out, nil
}

// RecentAlerts lists the most recently observed alerts.
func (m *MemoryStore) RecentAlerts(_ context.Context, limit int) ([]AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AlertRecord, 0, len(m.alerts))
	for _, rec := range m.alerts {
		out = append(out, rec)
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// NonDetections lists the stored upper limits of an object, newest first.
func (m *MemoryStore) NonDetections(_ context.Context, objectID string) ([]NonDetection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]NonDetection, 0)
	for key, nd := range m.nonDetections {
		if key.objectID == objectID {
			out = append(out, nd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JD > out[j].JD })
	return out, nil
}

// Len returns the number of stored alerts.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.alerts)
}

func sortNewestFirst(recs []AlertRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].JD != recs[j].JD {
			return recs[i].JD > recs[j].JD
		}
		return recs[i].AlertCandid > recs[j].AlertCandid
	})
}

// AngularSeparationArcsec is the great-circle distance between two sky
// positions given in degrees.
func AngularSeparationArcsec(ra1, dec1, ra2, dec2 float64) float64 {
	toRad := math.Pi / 180
	dRA := (ra2 - ra1) * toRad
	dDec := (dec2 - dec1) * toRad
	a := math.Sin(dDec/2)*math.Sin(dDec/2) +
		math.Cos(dec1*toRad)*math.Cos(dec2*toRad)*math.Sin(dRA/2)*math.Sin(dRA/2)
	return 2 * math.Asin(math.Min(1, math.Sqrt(a))) / toRad * 3600
}

var _ AlertStore = (*MemoryStore)(nil)
