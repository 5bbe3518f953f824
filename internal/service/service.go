package service

import (
	"bytes"
	"context"
	"errors"

	"github.com/rs/zerolog"

	"transient-alerts/internal/archive"
	"transient-alerts/internal/calibration"
	"transient-alerts/internal/config"
	"transient-alerts/internal/logging"
	"transient-alerts/internal/packet"
	"transient-alerts/internal/storage"
)

// Store is the persistence surface the pipeline writes to and reads history from.
type Store interface {
	storage.AlertWriter
	Cone(ctx context.Context, q storage.ConeQuery) ([]storage.AlertRecord, error)
}

// Outcome classifies what happened to one alert.
type Outcome int

const (
	// Stored means a new row was written.
	Stored Outcome = iota
	// Duplicate means the alert_candid was already stored; nothing changed.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Result reports one alert of a processed packet.
type Result struct {
	Candid   int64
	ObjectID string
	Outcome  Outcome
	Record   storage.AlertRecord
}

// Service runs packets through decode, calibration, persistence and archival.
type Service struct {
	decoder  *packet.Decoder
	store    Store
	archiver archive.Archiver
	radius   float64
	logger   zerolog.Logger
}

// New constructs the ingestion service. A nil archiver disables archival.
func New(cfg *config.Config, store Store, archiver archive.Archiver, logger zerolog.Logger) *Service {
	if archiver == nil {
		archiver = archive.Nop{}
	}
	return &Service{
		decoder:  packet.NewDecoder(cfg.Calibration.SchemaVersions...),
		store:    store,
		archiver: archiver,
		radius:   cfg.Calibration.HistoryRadiusArcsec,
		logger:   logging.Component(logger, "service"),
	}
}

// Process ingests every alert in raw. It returns a *packet.DecodeError when
// raw is malformed and a *storage.PersistenceError when a write failed;
// duplicates are reported through Result.Outcome, not as errors. Alerts
// stored before a failure stay stored.
func (s *Service) Process(ctx context.Context, raw []byte) ([]Result, error) {
	alerts, err := s.decoder.Decode(raw)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(alerts))
	for i := range alerts {
		alert := &alerts[i]
		res, err := s.ingest(ctx, alert)

		// Archival runs whatever the persistence outcome; the key is
		// deterministic so a redelivered packet overwrites its own copy.
		s.archive(alert, raw, len(alerts))

		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Service) ingest(ctx context.Context, alert *packet.Alert) (Result, error) {
	rec, nonDetections, err := s.Calibrate(ctx, alert)
	if err != nil {
		return Result{}, err
	}

	res := Result{Candid: rec.AlertCandid, ObjectID: rec.ObjectID, Record: rec}
	err = s.store.Upsert(ctx, rec, nonDetections)
	switch {
	case err == nil:
		res.Outcome = Stored
	case errors.Is(err, storage.ErrConflict):
		res.Outcome = Duplicate
	default:
		var perr *storage.PersistenceError
		if !errors.As(err, &perr) {
			err = &storage.PersistenceError{Op: "upsert", Candid: rec.AlertCandid, Err: err}
		}
		return Result{}, err
	}

	s.logger.Debug().
		Int64("candid", res.Candid).
		Str("object_id", res.ObjectID).
		Stringer("outcome", res.Outcome).
		Float64("dcmag", rec.DCMag).
		Msg("alert processed")
	return res, nil
}

// Calibrate maps alert onto a record with derived quantities filled in. The
// store is consulted for detections of the same source observed earlier.
func (s *Service) Calibrate(ctx context.Context, alert *packet.Alert) (storage.AlertRecord, []storage.NonDetection, error) {
	c := alert.Candidate
	before := c.JD
	prior, err := s.store.Cone(ctx, storage.ConeQuery{
		RA:            calibration.NormalizeRA(c.RA),
		Dec:           c.Dec,
		RadiusArcsec:  s.radius,
		ExcludeCandid: alert.Candid,
		BeforeJD:      &before,
	})
	if err != nil {
		return storage.AlertRecord{}, nil, &storage.PersistenceError{Op: "load history", Candid: alert.Candid, Err: err}
	}

	rec := Derive(alert, observations(alert, prior))
	return rec, nonDetections(alert), nil
}

func (s *Service) archive(alert *packet.Alert, raw []byte, batched int) {
	payload := raw
	if batched > 1 {
		var buf bytes.Buffer
		if err := packet.Encode(&buf, *alert); err != nil {
			s.logger.Error().Err(err).Int64("candid", alert.Candid).Msg("re-encode packet for archive")
			return
		}
		payload = buf.Bytes()
	}
	s.archiver.Archive(payload, alert.ArchiveName(), alert.Candidate.JD)
}
