package packet

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"

	"github.com/hamba/avro/v2"
	"github.com/hamba/avro/v2/ocf"
)

// Schema is the bundled alert schema used when encoding packets.
//
//go:embed schema.avsc
var Schema string

// SupportedVersions lists the schemavsn values the field mapping was written for.
var SupportedVersions = []string{"3.3"}

var requiredFields = []string{"candidate", "prv_candidates"}

// DecodeError marks a payload that can never be decoded; retrying is pointless.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode packet: %s: %v", e.Reason, e.Err)
	}
	return "decode packet: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err (or anything it wraps) is a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Decoder turns object container payloads into alerts.
type Decoder struct {
	versions map[string]struct{}
}

// NewDecoder builds a decoder accepting the given schema versions, or
// SupportedVersions when none are passed.
func NewDecoder(versions ...string) *Decoder {
	if len(versions) == 0 {
		versions = SupportedVersions
	}
	set := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		set[v] = struct{}{}
	}
	return &Decoder{versions: set}
}

// Decode parses every record of one container. An empty container yields no
// alerts and no error.
func (d *Decoder) Decode(raw []byte) ([]Alert, error) {
	if len(raw) == 0 {
		return nil, &DecodeError{Reason: "empty payload"}
	}

	dec, err := ocf.NewDecoder(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Reason: "open container", Err: err}
	}

	if err := checkWriterSchema(dec.Metadata()["avro.schema"]); err != nil {
		return nil, err
	}

	alerts := make([]Alert, 0, 1)
	for dec.HasNext() {
		var alert Alert
		if err := dec.Decode(&alert); err != nil {
			return nil, &DecodeError{Reason: fmt.Sprintf("record %d", len(alerts)), Err: err}
		}
		if _, ok := d.versions[alert.SchemaVersion]; !ok {
			return nil, &DecodeError{Reason: fmt.Sprintf("unsupported schema version %q", alert.SchemaVersion)}
		}
		if alert.Candid != alert.Candidate.Candid {
			return nil, &DecodeError{Reason: fmt.Sprintf("candid mismatch: envelope %d, candidate %d", alert.Candid, alert.Candidate.Candid)}
		}
		alerts = append(alerts, alert)
	}
	if err := dec.Error(); err != nil && !errors.Is(err, io.EOF) {
		return nil, &DecodeError{Reason: "read container", Err: err}
	}

	return alerts, nil
}

func checkWriterSchema(raw []byte) error {
	if len(raw) == 0 {
		return &DecodeError{Reason: "container has no schema"}
	}

	schema, err := avro.ParseWithCache(string(raw), "", &avro.SchemaCache{})
	if err != nil {
		return &DecodeError{Reason: "parse writer schema", Err: err}
	}

	record, ok := schema.(*avro.RecordSchema)
	if !ok {
		return &DecodeError{Reason: fmt.Sprintf("writer schema is %s, want record", schema.Type())}
	}

	present := make(map[string]struct{}, len(record.Fields()))
	for _, f := range record.Fields() {
		present[f.Name()] = struct{}{}
	}
	for _, name := range requiredFields {
		if _, ok := present[name]; !ok {
			return &DecodeError{Reason: fmt.Sprintf("writer schema lacks %q", name)}
		}
	}
	return nil
}

// Encode writes alerts into one object container using the bundled schema.
func Encode(w io.Writer, alerts ...Alert) error {
	enc, err := ocf.NewEncoder(Schema, w)
	if err != nil {
		return fmt.Errorf("create encoder: %w", err)
	}
	for i := range alerts {
		if err := enc.Encode(&alerts[i]); err != nil {
			return fmt.Errorf("encode alert %d: %w", alerts[i].Candid, err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close encoder: %w", err)
	}
	return nil
}
