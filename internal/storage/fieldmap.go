package storage

import (
	"fmt"
	"math"
	"strings"
)

// FieldMapVersion identifies the alerts column layout written by this build.
// Bump it together with a migration whenever alertColumns changes.
const FieldMapVersion = 2

// column binds one alerts column to its AlertRecord field in both directions.
type column struct {
	name  string
	value func(r *AlertRecord) any
	dest  func(r *AlertRecord) any
}

var alertColumns = []column{
	{"alert_candid", func(r *AlertRecord) any { return r.AlertCandid }, func(r *AlertRecord) any { return &r.AlertCandid }},
	{"object_id", func(r *AlertRecord) any { return r.ObjectID }, func(r *AlertRecord) any { return &r.ObjectID }},
	{"schemavsn", func(r *AlertRecord) any { return r.SchemaVersion }, func(r *AlertRecord) any { return &r.SchemaVersion }},
	{"publisher", func(r *AlertRecord) any { return r.Publisher }, func(r *AlertRecord) any { return &r.Publisher }},
	{"jd", func(r *AlertRecord) any { return r.JD }, func(r *AlertRecord) any { return &r.JD }},
	{"fid", func(r *AlertRecord) any { return r.Fid }, func(r *AlertRecord) any { return &r.Fid }},
	{"pid", func(r *AlertRecord) any { return r.Pid }, func(r *AlertRecord) any { return &r.Pid }},
	{"diffmaglim", func(r *AlertRecord) any { return r.DiffMagLim }, func(r *AlertRecord) any { return &r.DiffMagLim }},
	{"pdiffimfilename", func(r *AlertRecord) any { return r.PDiffImFile }, func(r *AlertRecord) any { return &r.PDiffImFile }},
	{"programpi", func(r *AlertRecord) any { return r.ProgramPI }, func(r *AlertRecord) any { return &r.ProgramPI }},
	{"programid", func(r *AlertRecord) any { return r.ProgramID }, func(r *AlertRecord) any { return &r.ProgramID }},
	{"isdiffpos", func(r *AlertRecord) any { return r.IsDiffPos }, func(r *AlertRecord) any { return &r.IsDiffPos }},
	{"tblid", func(r *AlertRecord) any { return r.TblID }, func(r *AlertRecord) any { return &r.TblID }},
	{"nid", func(r *AlertRecord) any { return r.Nid }, func(r *AlertRecord) any { return &r.Nid }},
	{"rcid", func(r *AlertRecord) any { return r.RcID }, func(r *AlertRecord) any { return &r.RcID }},
	{"field", func(r *AlertRecord) any { return r.Field }, func(r *AlertRecord) any { return &r.Field }},
	{"xpos", func(r *AlertRecord) any { return r.XPos }, func(r *AlertRecord) any { return &r.XPos }},
	{"ypos", func(r *AlertRecord) any { return r.YPos }, func(r *AlertRecord) any { return &r.YPos }},
	{"ra", func(r *AlertRecord) any { return r.RA }, func(r *AlertRecord) any { return &r.RA }},
	{"dec", func(r *AlertRecord) any { return r.Dec }, func(r *AlertRecord) any { return &r.Dec }},
	{"magpsf", func(r *AlertRecord) any { return r.MagPSF }, func(r *AlertRecord) any { return &r.MagPSF }},
	{"sigmapsf", func(r *AlertRecord) any { return r.SigmaPSF }, func(r *AlertRecord) any { return &r.SigmaPSF }},
	{"chipsf", func(r *AlertRecord) any { return r.ChiPSF }, func(r *AlertRecord) any { return &r.ChiPSF }},
	{"magap", func(r *AlertRecord) any { return r.MagAp }, func(r *AlertRecord) any { return &r.MagAp }},
	{"sigmagap", func(r *AlertRecord) any { return r.SigmaGap }, func(r *AlertRecord) any { return &r.SigmaGap }},
	{"distnr", func(r *AlertRecord) any { return r.DistNR }, func(r *AlertRecord) any { return &r.DistNR }},
	{"magnr", func(r *AlertRecord) any { return r.MagNR }, func(r *AlertRecord) any { return &r.MagNR }},
	{"sigmagnr", func(r *AlertRecord) any { return r.SigmaGNR }, func(r *AlertRecord) any { return &r.SigmaGNR }},
	{"chinr", func(r *AlertRecord) any { return r.ChiNR }, func(r *AlertRecord) any { return &r.ChiNR }},
	{"sharpnr", func(r *AlertRecord) any { return r.SharpNR }, func(r *AlertRecord) any { return &r.SharpNR }},
	{"sky", func(r *AlertRecord) any { return r.Sky }, func(r *AlertRecord) any { return &r.Sky }},
	{"fwhm", func(r *AlertRecord) any { return r.FWHM }, func(r *AlertRecord) any { return &r.FWHM }},
	{"classtar", func(r *AlertRecord) any { return r.ClassTar }, func(r *AlertRecord) any { return &r.ClassTar }},
	{"mindtoedge", func(r *AlertRecord) any { return r.MinDToEdge }, func(r *AlertRecord) any { return &r.MinDToEdge }},
	{"seeratio", func(r *AlertRecord) any { return r.SeeRatio }, func(r *AlertRecord) any { return &r.SeeRatio }},
	{"rb", func(r *AlertRecord) any { return r.RB }, func(r *AlertRecord) any { return &r.RB }},
	{"drb", func(r *AlertRecord) any { return r.DRB }, func(r *AlertRecord) any { return &r.DRB }},
	{"ssdistnr", func(r *AlertRecord) any { return r.SSDistNR }, func(r *AlertRecord) any { return &r.SSDistNR }},
	{"ssmagnr", func(r *AlertRecord) any { return r.SSMagNR }, func(r *AlertRecord) any { return &r.SSMagNR }},
	{"ssnamenr", func(r *AlertRecord) any { return r.SSNameNR }, func(r *AlertRecord) any { return &r.SSNameNR }},
	{"sgscore1", func(r *AlertRecord) any { return r.SGScore1 }, func(r *AlertRecord) any { return &r.SGScore1 }},
	{"distpsnr1", func(r *AlertRecord) any { return r.DistPSNR1 }, func(r *AlertRecord) any { return &r.DistPSNR1 }},
	{"ndethist", func(r *AlertRecord) any { return r.NDetHist }, func(r *AlertRecord) any { return &r.NDetHist }},
	{"ncovhist", func(r *AlertRecord) any { return r.NCovHist }, func(r *AlertRecord) any { return &r.NCovHist }},
	{"jdstarthist", func(r *AlertRecord) any { return r.JDStartHist }, func(r *AlertRecord) any { return &r.JDStartHist }},
	{"jdendhist", func(r *AlertRecord) any { return r.JDEndHist }, func(r *AlertRecord) any { return &r.JDEndHist }},
	{"tooflag", func(r *AlertRecord) any { return r.TooFlag }, func(r *AlertRecord) any { return &r.TooFlag }},
	{"magzpsci", func(r *AlertRecord) any { return r.MagZPSci }, func(r *AlertRecord) any { return &r.MagZPSci }},
	{"magzpsciunc", func(r *AlertRecord) any { return r.MagZPSciUnc }, func(r *AlertRecord) any { return &r.MagZPSciUnc }},
	{"nmtchps", func(r *AlertRecord) any { return r.NMtchPS }, func(r *AlertRecord) any { return &r.NMtchPS }},
	{"rfid", func(r *AlertRecord) any { return r.RfID }, func(r *AlertRecord) any { return &r.RfID }},
	{"dcmag", func(r *AlertRecord) any { return nullIfNaN(r.DCMag) }, func(r *AlertRecord) any { return nanFloat{&r.DCMag} }},
	{"dcmagerr", func(r *AlertRecord) any { return nullIfNaN(r.DCMagErr) }, func(r *AlertRecord) any { return nanFloat{&r.DCMagErr} }},
	{"gal_l", func(r *AlertRecord) any { return nullIfNaN(r.GalL) }, func(r *AlertRecord) any { return nanFloat{&r.GalL} }},
	{"gal_b", func(r *AlertRecord) any { return nullIfNaN(r.GalB) }, func(r *AlertRecord) any { return nanFloat{&r.GalB} }},
	{"deltamaglatest", func(r *AlertRecord) any { return r.DeltaMagLatest }, func(r *AlertRecord) any { return &r.DeltaMagLatest }},
	{"deltamagref", func(r *AlertRecord) any { return r.DeltaMagRef }, func(r *AlertRecord) any { return &r.DeltaMagRef }},
}

var (
	insertAlertSQL  = buildInsertAlertSQL()
	selectAlertCols = buildSelectColumns()
)

func buildInsertAlertSQL() string {
	names := make([]string, 0, len(alertColumns)+1)
	params := make([]string, 0, len(alertColumns)+1)
	for i, c := range alertColumns {
		names = append(names, c.name)
		params = append(params, fmt.Sprintf("$%d", i+1))
	}
	lon := len(alertColumns) + 1
	names = append(names, "location")
	params = append(params, fmt.Sprintf("ST_SetSRID(ST_MakePoint($%d, $%d), 4326)::geography", lon, indexOf("dec")+1))

	return fmt.Sprintf(
		"INSERT INTO alerts (%s) VALUES (%s) ON CONFLICT (alert_candid) DO NOTHING",
		strings.Join(names, ", "),
		strings.Join(params, ", "),
	)
}

func buildSelectColumns() string {
	names := make([]string, 0, len(alertColumns)+2)
	names = append(names, "id")
	for _, c := range alertColumns {
		names = append(names, c.name)
	}
	names = append(names, "created_at")
	return strings.Join(names, ", ")
}

func indexOf(name string) int {
	for i, c := range alertColumns {
		if c.name == name {
			return i
		}
	}
	panic("storage: unknown alerts column " + name)
}

// insertArgs returns the positional arguments for insertAlertSQL.
func insertArgs(r *AlertRecord) []any {
	args := make([]any, 0, len(alertColumns)+1)
	for _, c := range alertColumns {
		args = append(args, c.value(r))
	}
	return append(args, r.Longitude())
}

// scanDest returns scan destinations matching selectAlertCols.
func scanDest(r *AlertRecord) []any {
	dest := make([]any, 0, len(alertColumns)+2)
	dest = append(dest, &r.ID)
	for _, c := range alertColumns {
		dest = append(dest, c.dest(r))
	}
	return append(dest, &r.CreatedAt)
}

func nullIfNaN(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// nanFloat scans a nullable float8 column, mapping NULL to NaN.
type nanFloat struct {
	v *float64
}

func (n nanFloat) Scan(src any) error {
	switch val := src.(type) {
	case nil:
		*n.v = math.NaN()
	case float64:
		*n.v = val
	case float32:
		*n.v = float64(val)
	default:
		return fmt.Errorf("scan float: unsupported type %T", src)
	}
	return nil
}
