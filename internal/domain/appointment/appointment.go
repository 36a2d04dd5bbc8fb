// internal/domain/appointment/appointment.go
package appointment

import "time"

// SeenDateLayout is the text form used to persist appointment dates in the ledger.
const SeenDateLayout = "2006-01-02T15:04:05"

// WatchDateLayout is the text form of a watch start date.
const WatchDateLayout = "2006-01-02"

// Appointment is a single free slot returned by the search API.
type Appointment struct {
	ClinicID      string
	ClinicName    string
	DoctorID      string
	DoctorName    string
	SpecialtyID   string
	SpecialtyName string
	VisitType     string
	Date          time.Time
}

// SeenKey returns the ledger key identifying this slot.
func (a Appointment) SeenKey() SeenKey {
	return SeenKey{ClinicID: a.ClinicID, DoctorID: a.DoctorID, Date: a.Date}
}

// SeenKey is the (clinic, doctor, date) triple recorded once a slot was notified on.
type SeenKey struct {
	ClinicID string
	DoctorID string
	Date     time.Time
}

// FormattedDate renders the date the way it is stored.
func (k SeenKey) FormattedDate() string {
	return k.Date.Local().Format(SeenDateLayout)
}
