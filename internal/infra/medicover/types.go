package medicover

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"mediscout/internal/domain/appointment"
)

// flexID accepts both JSON strings and numbers; the API is not consistent.
type flexID string

func (id *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", data)
	}
	*id = flexID(n.String())
	return nil
}

type apiRef struct {
	ID   flexID `json:"id"`
	Name string `json:"name"`
}

type apiSlot struct {
	AppointmentDate string `json:"appointmentDate"`
	Clinic          apiRef `json:"clinic"`
	Doctor          apiRef `json:"doctor"`
	Specialty       apiRef `json:"specialty"`
	VisitType       string `json:"visitType"`
}

type slotsResponse struct {
	Items []apiSlot `json:"items"`
}

var slotDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseSlotDate(s string) (time.Time, error) {
	for _, layout := range slotDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised appointment date %q", s)
}

func (s apiSlot) toDomain() (appointment.Appointment, error) {
	date, err := parseSlotDate(s.AppointmentDate)
	if err != nil {
		return appointment.Appointment{}, err
	}
	return appointment.Appointment{
		ClinicID:      string(s.Clinic.ID),
		ClinicName:    s.Clinic.Name,
		DoctorID:      string(s.Doctor.ID),
		DoctorName:    s.Doctor.Name,
		SpecialtyID:   string(s.Specialty.ID),
		SpecialtyName: s.Specialty.Name,
		VisitType:     s.VisitType,
		Date:          date,
	}, nil
}

type apiOption struct {
	ID    flexID `json:"id"`
	Value string `json:"value"`
}

type filtersResponse struct {
	Regions     []apiOption `json:"regions"`
	Specialties []apiOption `json:"specialties"`
	Doctors     []apiOption `json:"doctors"`
	Clinics     []apiOption `json:"clinics"`
}

func (r filtersResponse) toDomain() appointment.Filters {
	return appointment.Filters{
		Regions:     toOptions(r.Regions),
		Specialties: toOptions(r.Specialties),
		Doctors:     toOptions(r.Doctors),
		Clinics:     toOptions(r.Clinics),
	}
}

func toOptions(in []apiOption) []appointment.FilterOption {
	out := make([]appointment.FilterOption, 0, len(in))
	for _, o := range in {
		out = append(out, appointment.FilterOption{ID: string(o.ID), Value: o.Value})
	}
	return out
}
