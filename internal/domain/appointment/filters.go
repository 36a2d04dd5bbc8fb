package appointment

// FilterOption is one selectable value of a search filter.
type FilterOption struct {
	ID    string
	Value string
}

// Filters holds the metadata used to build search criteria.
type Filters struct {
	Regions     []FilterOption
	Specialties []FilterOption
	Doctors     []FilterOption
	Clinics     []FilterOption
}

// Lookup returns the display value for id, or "" when absent.
func Lookup(options []FilterOption, id string) string {
	for _, o := range options {
		if o.ID == id {
			return o.Value
		}
	}
	return ""
}
