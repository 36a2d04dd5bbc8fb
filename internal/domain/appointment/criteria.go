package appointment

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SearchCriteria describes one appointment search. ClinicID and DoctorID are
// optional; zero means "any".
type SearchCriteria struct {
	RegionID     int64
	SpecialtyIDs []int64
	ClinicID     int64
	DoctorID     int64
	StartDate    time.Time
}

// Validate checks the fields the search API requires.
func (c SearchCriteria) Validate() error {
	if c.RegionID <= 0 {
		return fmt.Errorf("region id must be positive, got %d", c.RegionID)
	}
	if len(c.SpecialtyIDs) == 0 {
		return fmt.Errorf("at least one specialty id is required")
	}
	for _, id := range c.SpecialtyIDs {
		if id <= 0 {
			return fmt.Errorf("specialty id must be positive, got %d", id)
		}
	}
	if c.StartDate.IsZero() {
		return fmt.Errorf("start date is required")
	}
	return nil
}

// Watch is a persisted, recurring search.
type Watch struct {
	ID       int64
	Criteria SearchCriteria
}

// JoinIDs renders ids as a comma separated list ("2,5").
func JoinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

// SplitIDs parses a list produced by JoinIDs.
func SplitIDs(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
