package storage

import "time"

// deadlineZone returns the location name and UTC offset of t, stored next to
// the UTC timestamp so month arithmetic can run in the original zone.
func deadlineZone(t time.Time) (string, int) {
	_, offset := t.Zone()
	return t.Location().String(), offset
}

// inZone moves a timestamp read back as UTC into its stored zone. A named
// location is used when it still yields the stored offset, otherwise a fixed
// zone with that offset. Rows written without a zone stay in UTC.
func inZone(t time.Time, name string, offset int) time.Time {
	if name == "" && offset == 0 {
		return t.UTC()
	}
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			local := t.In(loc)
			if _, off := local.Zone(); off == offset {
				return local
			}
		}
	}
	return t.In(time.FixedZone(name, offset))
}
