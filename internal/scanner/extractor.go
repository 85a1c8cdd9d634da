package scanner

import (
	"regexp"
	"strconv"
)

var observationURLPattern = regexp.MustCompile(`(?i)https?://(?:www\.)?inaturalist\.org/observations/(\d+)`)

// ExtractTargetID pulls the observation id out of a decoded QR payload.
// Payloads that are not observation links, and ids that overflow int64,
// report false.
func ExtractTargetID(payload string) (int64, bool) {
	m := observationURLPattern.FindStringSubmatch(payload)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ObservationURL is the canonical web link for an observation id.
func ObservationURL(id int64) string {
	return "https://www.inaturalist.org/observations/" + strconv.FormatInt(id, 10)
}
