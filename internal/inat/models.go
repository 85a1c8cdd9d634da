package inat

import (
	"strconv"
	"time"
)

// Observation is the subset of observation metadata shown before upload.
type Observation struct {
	ID            int64  `json:"id"`
	TaxonName     string `json:"taxon_name,omitempty"`
	CommonName    string `json:"taxon_common_name,omitempty"`
	ObserverLogin string `json:"observer_login,omitempty"`
	ObservedOn    string `json:"observed_on,omitempty"`
	PlaceGuess    string `json:"place_guess,omitempty"`
	URL           string `json:"url"`
}

// DisplayName prefers "Common (Scientific)", falling back to whichever exists.
func (o Observation) DisplayName() string {
	switch {
	case o.CommonName != "" && o.TaxonName != "":
		return o.CommonName + " (" + o.TaxonName + ")"
	case o.TaxonName != "":
		return o.TaxonName
	case o.CommonName != "":
		return o.CommonName
	default:
		return "Unknown taxon"
	}
}

func observationURL(id int64) string {
	return "https://www.inaturalist.org/observations/" + strconv.FormatInt(id, 10)
}

const (
	defaultTokenLifetime = 24 * time.Hour
	expiryBuffer         = 5 * time.Minute
)

// Token is an API access token and its issue time.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	CreatedAt   time.Time `json:"created_at"`
	// ExpiresIn is seconds from CreatedAt; nil means the 24h default.
	ExpiresIn *int64 `json:"expires_in"`
}

// Expired reports whether now is past five minutes before expiry.
func (t Token) Expired(now time.Time) bool {
	lifetime := defaultTokenLifetime
	if t.ExpiresIn != nil {
		lifetime = time.Duration(*t.ExpiresIn) * time.Second
	}
	return now.After(t.CreatedAt.Add(lifetime - expiryBuffer))
}

// api response shapes

type observationsResponse struct {
	TotalResults int               `json:"total_results"`
	Results      []observationJSON `json:"results"`
}

type observationJSON struct {
	ID               int64  `json:"id"`
	ObservedOnString string `json:"observed_on_string"`
	PlaceGuess       string `json:"place_guess"`
	Taxon            *struct {
		Name                string `json:"name"`
		PreferredCommonName string `json:"preferred_common_name"`
	} `json:"taxon"`
	User *struct {
		Login string `json:"login"`
	} `json:"user"`
}

type photoResponse struct {
	ID int64 `json:"id"`
}
