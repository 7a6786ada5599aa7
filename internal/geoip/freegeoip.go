package geoip

import "encoding/json"

const FreeGeoIPName = "freegeoip"

type freeGeoIPResponse struct {
	IP           string  `json:"ip"`
	CountryCode  string  `json:"country_code"`
	CountryName  string  `json:"country_name"`
	Region       string  `json:"region"`
	City         string  `json:"city"`
	PostalCode   string  `json:"postal_code"`
	TimezoneName string  `json:"timezone_name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	CurrencyCode string  `json:"currency_code"`
}

// NewFreeGeoIP returns the provider speaking the snake_case freegeoip format
func NewFreeGeoIP(urls URLResolver, client Doer) Provider {
	return &httpProvider{
		name:   FreeGeoIPName,
		urls:   urls,
		client: client,
		decode: decodeFreeGeoIP,
	}
}

func decodeFreeGeoIP(body []byte) (Info, error) {
	var r freeGeoIPResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Info{}, err
	}

	return Info{
		IP:           r.IP,
		CountryCode:  r.CountryCode,
		CountryName:  r.CountryName,
		RegionName:   r.Region,
		City:         r.City,
		PostalCode:   r.PostalCode,
		TimeZone:     r.TimezoneName,
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		CurrencyCode: r.CurrencyCode,
	}, nil
}
