package geoip

import (
	"encoding/json"
	"fmt"
)

const IPAPIName = "ipapi"

type ipAPIResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Query       string  `json:"query"`
	CountryCode string  `json:"countryCode"`
	Country     string  `json:"country"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Zip         string  `json:"zip"`
	Timezone    string  `json:"timezone"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Currency    string  `json:"currency"`
}

// NewIPAPI returns the provider speaking the camelCase ip-api format
func NewIPAPI(urls URLResolver, client Doer) Provider {
	return &httpProvider{
		name:   IPAPIName,
		urls:   urls,
		client: client,
		decode: decodeIPAPI,
	}
}

func decodeIPAPI(body []byte) (Info, error) {
	var r ipAPIResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Info{}, err
	}

	// ip-api answers 200 with status "fail" for reserved or private ranges
	if r.Status == "fail" {
		return Info{}, fmt.Errorf("lookup rejected: %s", r.Message)
	}

	return Info{
		IP:           r.Query,
		CountryCode:  r.CountryCode,
		CountryName:  r.Country,
		RegionName:   r.RegionName,
		City:         r.City,
		PostalCode:   r.Zip,
		TimeZone:     r.Timezone,
		Latitude:     r.Lat,
		Longitude:    r.Lon,
		CurrencyCode: r.Currency,
	}, nil
}
