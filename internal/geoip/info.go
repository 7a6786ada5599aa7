// Package geoip resolves the installation's approximate location through
// interchangeable remote geo-IP services.
package geoip

import "strconv"

// Info is the provider-agnostic location record every provider maps onto
type Info struct {
	IP           string  `json:"ip"`
	CountryCode  string  `json:"countryCode"`
	CountryName  string  `json:"countryName"`
	RegionName   string  `json:"regionName"`
	City         string  `json:"city"`
	PostalCode   string  `json:"postalCode"`
	TimeZone     string  `json:"timeZone"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	CurrencyCode string  `json:"currencyCode"`
}

// Map flattens the record into the string map shape collectors produce
func (i Info) Map() map[string]string {
	return map[string]string{
		"ip":           i.IP,
		"countryCode":  i.CountryCode,
		"countryName":  i.CountryName,
		"regionName":   i.RegionName,
		"city":         i.City,
		"postalCode":   i.PostalCode,
		"timeZone":     i.TimeZone,
		"latitude":     strconv.FormatFloat(i.Latitude, 'f', -1, 64),
		"longitude":    strconv.FormatFloat(i.Longitude, 'f', -1, 64),
		"currencyCode": i.CurrencyCode,
	}
}
