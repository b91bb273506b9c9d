// ABOUTME: City record model decoded from GeoIP2/GeoLite2 city databases
// ABOUTME: Field tags map the binary record shape onto the JSON response shape

package geodb

// Names maps locale codes to localized place names.
type Names map[string]string

// CityRecord holds the city-level portion of a record.
type CityRecord struct {
	GeoNameID uint  `maxminddb:"geoname_id" json:"geoname_id,omitzero"`
	Names     Names `maxminddb:"names" json:"names,omitzero"`
}

// ContinentRecord holds the continent portion of a record.
type ContinentRecord struct {
	Code      string `maxminddb:"code" json:"code,omitzero"`
	GeoNameID uint   `maxminddb:"geoname_id" json:"geoname_id,omitzero"`
	Names     Names  `maxminddb:"names" json:"names,omitzero"`
}

// CountryRecord holds a country portion of a record. The same shape backs
// country, registered_country, and represented_country.
type CountryRecord struct {
	GeoNameID         uint   `maxminddb:"geoname_id" json:"geoname_id,omitzero"`
	IsInEuropeanUnion bool   `maxminddb:"is_in_european_union" json:"is_in_european_union,omitzero"`
	ISOCode           string `maxminddb:"iso_code" json:"iso_code,omitzero"`
	Names             Names  `maxminddb:"names" json:"names,omitzero"`
}

// LocationRecord holds coordinates and timezone data.
type LocationRecord struct {
	AccuracyRadius uint16  `maxminddb:"accuracy_radius" json:"accuracy_radius,omitzero"`
	Latitude       float64 `maxminddb:"latitude" json:"latitude"`
	Longitude      float64 `maxminddb:"longitude" json:"longitude"`
	MetroCode      uint    `maxminddb:"metro_code" json:"metro_code,omitzero"`
	TimeZone       string  `maxminddb:"time_zone" json:"time_zone,omitzero"`
}

// PostalRecord holds the postal code.
type PostalRecord struct {
	Code string `maxminddb:"code" json:"code,omitzero"`
}

// SubdivisionRecord holds one administrative subdivision.
type SubdivisionRecord struct {
	GeoNameID uint   `maxminddb:"geoname_id" json:"geoname_id,omitzero"`
	ISOCode   string `maxminddb:"iso_code" json:"iso_code,omitzero"`
	Names     Names  `maxminddb:"names" json:"names,omitzero"`
}

// TraitsRecord holds network traits flags.
type TraitsRecord struct {
	IsAnonymousProxy    bool `maxminddb:"is_anonymous_proxy" json:"is_anonymous_proxy,omitzero"`
	IsAnycast           bool `maxminddb:"is_anycast" json:"is_anycast,omitzero"`
	IsSatelliteProvider bool `maxminddb:"is_satellite_provider" json:"is_satellite_provider,omitzero"`
}

// City is the full record shape served for city-level databases. Sections
// absent from the database stay zero and drop out of the JSON encoding.
type City struct {
	City               CityRecord          `maxminddb:"city" json:"city,omitzero"`
	Continent          ContinentRecord     `maxminddb:"continent" json:"continent,omitzero"`
	Country            CountryRecord       `maxminddb:"country" json:"country,omitzero"`
	Location           LocationRecord      `maxminddb:"location" json:"location,omitzero"`
	Postal             PostalRecord        `maxminddb:"postal" json:"postal,omitzero"`
	RegisteredCountry  CountryRecord       `maxminddb:"registered_country" json:"registered_country,omitzero"`
	RepresentedCountry CountryRecord       `maxminddb:"represented_country" json:"represented_country,omitzero"`
	Subdivisions       []SubdivisionRecord `maxminddb:"subdivisions" json:"subdivisions,omitzero"`
	Traits             TraitsRecord        `maxminddb:"traits" json:"traits,omitzero"`
}
