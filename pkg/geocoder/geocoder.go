// Package geocoder implements the Geocoder (C11): a pure lookup from
// (city?, country?, continent?) to (lat, lon) against a built-in gazetteer,
// memoized in a bounded LRU. Grounded on
// original_source/backend/lab/ethereum/geo.py's GeoLookup, adapted from a
// pandas/geonames-backed table to an in-memory Go slice, and on
// github.com/hashicorp/golang-lru/v2 (seen in
// _examples/orbas1-Synnergy/synnergy-network/go.mod) for the cache.
package geocoder

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheSize is the fixed LRU capacity per spec.md §4.11.
const cacheSize = 1024

// Point is a resolved geographic coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// city is one gazetteer entry.
type city struct {
	Name       string
	Country    string
	Continent  string
	Population int
	IsCapital  bool
	Lat        float64
	Lon        float64
}

// Geocoder resolves (city, country, continent) to (lat, lon), memoizing
// results in a bounded LRU.
type Geocoder struct {
	cache *lru.Cache[string, Point]
}

// New builds a Geocoder with a fresh 1024-entry LRU cache.
func New() *Geocoder {
	cache, err := lru.New[string, Point](cacheSize)
	if err != nil {
		// lru.New only errors on a non-positive size, which cacheSize never is.
		panic(err)
	}
	return &Geocoder{cache: cache}
}

// Resolve looks up (city, country, continent), trying in order: (1) exact
// (city, country) match; (2) the most populous city matching city name
// across any country; (3) the country's capital; (4) a built-in continent
// centroid; (5) unresolved (ok=false), per spec.md §4.11.
func (g *Geocoder) Resolve(city, country, continent string) (Point, bool) {
	key := strings.ToLower(city) + "|" + strings.ToLower(country) + "|" + strings.ToLower(continent)
	if p, ok := g.cache.Get(key); ok {
		return p, true
	}
	p, ok := resolve(city, country, continent)
	if ok {
		g.cache.Add(key, p)
	}
	return p, ok
}

func resolve(cityName, countryName, continentName string) (Point, bool) {
	cityName = strings.TrimSpace(cityName)
	countryName = strings.TrimSpace(countryName)
	continentName = strings.TrimSpace(continentName)

	if cityName != "" && countryName != "" {
		for _, c := range gazetteer {
			if strings.EqualFold(c.Name, cityName) && strings.EqualFold(c.Country, countryName) {
				return Point{c.Lat, c.Lon}, true
			}
		}
	}

	if cityName != "" {
		var best *city
		for i := range gazetteer {
			c := &gazetteer[i]
			if !strings.EqualFold(c.Name, cityName) {
				continue
			}
			if best == nil || c.Population > best.Population {
				best = c
			}
		}
		if best != nil {
			return Point{best.Lat, best.Lon}, true
		}
	}

	if countryName != "" {
		for _, c := range gazetteer {
			if c.IsCapital && strings.EqualFold(c.Country, countryName) {
				return Point{c.Lat, c.Lon}, true
			}
		}
	}

	if continentName != "" {
		if p, ok := continentCentroids[strings.ToLower(continentName)]; ok {
			return p, true
		}
	}

	return Point{}, false
}

// continentCentroids are rough geographic centers used as the last
// resolvable fallback before "unresolved".
var continentCentroids = map[string]Point{
	"africa":        {7.1881, 21.0938},
	"antarctica":    {-82.8628, 135.0000},
	"asia":          {34.0479, 100.6197},
	"europe":        {54.5260, 15.2551},
	"north america": {54.5260, -105.2551},
	"oceania":       {-22.7359, 140.0188},
	"south america": {-8.7832, -55.4915},
}

// gazetteer is a built-in set of populous cities and country capitals.
// Not exhaustive; the fallback chain (capital, then continent centroid)
// is the safety net for anything missing here.
var gazetteer = []city{
	{"New York", "United States", "North America", 8804190, false, 40.7128, -74.0060},
	{"Los Angeles", "United States", "North America", 3898747, false, 34.0522, -118.2437},
	{"Chicago", "United States", "North America", 2746388, false, 41.8781, -87.6298},
	{"Washington", "United States", "North America", 689545, true, 38.9072, -77.0369},
	{"Toronto", "Canada", "North America", 2794356, false, 43.6532, -79.3832},
	{"Ottawa", "Canada", "North America", 1017449, true, 45.4215, -75.6972},
	{"Mexico City", "Mexico", "North America", 9209944, true, 19.4326, -99.1332},
	{"London", "United Kingdom", "Europe", 8982000, true, 51.5072, -0.1276},
	{"Paris", "France", "Europe", 2148271, true, 48.8566, 2.3522},
	{"Berlin", "Germany", "Europe", 3769495, true, 52.5200, 13.4050},
	{"Frankfurt", "Germany", "Europe", 753056, false, 50.1109, 8.6821},
	{"Amsterdam", "Netherlands", "Europe", 872680, true, 52.3676, 4.9041},
	{"Madrid", "Spain", "Europe", 3223334, true, 40.4168, -3.7038},
	{"Rome", "Italy", "Europe", 2872800, true, 41.9028, 12.4964},
	{"Vienna", "Austria", "Europe", 1897491, true, 48.2082, 16.3738},
	{"Warsaw", "Poland", "Europe", 1790658, true, 52.2297, 21.0122},
	{"Helsinki", "Finland", "Europe", 658864, true, 60.1699, 24.9384},
	{"Stockholm", "Sweden", "Europe", 975904, true, 59.3293, 18.0686},
	{"Zurich", "Switzerland", "Europe", 434335, false, 47.3769, 8.5417},
	{"Bern", "Switzerland", "Europe", 133883, true, 46.9480, 7.4474},
	{"Dublin", "Ireland", "Europe", 1173179, true, 53.3498, -6.2603},
	{"Moscow", "Russia", "Europe", 12506468, true, 55.7558, 37.6173},
	{"Tokyo", "Japan", "Asia", 13960000, true, 35.6762, 139.6503},
	{"Singapore", "Singapore", "Asia", 5685800, true, 1.3521, 103.8198},
	{"Hong Kong", "China", "Asia", 7481800, false, 22.3193, 114.1694},
	{"Beijing", "China", "Asia", 21540000, true, 39.9042, 116.4074},
	{"Shanghai", "China", "Asia", 24870000, false, 31.2304, 121.4737},
	{"Seoul", "South Korea", "Asia", 9776000, true, 37.5665, 126.9780},
	{"Mumbai", "India", "Asia", 20411000, false, 19.0760, 72.8777},
	{"New Delhi", "India", "Asia", 31870000, true, 28.6139, 77.2090},
	{"Bangkok", "Thailand", "Asia", 10539000, true, 13.7563, 100.5018},
	{"Dubai", "United Arab Emirates", "Asia", 3331000, false, 25.2048, 55.2708},
	{"Abu Dhabi", "United Arab Emirates", "Asia", 1483000, true, 24.4539, 54.3773},
	{"Sydney", "Australia", "Oceania", 5312163, false, -33.8688, 151.2093},
	{"Canberra", "Australia", "Oceania", 462170, true, -35.2809, 149.1300},
	{"Auckland", "New Zealand", "Oceania", 1695200, false, -36.8485, 174.7633},
	{"Wellington", "New Zealand", "Oceania", 215100, true, -41.2865, 174.7762},
	{"Sao Paulo", "Brazil", "South America", 12325232, false, -23.5505, -46.6333},
	{"Brasilia", "Brazil", "South America", 3055149, true, -15.8267, -47.9218},
	{"Buenos Aires", "Argentina", "South America", 3075646, true, -34.6037, -58.3816},
	{"Santiago", "Chile", "South America", 6310000, true, -33.4489, -70.6693},
	{"Bogota", "Colombia", "South America", 7412566, true, 4.7110, -74.0721},
	{"Johannesburg", "South Africa", "Africa", 5782747, false, -26.2041, 28.0473},
	{"Pretoria", "South Africa", "Africa", 741651, true, -25.7479, 28.2293},
	{"Cairo", "Egypt", "Africa", 9539000, true, 30.0444, 31.2357},
	{"Lagos", "Nigeria", "Africa", 15388000, false, 6.5244, 3.3792},
	{"Abuja", "Nigeria", "Africa", 3464123, true, 9.0765, 7.3986},
	{"Nairobi", "Kenya", "Africa", 4397073, true, -1.2921, 36.8219},
}
