// Package ranking orders candidate providers for a requester.
package ranking

import (
	"math"
	"slices"
	"strings"

	"fadedreams/roadassist/request-service/domain"
)

// EarthRadiusKm is the mean Earth radius used by Haversine.
const EarthRadiusKm = 6371

// RankedProvider is a provider annotated with its distance to the requester.
// DistanceKm is nil when no requester location was given.
type RankedProvider struct {
	domain.ServiceProvider
	DistanceKm *float64 `json:"distanceKm,omitempty"`
}

// Input to Rank. Location and IssueSummary are optional.
type Input struct {
	Location     *domain.Location
	Providers    []*domain.ServiceProvider
	IssueSummary string
}

// Haversine calculates the great-circle distance between two points in kilometers
func Haversine(l1, l2 domain.Location) float64 {
	lat1 := l1.Lat * math.Pi / 180
	lat2 := l2.Lat * math.Pi / 180
	dLat := (l2.Lat - l1.Lat) * math.Pi / 180
	dLon := (l2.Lng - l1.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push near-antipodal points past 1
	a = math.Min(a, 1)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Rank filters providers by issue summary and orders them by distance, or by
// ETA when no location is known. When the summary matches no provider the
// whole list is ranked instead, so a requester is never left without options.
func Rank(in Input) []RankedProvider {
	candidates := in.Providers
	if summary := strings.TrimSpace(in.IssueSummary); summary != "" {
		var matched []*domain.ServiceProvider
		for _, p := range in.Providers {
			if Offers(p, summary) {
				matched = append(matched, p)
			}
		}
		if len(matched) > 0 {
			candidates = matched
		}
	}

	ranked := make([]RankedProvider, 0, len(candidates))
	for _, p := range candidates {
		rp := RankedProvider{ServiceProvider: *p}
		if in.Location != nil {
			d := Haversine(*in.Location, p.Location)
			rp.DistanceKm = &d
		}
		ranked = append(ranked, rp)
	}

	if in.Location != nil {
		slices.SortStableFunc(ranked, func(a, b RankedProvider) int {
			return compareFloat(*a.DistanceKm, *b.DistanceKm)
		})
	} else {
		slices.SortStableFunc(ranked, func(a, b RankedProvider) int {
			return a.ETAMinutes - b.ETAMinutes
		})
	}
	return ranked
}

// Offers reports whether any of p's services matches summary. Matching is
// case-insensitive substring containment in either direction on the whole
// strings, or a shared significant word with a plural "s" ignored.
func Offers(p *domain.ServiceProvider, summary string) bool {
	s := strings.ToLower(strings.TrimSpace(summary))
	if s == "" {
		return false
	}
	summaryWords := significantWords(s)
	for _, svc := range p.Services {
		v := strings.ToLower(strings.TrimSpace(svc))
		if v == "" {
			continue
		}
		if strings.Contains(v, s) || strings.Contains(s, v) {
			return true
		}
		for _, sw := range summaryWords {
			for _, vw := range significantWords(v) {
				if sw == vw {
					return true
				}
			}
		}
	}
	return false
}

// genericWords appear in most service names and carry no matching signal.
var genericWords = map[string]bool{
	"and": true, "the": true, "for": true, "with": true,
	"service": true, "services": true, "repair": true, "repairs": true,
}

func significantWords(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	words := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 && !genericWords[f] {
			words = append(words, singular(f))
		}
	}
	return words
}

func singular(w string) string {
	if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
		return w[:len(w)-1]
	}
	return w
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
