package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/golang/geo/s2"
)

// Severity of a reported hazard
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a severity value
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow, nil
	case SeverityMedium:
		return SeverityMedium, nil
	case SeverityHigh:
		return SeverityHigh, nil
	case SeverityCritical:
		return SeverityCritical, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Status is the repair lifecycle of a report
type Status string

const (
	StatusPending     Status = "pending"
	StatusUnderRepair Status = "under-repair"
	StatusRepaired    Status = "repaired"
)

// ParseStatus validates a status value. The older in-progress/resolved
// vocabulary is folded into under-repair/repaired.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, nil
	case "under-repair", "in-progress":
		return StatusUnderRepair, nil
	case "repaired", "resolved":
		return StatusRepaired, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// DisplayName returns the human label of a status, e.g. "Under Repair"
func (s Status) DisplayName() string {
	words := strings.Split(string(s), "-")
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

// Location of a hazard
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

// Valid reports whether the coordinates are a point on the globe
func (l Location) Valid() bool {
	return s2.LatLngFromDegrees(l.Latitude, l.Longitude).IsValid()
}

// Report is a persisted hazard report
type Report struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	Status      Status    `json:"status"`
	Location    Location  `json:"location"`
	ImageURLs   []string  `json:"image_urls"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DisplayTitle returns the title, or one derived from the description when the title is blank
func (r *Report) DisplayTitle() string {
	return DeriveTitle(r.Title, r.Description)
}

// DeriveTitle returns title when non-blank, otherwise the first four words of description
func DeriveTitle(title, description string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	words := strings.Fields(description)
	if len(words) > 4 {
		words = words[:4]
	}
	return capitalize(strings.Join(words, " "))
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// ReportFields are the mutable fields of a report. Nil pointers are left untouched on update.
type ReportFields struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Severity    *Severity `json:"severity,omitempty"`
	Status      *Status   `json:"status,omitempty"`
	Location    *Location `json:"location,omitempty"`
	ImageURLs   []string  `json:"image_urls,omitempty"`
}

// Provider is an OAuth identity provider
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
	ProviderTwitter  Provider = "twitter"
	ProviderLinkedIn Provider = "linkedin"
)

// AllProviders in the order they are offered at sign-in
var AllProviders = []Provider{ProviderGoogle, ProviderFacebook, ProviderTwitter, ProviderLinkedIn}

// ParseProvider validates a provider name
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if p == "linkedin_oidc" {
		p = ProviderLinkedIn
	}
	for _, known := range AllProviders {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// CapabilitySet is the set of providers an identity may act on
type CapabilitySet map[Provider]struct{}

// NewCapabilitySet builds a set from providers
func NewCapabilitySet(providers ...Provider) CapabilitySet {
	set := make(CapabilitySet, len(providers))
	for _, p := range providers {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether p is in the set
func (c CapabilitySet) Has(p Provider) bool {
	_, ok := c[p]
	return ok
}

// List returns the providers in sign-in order
func (c CapabilitySet) List() []Provider {
	out := make([]Provider, 0, len(c))
	for _, p := range AllProviders {
		if c.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

func (c CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.List())
}

func (c *CapabilitySet) UnmarshalJSON(data []byte) error {
	var providers []Provider
	if err := json.Unmarshal(data, &providers); err != nil {
		return err
	}
	*c = NewCapabilitySet(providers...)
	return nil
}

// Identity is an authenticated principal
type Identity struct {
	UserID        string        `json:"id"`
	Name          string        `json:"name,omitempty"`
	Email         string        `json:"email,omitempty"`
	Provider      Provider      `json:"provider"`
	SessionID     string        `json:"-"`
	ProviderToken string        `json:"-"`
	Capabilities  CapabilitySet `json:"capabilities"`
}

// Owns reports whether the identity owns the report
func (i *Identity) Owns(r *Report) bool {
	return i != nil && r != nil && i.UserID != "" && i.UserID == r.UserID
}

// CapabilitiesFor returns the share capabilities granted by a login provider
func CapabilitiesFor(p Provider) CapabilitySet {
	switch p {
	case ProviderFacebook, ProviderTwitter:
		return NewCapabilitySet(p)
	}
	return NewCapabilitySet()
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse represents a simple message response
type MessageResponse struct {
	Message string `json:"message"`
}
