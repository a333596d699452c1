// Package validation checks sanitized menu items and a few auxiliary
// input formats (email, URL, bearer token).
//
// ValidateMenuItem evaluates every rule and accumulates all failures in rule
// order, so a caller can display the complete list at once.
package validation

import (
	"fmt"
	"html"
	"math"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/zinacoffee/menuguard/internal/util"
)

const (
	MinNameLength        = 2
	MaxNameLength        = 100
	MinPrice             = 0
	MaxPrice             = 1000
	MaxDescriptionLength = 500
	MaxImageLength       = 2000
	MaxEmailLength       = 254

	// DataImagePrefix is the accepted inline image data URI prefix
	DataImagePrefix = "data:image/"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// Categories lists the accepted menu categories, compared case-insensitively
var Categories = []string{"café", "thé", "pâtisserie", "snack", "boisson"}

var (
	emailPattern       = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	bearerTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`)
)

// Result is the outcome of ValidateMenuItem
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ValidateMenuItem checks a sanitized menu item. Rules run in the order
// name, price, category, description, image, available.
func ValidateMenuItem(item map[string]any) Result {
	var errs []string

	errs = append(errs, validateName(item)...)
	errs = append(errs, validatePrice(item)...)
	errs = append(errs, validateCategory(item)...)
	errs = append(errs, validateDescription(item)...)
	errs = append(errs, validateImage(item)...)
	errs = append(errs, validateAvailable(item)...)

	if errs == nil {
		errs = []string{}
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

func validateName(item map[string]any) []string {
	name, ok := item["name"].(string)
	if !ok || name == "" {
		return []string{"name is required"}
	}
	if n := util.RuneLength(name); n < MinNameLength || n > MaxNameLength {
		return []string{fmt.Sprintf("name must be between %d and %d characters", MinNameLength, MaxNameLength)}
	}
	return nil
}

func validatePrice(item map[string]any) []string {
	raw, present := item["price"]
	if !present || raw == nil {
		return []string{"price is required"}
	}
	price, ok := util.ToFloat64(raw)
	if !ok || math.IsNaN(price) || math.IsInf(price, 0) {
		return []string{"price must be a valid number"}
	}
	if price < MinPrice || price > MaxPrice {
		return []string{fmt.Sprintf("price must be between %d and %d", MinPrice, MaxPrice)}
	}
	return nil
}

func validateCategory(item map[string]any) []string {
	category, _ := item["category"].(string)
	if category == "" || !slices.Contains(Categories, strings.ToLower(category)) {
		return []string{"category must be one of: " + strings.Join(Categories, ", ")}
	}
	return nil
}

func validateDescription(item map[string]any) []string {
	description, ok := item["description"].(string)
	if !ok || description == "" {
		return []string{"description is required"}
	}
	if util.RuneLength(description) > MaxDescriptionLength {
		return []string{fmt.Sprintf("description cannot exceed %d characters", MaxDescriptionLength)}
	}
	return nil
}

// validateImage accepts an absent or empty image. Values are unescaped first
// since sanitization encodes the slashes of a URL.
func validateImage(item map[string]any) []string {
	image, ok := item["image"].(string)
	if !ok || image == "" {
		return nil
	}
	image = html.UnescapeString(image)

	var errs []string
	if util.RuneLength(image) > MaxImageLength {
		errs = append(errs, "image URL is too long")
	}
	if !IsValidURL(image) && !strings.HasPrefix(image, DataImagePrefix) {
		errs = append(errs, "image must be a valid URL or data URI")
	}
	return errs
}

func validateAvailable(item map[string]any) []string {
	v, present := item["available"]
	if !present {
		return nil
	}
	if _, ok := v.(bool); !ok {
		return []string{"available must be a boolean"}
	}
	return nil
}

// IsValidEmail reports whether email looks like local@domain.tld
func IsValidEmail(email string) bool {
	return len(email) <= MaxEmailLength && emailPattern.MatchString(email)
}

// IsValidURL reports whether raw is an absolute http or https URL with a host
func IsValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == SchemeHTTP || u.Scheme == SchemeHTTPS) && u.Host != ""
}

// ValidateLength checks that value has between minLen and maxLen characters.
// field names the value in the returned error.
func ValidateLength(value string, minLen, maxLen int, field string) error {
	if field == "" {
		field = "field"
	}
	n := util.RuneLength(value)
	if n < minLen {
		return fmt.Errorf("%s is too short (min: %d)", field, minLen)
	}
	if n > maxLen {
		return fmt.Errorf("%s is too long (max: %d)", field, maxLen)
	}
	return nil
}

// IsWellFormedBearerToken reports whether token has the header.payload.signature
// shape of a JWT. It does not verify anything.
func IsWellFormedBearerToken(token string) bool {
	return bearerTokenPattern.MatchString(token)
}
