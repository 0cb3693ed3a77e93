package sentry

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Category groups events for rate-limit and client-report accounting.
type Category string

const (
	CategoryAll          Category = "all"
	CategoryError        Category = "error"
	CategoryTransaction  Category = "transaction"
	CategorySpan         Category = "span"
	CategorySession      Category = "session"
	CategoryAttachment   Category = "attachment"
	CategoryMetricBucket Category = "metric_bucket"
)

// RateLimits maps a category to the time until which it is rate-limited. The special key CategoryAll applies to every category.
type RateLimits map[Category]time.Time

// IsRateLimited reports whether category is currently rate-limited, i.e.
// now < max(limits[category], limits[all]).
func (r RateLimits) IsRateLimited(category Category) bool {
	return r.deadline(category).After(now())
}

func (r RateLimits) deadline(category Category) time.Time {
	deadline := r[category]
	if all := r[CategoryAll]; all.After(deadline) {
		deadline = all
	}
	return deadline
}

const defaultRetryAfter = 60 * time.Second

// updateFromResponse merges rate-limit information parsed out of an HTTP
// response into r.
func (r RateLimits) updateFromResponse(response *http.Response) RateLimits {
	if response == nil {
		return r
	}
	if header := response.Header.Get("X-Sentry-Rate-Limits"); header != "" {
		return r.mergeHeader(header)
	}
	if header := response.Header.Get("Retry-After"); header != "" {
		return r.mergeRetryAfter(header, CategoryAll)
	}
	if response.StatusCode == http.StatusTooManyRequests {
		return r.mergeDeadline(CategoryAll, now().Add(defaultRetryAfter))
	}
	return r
}

// mergeHeader parses the X-Sentry-Rate-Limits header:
//
//	retryAfterSec:categories;categories...:scope:reasonCode:namespaces;namespaces...,...
//
// Entries are comma-separated; categories/namespaces within an entry are
// semicolon-separated. Category metric_bucket only applies when namespaces is
// empty or includes "custom". Empty categories means "apply to all".
func (r RateLimits) mergeHeader(header string) RateLimits {
	for _, entry := range strings.Split(header, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ":")
		if len(fields) < 2 {
			continue
		}
		retryAfterSec, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			continue
		}
		deadline := now().Add(time.Duration(retryAfterSec * float64(time.Second)))

		var namespaces []string
		if len(fields) >= 5 && fields[4] != "" {
			namespaces = strings.Split(fields[4], ";")
		}

		categoriesField := strings.TrimSpace(fields[1])
		if categoriesField == "" {
			r = r.mergeDeadline(CategoryAll, deadline)
			continue
		}
		for _, cat := range strings.Split(categoriesField, ";") {
			cat = strings.TrimSpace(cat)
			if cat == "" {
				continue
			}
			category := Category(cat)
			if category == CategoryMetricBucket && len(namespaces) > 0 && !containsString(namespaces, "custom") {
				continue
			}
			r = r.mergeDeadline(category, deadline)
		}
	}
	return r
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// mergeRetryAfter parses a Retry-After header, either a whole number of
// seconds or an HTTP-date, and applies it to category.
func (r RateLimits) mergeRetryAfter(header string, category Category) RateLimits {
	header = strings.TrimSpace(header)
	if secs, err := strconv.Atoi(header); err == nil {
		return r.mergeDeadline(category, now().Add(time.Duration(secs)*time.Second))
	}
	if t, err := http.ParseTime(header); err == nil {
		return r.mergeDeadline(category, t)
	}
	return r.mergeDeadline(category, now().Add(defaultRetryAfter))
}

func (r RateLimits) mergeDeadline(category Category, deadline time.Time) RateLimits {
	if r == nil {
		r = RateLimits{}
	}
	if existing, ok := r[category]; !ok || deadline.After(existing) {
		r[category] = deadline
	}
	return r
}
