package orchestrator

import "strings"

// OriginRule maps a location prefix to an upstream scheme and URL list. Rules
// come from configuration and are matched in their configured order.
type OriginRule struct {
	Location string   `json:"location"`
	Scheme   string   `json:"scheme"`
	URLs     []string `json:"urls"`
}

// origin is the immutable internal form of a rule, built once per rebuild and
// shared read-only afterwards.
type origin struct {
	location string
	scheme   string
	urls     []string
}

// SetOrigins atomically replaces the whole origin map with a fresh
// configuration snapshot. There is deliberately no incremental update: a full
// replace avoids reasoning about partially applied reloads.
func (o *Orchestrator) SetOrigins(rules []OriginRule) {
	origins := make([]origin, 0, len(rules))
	for _, rule := range rules {
		origins = append(origins, origin{
			location: rule.Location,
			scheme:   strings.ToLower(strings.TrimSpace(rule.Scheme)),
			urls:     append([]string(nil), rule.URLs...),
		})
	}

	o.originsMu.Lock()
	o.origins = origins
	o.originsMu.Unlock()

	o.logger.Debug("origin map rebuilt", "rules", len(origins))
}

// Origins returns a copy of the current origin rules in their configured
// order.
func (o *Orchestrator) Origins() []OriginRule {
	o.originsMu.Lock()
	defer o.originsMu.Unlock()

	rules := make([]OriginRule, 0, len(o.origins))
	for _, ogn := range o.origins {
		rules = append(rules, OriginRule{
			Location: ogn.location,
			Scheme:   ogn.scheme,
			URLs:     append([]string(nil), ogn.urls...),
		})
	}
	return rules
}

// resolveOriginLocked finds the first rule whose location is a literal prefix
// of "/app/stream" and rewrites its URL list by appending the remaining path
// suffix. First match wins: with overlapping prefixes the configuration order
// is the tie-break authority, so resolution is order-sensitive on purpose.
// Callers must hold originsMu.
func (o *Orchestrator) resolveOriginLocked(appName, streamName string) (origin, []string, bool) {
	location := "/" + appName + "/" + streamName

	for _, ogn := range o.origins {
		if !strings.HasPrefix(location, ogn.location) {
			continue
		}

		// With a rule for /app/stream and a request for /app/stream_o,
		// the remaining part "_o" is appended to every upstream URL.
		remaining := location[len(ogn.location):]

		urls := make([]string, 0, len(ogn.urls))
		for _, url := range ogn.urls {
			urls = append(urls, ogn.scheme+"://"+url+remaining)
		}
		if len(urls) == 0 {
			// A usable rule always carries at least one URL; treat a
			// misconfigured rule as no match rather than pulling from
			// nowhere.
			return origin{}, nil, false
		}
		return ogn, urls, true
	}

	return origin{}, nil, false
}
