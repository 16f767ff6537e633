package aggregator

import (
	"encoding/json"
	"regexp"
	"strings"
)

// uuidPattern matches a canonical UUID v4-shaped string (any version
// digit, matching the teacher's url_normalizer.go rule, which also
// accepts any hex digit in the version position).
var uuidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

var longDigitRun = regexp.MustCompile(`\d{8,}`)
var digitRun = regexp.MustCompile(`\d+`)
var isoDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?)?`)

// ComputeRouteKey applies the four normalization steps from spec.md §4.2,
// in order: UUID -> :uuid, 8+-digit run -> :long, ISO-8601-like date/time
// -> :date, remaining digit run -> :id. The date pattern has to run
// before the generic digit-run replacement: a plain YYYY-MM-DD date's
// individual groups are each under the 8-digit threshold, so the digit
// run pattern would otherwise consume them first and leave nothing for
// the date pattern to match. Grounded on internal/utils/url_normalizer.go's
// regex-table approach, simplified to the spec's fixed four-step order
// rather than a priority table.
func ComputeRouteKey(path string) string {
	out := uuidPattern.ReplaceAllString(path, ":uuid")
	out = longDigitRun.ReplaceAllString(out, ":long")
	out = isoDatePattern.ReplaceAllString(out, ":date")
	out = digitRun.ReplaceAllString(out, ":id")
	return out
}

// rpcOperationName inspects a JSON-over-HTTP RPC body (GraphQL-shaped:
// {"operationName": "...", ...} or Apollo persisted-query extensions) for
// an operation identifier to append to the route key, per spec.md §4.2.
// Returns "" if none is found or the body/content-type doesn't look like
// an RPC-over-HTTP call.
func rpcOperationName(contentType string, bodyText string) string {
	if bodyText == "" || !strings.Contains(contentType, "json") {
		return ""
	}

	var payload struct {
		OperationName string `json:"operationName"`
		Extensions    struct {
			PersistedQuery struct {
				Sha256Hash string `json:"sha256Hash"`
			} `json:"persistedQuery"`
		} `json:"extensions"`
	}
	if err := json.Unmarshal([]byte(bodyText), &payload); err != nil {
		return ""
	}

	if payload.OperationName != "" {
		return "#" + payload.OperationName
	}
	if hash := payload.Extensions.PersistedQuery.Sha256Hash; len(hash) >= 8 {
		return "#persisted:" + hash[:8]
	}
	return ""
}
