// Package harfile implements the HAR 1.2 archive shape netwatch writes one
// REST transaction into per entry, grounded on the standard HAR 1.2 struct
// layout, plus two custom extensions: Content._file (a saved body's path
// relative to the archive base) and Response._redacted (set when secret
// redaction is enabled).
//
// httpVersion is hard-coded to "HTTP/2.0" throughout: the opaque
// NavigationHost interface this module captures from never exposes the
// real negotiated protocol version, so this is a known limitation rather
// than a detected value.
package harfile

import "time"

const httpVersion = "HTTP/2.0"

// Archive is the root HAR object.
type Archive struct {
	Log Log `json:"log"`
}

// Log is the top-level HAR log container.
type Log struct {
	Version string  `json:"version"`
	Creator Creator `json:"creator"`
	Pages   []Page  `json:"pages"`
	Entries []Entry `json:"entries"`
}

// Creator identifies the tool that produced the archive.
type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Page is the single page netwatch creates per capture session.
type Page struct {
	StartedDateTime time.Time   `json:"startedDateTime"`
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	PageTimings     PageTimings `json:"pageTimings"`
}

// PageTimings is left empty — netwatch has no page-load-event source.
type PageTimings struct {
	OnContentLoad float64 `json:"onContentLoad,omitempty"`
	OnLoad        float64 `json:"onLoad,omitempty"`
}

// Entry is one REST request/response pair.
type Entry struct {
	Pageref         string   `json:"pageref,omitempty"`
	StartedDateTime time.Time `json:"startedDateTime"`
	Time            float64  `json:"time"`
	Request         Request  `json:"request"`
	Response        Response `json:"response"`
	Cache           Cache    `json:"cache"`
	Timings         Timings  `json:"timings"`
}

// Request mirrors the HAR 1.2 request object.
type Request struct {
	Method      string          `json:"method"`
	URL         string          `json:"url"`
	HTTPVersion string          `json:"httpVersion"`
	Cookies     []Cookie        `json:"cookies"`
	Headers     []NameValuePair `json:"headers"`
	QueryString []NameValuePair `json:"queryString"`
	PostData    *PostData       `json:"postData,omitempty"`
	HeadersSize int64           `json:"headersSize"`
	BodySize    int64           `json:"bodySize"`
}

// Response mirrors the HAR 1.2 response object, plus the _redacted
// extension.
type Response struct {
	Status      int             `json:"status"`
	StatusText  string          `json:"statusText"`
	HTTPVersion string          `json:"httpVersion"`
	Cookies     []Cookie        `json:"cookies"`
	Headers     []NameValuePair `json:"headers"`
	Content     Content         `json:"content"`
	RedirectURL string          `json:"redirectURL"`
	HeadersSize int64           `json:"headersSize"`
	BodySize    int64           `json:"bodySize"`
	Redacted    bool            `json:"_redacted,omitempty"`
}

// Cookie mirrors the HAR 1.2 cookie object.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Path     string `json:"path,omitempty"`
	Domain   string `json:"domain,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
}

// NameValuePair is the generic HAR name/value pair used for headers and
// query strings.
type NameValuePair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PostData mirrors the HAR 1.2 postData object.
type PostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
}

// Content mirrors the HAR 1.2 content object, plus the _file extension.
type Content struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
	File     string `json:"_file,omitempty"`
}

// Cache mirrors the HAR 1.2 cache object; netwatch never populates it.
type Cache struct{}

// Timings mirrors the HAR 1.2 timings object. Missing timings are
// rendered as zero rather than omitted or null, per spec.md §6.
type Timings struct {
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

// NewArchive constructs an archive with a single page started at
// pageStart.
func NewArchive(pageStart time.Time, title string) *Archive {
	return &Archive{
		Log: Log{
			Version: "1.2",
			Creator: Creator{Name: "netwatch", Version: "1"},
			Pages: []Page{{
				StartedDateTime: pageStart,
				ID:              "page_1",
				Title:           title,
			}},
			Entries: []Entry{},
		},
	}
}

// AddEntry appends entry to the archive's single page.
func (a *Archive) AddEntry(entry Entry) {
	entry.Pageref = a.Log.Pages[0].ID
	entry.Request.HTTPVersion = httpVersion
	entry.Response.HTTPVersion = httpVersion
	a.Log.Entries = append(a.Log.Entries, entry)
}

// HeadersToPairs converts a filtered header map into the HAR
// name/value-pair list shape.
func HeadersToPairs(headers map[string]string) []NameValuePair {
	pairs := make([]NameValuePair, 0, len(headers))
	for name, value := range headers {
		pairs = append(pairs, NameValuePair{Name: name, Value: value})
	}
	return pairs
}

// QueryToPairs converts a parsed query mapping into the HAR
// name/value-pair list shape.
func QueryToPairs(query map[string][]string) []NameValuePair {
	pairs := make([]NameValuePair, 0, len(query))
	for name, values := range query {
		for _, v := range values {
			pairs = append(pairs, NameValuePair{Name: name, Value: v})
		}
	}
	return pairs
}
