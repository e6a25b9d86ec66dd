package request

// Kind tells how a Raw call is sent and which scheduler lane it uses.
type Kind int

const (
	// KindAPI is a method call against the API host. It goes through the serial lane.
	KindAPI Kind = iota
	// KindURL fetches an absolute URL as is.
	KindURL
	// KindUpload posts media to an upload URL as multipart/form-data.
	KindUpload
)

func (k Kind) String() string {
	switch k {
	case KindAPI:
		return "api"
	case KindURL:
		return "url"
	case KindUpload:
		return "upload"
	default:
		return "unknown"
	}
}

// Parameters are API method arguments.
type Parameters map[string]string

// Media is one file of an upload.
type Media struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Raw is an opaque description of a call. Build one with API, URL or Upload.
type Raw struct {
	kind   Kind
	method string
	params Parameters
	url    string
	media  []Media
}

// API describes a call of an API method such as "users.get".
func API(method string, params Parameters) Raw {
	cp := make(Parameters, len(params))
	for k, v := range params {
		cp[k] = v
	}
	return Raw{kind: KindAPI, method: method, params: cp}
}

// URL describes a plain fetch of an absolute URL.
func URL(url string) Raw {
	return Raw{kind: KindURL, url: url}
}

// Upload describes a multipart upload of media to url.
func Upload(url string, media ...Media) Raw {
	return Raw{kind: KindUpload, url: url, media: append([]Media(nil), media...)}
}

func (r Raw) Kind() Kind { return r.kind }

// Method returns the API method name for KindAPI.
func (r Raw) Method() string { return r.method }

// Params returns a copy of the API parameters.
func (r Raw) Params() Parameters {
	cp := make(Parameters, len(r.params))
	for k, v := range r.params {
		cp[k] = v
	}
	return cp
}

// Target returns the absolute URL for KindURL and KindUpload.
func (r Raw) Target() string { return r.url }

func (r Raw) Media() []Media { return r.media }

// Concurrent reports whether the call bypasses the rate limited lane.
func (r Raw) Concurrent() bool { return r.kind != KindAPI }

// String names the call for logs.
func (r Raw) String() string {
	if r.kind == KindAPI {
		return r.method
	}
	return r.kind.String()
}
