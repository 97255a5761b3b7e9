package server

// Response is what a handler or middleware hands back. At most one of
// Body, View and File is set; none produces a status line and headers only.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
	View    string // resolved against the writer's view root
	File    string // Content-Type is re-derived from the extension
}

// NewResponse returns an empty response with no headers.
func NewResponse(status int) *Response {
	return &Response{Status: status}
}

func JSON(body string) *Response {
	return &Response{
		Status:  200,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(body),
	}
}

func Text(body string) *Response {
	return &Response{
		Status:  200,
		Headers: map[string]string{"Content-Type": "text/plain"},
		Body:    []byte(body),
	}
}

func View(name string) *Response {
	return &Response{
		Status:  200,
		Headers: map[string]string{"Content-Type": "text/html"},
		View:    name,
	}
}

func File(path string) *Response {
	return &Response{
		Status:  200,
		Headers: map[string]string{"Content-Type": "text/html"},
		File:    path,
	}
}

func (r *Response) WithStatus(status int) *Response {
	r.Status = status
	return r
}

func (r *Response) WithHeader(key, value string) *Response {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
	return r
}

// WithBody replaces whatever content source was set with body.
func (r *Response) WithBody(body []byte) *Response {
	if body == nil {
		body = []byte{}
	}
	r.Body = body
	r.View = ""
	r.File = ""
	return r
}
