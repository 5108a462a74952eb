package http

import "bytes"

// Method is a parsed request method.
type Method uint8

// Methods
const (
	MethodCustom Method = iota
	MethodGet
	MethodHead
	MethodPost
	MethodPut
	MethodDelete
	MethodConnect
	MethodOptions
	MethodTrace
	MethodPatch
)

var methodNames = [...]string{
	MethodCustom:  "",
	MethodGet:     "GET",
	MethodHead:    "HEAD",
	MethodPost:    "POST",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodConnect: "CONNECT",
	MethodOptions: "OPTIONS",
	MethodTrace:   "TRACE",
	MethodPatch:   "PATCH",
}

// String returns the canonical token, or "" for MethodCustom.
func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return ""
}

// ParseMethod maps a method token to a known Method. Unknown tokens map to
// MethodCustom; the caller keeps the token bytes.
func ParseMethod(token []byte) Method {
	switch len(token) {
	case 3:
		if bytes.Equal(token, []byte("GET")) {
			return MethodGet
		}
		if bytes.Equal(token, []byte("PUT")) {
			return MethodPut
		}
	case 4:
		if bytes.Equal(token, []byte("POST")) {
			return MethodPost
		}
		if bytes.Equal(token, []byte("HEAD")) {
			return MethodHead
		}
	case 5:
		if bytes.Equal(token, []byte("PATCH")) {
			return MethodPatch
		}
		if bytes.Equal(token, []byte("TRACE")) {
			return MethodTrace
		}
	case 6:
		if bytes.Equal(token, []byte("DELETE")) {
			return MethodDelete
		}
	case 7:
		if bytes.Equal(token, []byte("OPTIONS")) {
			return MethodOptions
		}
		if bytes.Equal(token, []byte("CONNECT")) {
			return MethodConnect
		}
	}
	return MethodCustom
}
