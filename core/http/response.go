package http

// ServerName is the fixed Server header value.
const ServerName = "fast-bench"

// Status is one of the response statuses the engine composes itself.
type Status uint8

// Statuses
const (
	StatusOK Status = iota
	StatusBadRequest
	StatusNotFound
	StatusSwitchingProtocols
)

var statusLines = [...][]byte{
	StatusOK:                 []byte("HTTP/1.1 200 OK\r\n"),
	StatusBadRequest:         []byte("HTTP/1.1 400 Bad Request\r\n"),
	StatusNotFound:           []byte("HTTP/1.1 404 Not Found\r\n"),
	StatusSwitchingProtocols: []byte("HTTP/1.1 101 Switching Protocols\r\n"),
}

var statusCodes = [...]int{
	StatusOK:                 200,
	StatusBadRequest:         400,
	StatusNotFound:           404,
	StatusSwitchingProtocols: 101,
}

// Code returns the numeric status code.
func (s Status) Code() int { return statusCodes[s] }

// MediaType selects the Content-Type line of a response.
type MediaType uint8

// Media types
const (
	MediaNone MediaType = iota
	MediaTextPlain
	MediaJSON
)

var contentTypeLines = [...][]byte{
	MediaNone:      nil,
	MediaTextPlain: []byte("Content-Type: text/plain\r\n"),
	MediaJSON:      []byte("Content-Type: application/json\r\n"),
}

var (
	serverLine          = []byte("Server: " + ServerName + "\r\n")
	contentLengthPrefix = []byte("Content-Length: ")
	keepAliveLine       = []byte("Connection: keep-alive\r\n")
	crlf                = []byte("\r\n")
)

// WriteResponse composes a complete response into w: status line, Server,
// Date, Content-Type (non-empty bodies only), Content-Length, the optional
// keep-alive header, a blank line and the body.
func WriteResponse(w *BufferWriter, dates *DateCache, status Status, media MediaType, body []byte, keepAlive bool) {
	WriteHead(w, dates, status, media, len(body), keepAlive)
	w.Write(body)
}

// WriteHead writes the head of a response whose body of contentLength bytes
// the caller streams into w afterwards.
func WriteHead(w *BufferWriter, dates *DateCache, status Status, media MediaType, contentLength int, keepAlive bool) {
	w.Write(statusLines[status])
	w.Write(serverLine)
	w.Write(dates.Line())
	if contentLength > 0 {
		w.Write(contentTypeLines[media])
	}
	w.Write(contentLengthPrefix)
	w.WriteNumeric(uint64(contentLength))
	w.Write(crlf)
	if keepAlive {
		w.Write(keepAliveLine)
	}
	w.Write(crlf)
}
