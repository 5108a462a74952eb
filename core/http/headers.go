package http

// ResponseHeaders is a reusable header object. Responders fill its fields
// and CopyTo serializes them in the same order as WriteHead.
type ResponseHeaders struct {
	Status        Status
	Server        string
	Date          []byte
	ContentType   MediaType
	ContentLength int
	KeepAlive     bool
}

// Reset clears every field except Server.
func (h *ResponseHeaders) Reset() {
	server := h.Server
	*h = ResponseHeaders{Server: server}
}

// CopyTo writes the header block, including the terminating blank line.
func (h *ResponseHeaders) CopyTo(w *BufferWriter) {
	w.Write(statusLines[h.Status])
	if h.Server != "" {
		w.WriteString("Server: ")
		w.WriteString(h.Server)
		w.Write(crlf)
	}
	if len(h.Date) > 0 {
		w.WriteString("Date: ")
		w.Write(h.Date)
		w.Write(crlf)
	}
	if h.ContentLength > 0 {
		w.Write(contentTypeLines[h.ContentType])
	}
	w.Write(contentLengthPrefix)
	w.WriteNumeric(uint64(h.ContentLength))
	w.Write(crlf)
	if h.KeepAlive {
		w.Write(keepAliveLine)
	}
	w.Write(crlf)
}
