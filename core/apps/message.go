package apps

import (
	"github.com/mailru/easyjson/jwriter"

	"github.com/searchktools/fast-bench/core/http"
)

// Message is the JSON benchmark payload.
type Message struct {
	Message string `json:"message"`
}

// MarshalEasyJSON supports easyjson.Marshaler interface
func (v *Message) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawByte('{')
	out.RawString(`"message":`)
	out.String(v.Message)
	out.RawByte('}')
}

// MarshalJSON supports json.Marshaler interface
func (v Message) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	v.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

var hello = Message{Message: "Hello, World!"}

var plaintextBody = []byte("Hello, World!")

// writePlaintext composes the plaintext benchmark response.
func writePlaintext(c *http.Conn) {
	http.WriteResponse(c.Response(), c.Dates(), http.StatusOK, http.MediaTextPlain, plaintextBody, c.KeepAlive())
}

// writeJSON serializes the message straight into the response buffer.
func writeJSON(c *http.Conn) error {
	var jw jwriter.Writer
	hello.MarshalEasyJSON(&jw)
	if jw.Error != nil {
		return jw.Error
	}

	w := c.Response()
	http.WriteHead(w, c.Dates(), http.StatusOK, http.MediaJSON, jw.Size(), c.KeepAlive())
	_, err := jw.DumpTo(w)
	return err
}

// writeStatus composes a bodyless response.
func writeStatus(c *http.Conn, status http.Status) {
	http.WriteResponse(c.Response(), c.Dates(), status, http.MediaNone, nil, c.KeepAlive())
}
