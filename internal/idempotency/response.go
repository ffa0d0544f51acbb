package idempotency

import (
	"fmt"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
)

// HeaderPair is one response header. Repeated names are kept as separate
// pairs so replays preserve order and multiplicity.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Response is the stored outcome of a completed request.
type Response struct {
	StatusCode int
	Headers    []HeaderPair
	Body       []byte
}

// WriteTo writes r to the client unchanged.
func (r Response) WriteTo(c *gin.Context) {
	hdr := c.Writer.Header()
	for _, h := range r.Headers {
		hdr.Add(h.Name, h.Value)
	}
	c.Status(r.StatusCode)
	if len(r.Body) > 0 {
		_, _ = c.Writer.Write(r.Body)
	} else {
		c.Writer.WriteHeaderNow()
	}
}

func encodeHeaders(h []HeaderPair) ([]byte, error) {
	if h == nil {
		h = []HeaderPair{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode headers: %w", err)
	}
	return b, nil
}

func decodeHeaders(b []byte) ([]HeaderPair, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var h []HeaderPair
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	return h, nil
}
