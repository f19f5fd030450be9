package hedgehttp

import (
	"bytes"
	"io"
	"net/http"

	"github.com/tailhedge/hedge"
)

// newContentSource is the hedge.Engine's content-source factory for the streamed HTTP variant (spec §2 "Streamed
// HTTP variant uses a response duplicator"). For a content-aware Config it reads up to maxContentLength bytes of the
// response body into a buffer, hands a read-only preview built from that buffer to the rule, and splices the buffer
// back in front of the real response body so the eventual caller still observes the complete, unmodified stream. For
// a non-content-aware Config (maxContentLength<=0) it skips duplication entirely.
func newContentSource(resp *Response, maxContentLength int) hedge.ContentSource[*Response] {
	if resp == nil || resp.Body == nil || maxContentLength <= 0 {
		return hedge.StaticContent(resp)
	}

	orig := resp.Body
	buf, err := io.ReadAll(io.LimitReader(orig, int64(maxContentLength)))
	if err != nil {
		// The body is unreadable; let the rule see the response with no preview rather than fail the attempt.
		return hedge.StaticContent(resp)
	}

	header := *resp.Response

	resp.Body = &prefixBody{r: io.MultiReader(bytes.NewReader(buf), orig), c: orig}

	return &contentSource{header: header, buf: buf}
}

type contentSource struct {
	header http.Response
	buf    []byte
}

// View returns a fresh preview on every call, each with its own reader over the buffered prefix, so every composed
// rule can read the preview body in full.
func (s *contentSource) View() *Response {
	preview := s.header
	preview.Body = io.NopCloser(bytes.NewReader(s.buf))
	return &Response{Response: &preview}
}

// Abort is a no-op: every preview body is an in-memory reader. The real response's body is independent and is
// released separately, either by the caller reading it to completion or by Response.Abort when the attempt loses the
// race.
func (s *contentSource) Abort(_ error) {}

// prefixBody replays a buffered prefix read for rule preview, then continues reading from the original body.
type prefixBody struct {
	r io.Reader
	c io.Closer
}

func (p *prefixBody) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *prefixBody) Close() error                { return p.c.Close() }
