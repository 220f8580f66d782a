package transport

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/chunk"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/progress"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Field is a plain multipart form value.
type Field struct {
	Name  string
	Value string
}

// File is the file part of a multipart form.
type File struct {
	// Field is the form field name, "file" when empty
	Field string

	// Name is the filename sent in the part header
	Name string

	// ContentType of the part, detected from Data when empty
	ContentType string

	Data []byte
}

// Form is a fully buffered multipart body. Its length is known before sending.
type Form struct {
	Body        []byte
	ContentType string
}

// Len returns the body length.
func (f *Form) Len() int64 {
	return int64(len(f.Body))
}

// DetectContentType returns override when set, otherwise the media type sniffed from data.
func DetectContentType(data []byte, override string) string {
	if override != "" {
		return override
	}
	return mimetype.Detect(data).String()
}

// BuildForm encodes fields followed by file into a buffered multipart body.
func BuildForm(fields []Field, file File) (*Form, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", f.Name, err)
		}
	}

	fieldName := file.Field
	if fieldName == "" {
		fieldName = "file"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(fieldName), quoteEscaper.Replace(file.Name)))
	h.Set("Content-Type", DetectContentType(file.Data, file.ContentType))

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, fmt.Errorf("failed to write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	return &Form{
		Body:        buf.Bytes(),
		ContentType: w.FormDataContentType(),
	}, nil
}

// PostForm streams form to url frame by frame with an explicit Content-Length.
// onProgress receives the running byte count of the form body and may be nil.
func (c *Client) PostForm(
	ctx context.Context,
	op, url string,
	header http.Header,
	form *Form,
	frameSize int,
	onProgress func(sent, total int64),
) (*Response, error) {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", form.ContentType)

	frames := chunk.NewReader(form.Body, frameSize)
	defer func() {
		_ = frames.Close()
	}()

	return c.Do(ctx, Request{
		Op:            op,
		Method:        http.MethodPost,
		URL:           url,
		Header:        h,
		Body:          progress.NewReader(frames, frames.Len(), onProgress),
		ContentLength: frames.Len(),
	})
}
