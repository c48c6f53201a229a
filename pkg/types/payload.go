package types

// Content types understood by OTLP/HTTP receivers.
const (
	ContentTypeProtobuf = "application/x-protobuf"
	ContentTypeJSON     = "application/json"
)

// Payload is one encoded ExportMetricsServiceRequest ready to be pushed.
type Payload struct {
	Body        []byte
	ContentType string

	// Points is the number of data points carried by Body.
	Points int
}

// IsProtobuf reports whether the payload carries the binary OTLP encoding.
func (p Payload) IsProtobuf() bool {
	return p.ContentType == ContentTypeProtobuf
}
