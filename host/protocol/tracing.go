package protocol

import (
	"bytes"

	"github.com/opentracing/opentracing-go"
)

// spanContextToBinary and spanContextFromBinary stand in for the teacher's
// common/tracing helpers (not part of this dependency set): they use
// opentracing-go's own Binary carrier format directly against the global
// tracer, which is exactly what SpanContextToBinary/FromBinary do
// internally.
func spanContextToBinary(sc opentracing.SpanContext) ([]byte, error) {
	var buf bytes.Buffer
	if err := opentracing.GlobalTracer().Inject(sc, opentracing.Binary, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func spanContextFromBinary(data []byte) (opentracing.SpanContext, error) {
	return opentracing.GlobalTracer().Extract(opentracing.Binary, bytes.NewReader(data))
}
