package otel

import (
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// endpointExcluder drops spans for health style routes so probes do not
// flood the exporter, and delegates everything else to a ratio sampler.
type endpointExcluder struct {
	endpoints   map[string]struct{}
	probability float64
}

func newEndpointExcluder(endpoints map[string]struct{}, probability float64) endpointExcluder {
	return endpointExcluder{
		endpoints:   endpoints,
		probability: probability,
	}
}

// routeKeys are the attribute keys HTTP instrumentation uses for the request path.
var routeKeys = map[attribute.Key]struct{}{
	"url.path":    {},
	"http.target": {},
	"http.route":  {},
}

// ShouldSample implements the sampler interface. It prevents the specified
// endpoints from being added to the trace.
func (ee endpointExcluder) ShouldSample(parameters sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if _, ok := ee.endpoints[parameters.Name]; ok {
		return sdktrace.SamplingResult{Decision: sdktrace.Drop}
	}
	for _, attr := range parameters.Attributes {
		if _, ok := routeKeys[attr.Key]; !ok {
			continue
		}
		if _, ok := ee.endpoints[attr.Value.AsString()]; ok {
			return sdktrace.SamplingResult{Decision: sdktrace.Drop}
		}
	}

	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ee.probability)).ShouldSample(parameters)
}

// Description implements the sampler interface.
func (endpointExcluder) Description() string {
	return "customSampler"
}
