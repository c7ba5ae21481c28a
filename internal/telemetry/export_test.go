package telemetry

var SamplerForTest = sampler
