// Package instrument describes the telescope handed to simulation operators:
// a named focal plane of detectors with their pointing offsets and noise
// properties.
//
// FakeHexagon builds a synthetic hexagonal focal plane for tests and
// end-to-end runs. Real instrument models implement the same types.
package instrument
